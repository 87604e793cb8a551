// Package selector picks the default stream set from a sorted
// MasterPlaylist and, unless skip_prompts is set, lets the user adjust the
// selection interactively (§4.B).
package selector

import (
	"fmt"

	"github.com/jmylchreest/vsdl/internal/config"
	"github.com/jmylchreest/vsdl/internal/engineerr"
	"github.com/jmylchreest/vsdl/internal/playlist"
	"github.com/jmylchreest/vsdl/internal/selector/prompt"
)

// Options configures Select.
type Options struct {
	Quality      config.QualityPolicy
	SkipPrompts  bool
	RawPrompts   bool
}

// Result is the chosen stream set, grouped the way the orchestrator
// consumes it: video/audio streams download in parallel (one at a time,
// §5), subtitle streams download sequentially.
type Result struct {
	VideoAudio []*playlist.MediaPlaylist
	Subtitles  []*playlist.MediaPlaylist
}

// Select applies quality to pick a default video stream, defaults the
// first audio and first subtitle stream, then — unless SkipPrompts — asks
// the user to confirm or adjust the selection via internal/selector/prompt.
// master.Streams must already be sorted (internal/playlist.SortStreams).
func Select(master *playlist.MasterPlaylist, opts Options) (*Result, error) {
	var video, audio, subs []*playlist.MediaPlaylist
	for _, s := range master.Streams {
		switch s.MediaKind {
		case playlist.Video:
			video = append(video, s)
		case playlist.Audio:
			audio = append(audio, s)
		case playlist.Subtitles:
			subs = append(subs, s)
		}
	}

	defaultVideo, err := defaultVideoStream(video, opts.Quality)
	if err != nil {
		return nil, err
	}

	var defaultAudio, defaultSubs *playlist.MediaPlaylist
	if len(audio) > 0 {
		defaultAudio = audio[0]
	}
	if len(subs) > 0 {
		defaultSubs = subs[0]
	}

	if opts.SkipPrompts {
		result := &Result{}
		if defaultVideo != nil {
			result.VideoAudio = append(result.VideoAudio, defaultVideo)
		}
		if defaultAudio != nil {
			result.VideoAudio = append(result.VideoAudio, defaultAudio)
		}
		if defaultSubs != nil {
			result.Subtitles = append(result.Subtitles, defaultSubs)
		}
		return result, nil
	}

	chosen, err := prompt.Select(prompt.Request{
		Video:          video,
		Audio:          audio,
		Subtitles:      subs,
		DefaultVideo:   defaultVideo,
		DefaultAudio:   defaultAudio,
		DefaultSubs:    defaultSubs,
		RawPrompts:     opts.RawPrompts,
	})
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for _, s := range chosen {
		if s.MediaKind == playlist.Subtitles {
			result.Subtitles = append(result.Subtitles, s)
		} else {
			result.VideoAudio = append(result.VideoAudio, s)
		}
	}
	return result, nil
}

// defaultVideoStream picks the default video stream per the Quality
// policy (§4.B). video must already be sorted descending by pixels then
// bandwidth.
func defaultVideoStream(video []*playlist.MediaPlaylist, q config.QualityPolicy) (*playlist.MediaPlaylist, error) {
	if len(video) == 0 {
		return nil, nil
	}

	switch q.Kind {
	case config.QualityLowest:
		return video[len(video)-1], nil
	case config.QualityHighest, config.QualitySelectLater:
		return video[0], nil
	case config.QualityResolution:
		for _, s := range video {
			if s.HasResolution(q.Width, q.Height) {
				return s, nil
			}
		}
		return nil, fmt.Errorf("%w: no stream matches resolution %dx%d", engineerr.ErrNoMatchingQuality, q.Width, q.Height)
	default:
		return video[0], nil
	}
}
