// Package hls adapts github.com/mogiioin/hls-m3u8 into the normalized
// internal/playlist model.
package hls

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmylchreest/vsdl/internal/playlist"
	"github.com/mogiioin/hls-m3u8/m3u8"
)

// Fetcher retrieves the bytes of a resolved playlist URL (a media playlist
// referenced by a master's Variant or Alternative). The orchestrator wires
// this to internal/fetcher so nested playlist fetches share the same HTTP
// client, retry policy, and circuit breaker as segment/key fetches.
type Fetcher func(ctx context.Context, absoluteURL string) ([]byte, error)

// Parse parses HLS manifest bytes (master or plain media playlist) into the
// normalized MasterPlaylist model, following variant and alternate-rendition
// references via fetch to build each stream's full segment list.
func Parse(ctx context.Context, data []byte, baseURI string, fetch Fetcher) (*playlist.MasterPlaylist, error) {
	pl, listType, err := m3u8.DecodeFrom(bytes.NewReader(data), false)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding hls playlist: %v", playlist.ErrInvalidURL, err)
	}

	master := &playlist.MasterPlaylist{Kind: playlist.Hls, BaseURI: baseURI}

	switch listType {
	case m3u8.MEDIA:
		mpl := pl.(*m3u8.MediaPlaylist)
		stream, err := convertMediaPlaylist(playlist.Video, mpl, baseURI)
		if err != nil {
			return nil, err
		}
		master.Streams = append(master.Streams, stream)
		return master, nil

	case m3u8.MASTER:
		mp := pl.(*m3u8.MasterPlaylist)
		return parseMaster(ctx, mp, baseURI, fetch)

	default:
		return nil, fmt.Errorf("%w: unrecognized hls playlist type", playlist.ErrInvalidURL)
	}
}

func parseMaster(ctx context.Context, mp *m3u8.MasterPlaylist, baseURI string, fetch Fetcher) (*playlist.MasterPlaylist, error) {
	master := &playlist.MasterPlaylist{Kind: playlist.Hls, BaseURI: baseURI}
	fetchedGroups := make(map[string]bool)

	for _, variant := range mp.Variants {
		if variant.Iframe {
			// I-frame-only trick-play variants are not selectable media
			// kinds in this engine (§4.B only sorts Video/Audio/Subtitles).
			continue
		}

		chunkURL, err := resolveAgainst(baseURI, variant.URI)
		if err != nil {
			return nil, err
		}
		body, err := fetch(ctx, chunkURL)
		if err != nil {
			return nil, fmt.Errorf("fetching variant playlist %s: %w", chunkURL, err)
		}
		chunklist, _, err := m3u8.DecodeFrom(bytes.NewReader(body), false)
		if err != nil {
			return nil, fmt.Errorf("%w: decoding variant playlist %s: %v", playlist.ErrInvalidURL, chunkURL, err)
		}
		mpl, ok := chunklist.(*m3u8.MediaPlaylist)
		if !ok {
			return nil, fmt.Errorf("%w: variant playlist %s is not a media playlist", playlist.ErrInvalidURL, chunkURL)
		}

		stream, err := convertMediaPlaylist(playlist.Video, mpl, chunkURL)
		if err != nil {
			return nil, err
		}
		stream.Bandwidth = variant.Bandwidth
		stream.Codecs = variant.Codecs
		stream.FrameRate = variant.FrameRate
		if w, h, ok := parseResolution(variant.Resolution); ok {
			stream.Resolution = &playlist.Resolution{Width: w, Height: h}
		}
		master.Streams = append(master.Streams, stream)

		for _, alt := range variant.Alternatives {
			if alt == nil || alt.URI == "" || fetchedGroups[alt.GroupId+"|"+alt.URI] {
				continue
			}
			fetchedGroups[alt.GroupId+"|"+alt.URI] = true

			kind := mediaKindFromAlternativeType(alt.Type)
			if kind == playlist.Undefined {
				continue
			}

			altURL, err := resolveAgainst(baseURI, alt.URI)
			if err != nil {
				return nil, err
			}
			altBody, err := fetch(ctx, altURL)
			if err != nil {
				return nil, fmt.Errorf("fetching alternate rendition playlist %s: %w", altURL, err)
			}
			altPlaylist, _, err := m3u8.DecodeFrom(bytes.NewReader(altBody), false)
			if err != nil {
				return nil, fmt.Errorf("%w: decoding alternate rendition %s: %v", playlist.ErrInvalidURL, altURL, err)
			}
			altMpl, ok := altPlaylist.(*m3u8.MediaPlaylist)
			if !ok {
				continue
			}

			altStream, err := convertMediaPlaylist(kind, altMpl, altURL)
			if err != nil {
				return nil, err
			}
			altStream.Language = alt.Language
			if altStream.Language == "" {
				altStream.Language = alt.Name
			}
			if alt.Channels != "" {
				if ch, ok := parseChannelCount(alt.Channels); ok {
					altStream.Channels = ch
				}
			}
			master.Streams = append(master.Streams, altStream)
		}
	}

	return master, nil
}

// convertMediaPlaylist builds a playlist.MediaPlaylist from a decoded HLS
// media (chunklist) playlist, applying key inheritance and byte-range
// conversion per §3.
func convertMediaPlaylist(kind playlist.MediaKind, mpl *m3u8.MediaPlaylist, baseURI string) (*playlist.MediaPlaylist, error) {
	stream := &playlist.MediaPlaylist{
		MediaKind: kind,
		Live:      !mpl.Closed && mpl.MediaType != m3u8.VOD,
		BaseURI:   baseURI,
		Extension: "ts",
	}

	var currentKey *playlist.Key
	if mpl.Key != nil {
		currentKey = convertKey(mpl.Key)
	}
	var currentMap *playlist.Map
	if mpl.Map != nil {
		currentMap = convertMap(mpl.Map)
	}

	for _, seg := range mpl.Segments {
		if seg == nil {
			continue
		}
		if seg.Key != nil {
			currentKey = convertKey(seg.Key)
		}
		if seg.Map != nil {
			currentMap = convertMap(seg.Map)
		}

		s := &playlist.Segment{
			URI:      seg.URI,
			Duration: seg.Duration,
			Key:      currentKey,
			Map:      currentMap,
		}
		if seg.Limit > 0 {
			off := seg.Offset
			s.ByteRange = &playlist.ByteRange{Length: seg.Limit, Offset: &off}
		}
		stream.Segments = append(stream.Segments, s)
	}

	if currentMap != nil && strings.HasSuffix(strings.ToLower(currentMap.URI), ".mp4") {
		stream.Extension = "m4s"
	} else if len(stream.Segments) > 0 && strings.HasSuffix(strings.ToLower(stream.Segments[0].URI), ".mp4") {
		stream.Extension = "mp4"
	}

	return stream, nil
}

func convertKey(k *m3u8.Key) *playlist.Key {
	return &playlist.Key{
		Method:    keyMethodFromHLS(k.Method),
		URI:       k.URI,
		IV:        k.IV,
		KeyFormat: k.Keyformat,
	}
}

func convertMap(m *m3u8.Map) *playlist.Map {
	out := &playlist.Map{URI: m.URI}
	if m.Limit > 0 {
		off := m.Offset
		out.ByteRange = &playlist.ByteRange{Length: m.Limit, Offset: &off}
	}
	return out
}

func keyMethodFromHLS(method string) playlist.KeyMethod {
	switch strings.ToUpper(method) {
	case "NONE", "":
		return playlist.KeyNone
	case "AES-128":
		return playlist.Aes128
	case "SAMPLE-AES":
		return playlist.SampleAes
	default:
		return playlist.KeyOther
	}
}

func mediaKindFromAlternativeType(t string) playlist.MediaKind {
	switch strings.ToUpper(t) {
	case "AUDIO":
		return playlist.Audio
	case "SUBTITLES":
		return playlist.Subtitles
	default:
		return playlist.Undefined
	}
}

func parseResolution(s string) (w, h int, ok bool) {
	parts := strings.SplitN(s, "x", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	width, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false
	}
	height, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, false
	}
	return width, height, true
}

// parseChannelCount parses the leading numeric field of an EXT-X-MEDIA
// CHANNELS attribute (e.g. "6" or "6/JOC") into a channel count.
func parseChannelCount(s string) (float64, bool) {
	field := strings.SplitN(s, "/", 2)[0]
	n, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func resolveAgainst(base, ref string) (string, error) {
	s := &playlist.Segment{URI: ref}
	return s.SegURL(base)
}
