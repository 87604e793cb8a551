package playlist

import "sort"

// languageFactor scores a stream's language against a preferred tag (§4.B):
// 2 = exact case-insensitive match, 1 = first-two-characters match, 0 = no
// preference set or no match.
func languageFactor(streamLang, preferred string) int {
	if preferred == "" || streamLang == "" {
		return 0
	}
	if equalFold(streamLang, preferred) {
		return 2
	}
	if len(streamLang) >= 2 && len(preferred) >= 2 && equalFold(streamLang[:2], preferred[:2]) {
		return 1
	}
	return 0
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// channelsLess implements the §9 NaN-safe total-order comparator for the
// channels sort key: NaN sorts below every number, never interleaving with
// IEEE-754 "<" (which would make NaN unstable relative to all values).
func channelsLess(a, b float64) bool {
	aNaN, bNaN := a != a, b != b
	switch {
	case aNaN && bNaN:
		return false
	case aNaN:
		return true
	case bNaN:
		return false
	default:
		return a < b
	}
}

// SortStreams reorders master.Streams in place per §4.B: video first (by
// pixels desc, then bandwidth desc), then audio (by language factor desc,
// then channels desc, then bandwidth desc), then subtitles (by language
// factor desc); any other MediaKind is dropped. The sort is stable so
// equally-ranked streams retain manifest order (§8 property 5).
func SortStreams(master *MasterPlaylist, preferAudioLang, preferSubsLang string) {
	var video, audio, subs []*MediaPlaylist
	for _, s := range master.Streams {
		switch s.MediaKind {
		case Video:
			video = append(video, s)
		case Audio:
			audio = append(audio, s)
		case Subtitles:
			subs = append(subs, s)
		}
	}

	sort.SliceStable(video, func(i, j int) bool {
		pi, pj := pixelsOf(video[i]), pixelsOf(video[j])
		if pi != pj {
			return pi > pj
		}
		return video[i].Bandwidth > video[j].Bandwidth
	})

	sort.SliceStable(audio, func(i, j int) bool {
		fi, fj := languageFactor(audio[i].Language, preferAudioLang), languageFactor(audio[j].Language, preferAudioLang)
		if fi != fj {
			return fi > fj
		}
		if audio[i].Channels != audio[j].Channels {
			return channelsLess(audio[j].Channels, audio[i].Channels)
		}
		return audio[i].Bandwidth > audio[j].Bandwidth
	})

	sort.SliceStable(subs, func(i, j int) bool {
		fi, fj := languageFactor(subs[i].Language, preferSubsLang), languageFactor(subs[j].Language, preferSubsLang)
		return fi > fj
	})

	ordered := make([]*MediaPlaylist, 0, len(video)+len(audio)+len(subs))
	ordered = append(ordered, video...)
	ordered = append(ordered, audio...)
	ordered = append(ordered, subs...)
	master.Streams = ordered
}

func pixelsOf(m *MediaPlaylist) int64 {
	if m.Resolution == nil {
		return 0
	}
	return m.Resolution.Pixels()
}
