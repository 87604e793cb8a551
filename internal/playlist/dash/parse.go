// Package dash adapts MPEG-DASH MPD manifests into the normalized
// internal/playlist model. There is no complete DASH-MPD parsing library in
// the dependency set this module draws on, so the MPD document model is
// hand-written against encoding/xml, following the same plain-struct-tag
// style the rest of this module uses for its own wire formats.
package dash

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmylchreest/vsdl/internal/playlist"
	xsd "github.com/unki2aut/go-xsd-types"
)

// MPD is the root element of a DASH manifest.
type MPD struct {
	XMLName                   xml.Name      `xml:"MPD"`
	Type                      string        `xml:"type,attr"`
	MediaPresentationDuration *xsd.Duration `xml:"mediaPresentationDuration,attr"`
	BaseURL                   string        `xml:"BaseURL"`
	Periods                   []Period      `xml:"Period"`
}

// Period groups the AdaptationSets active over a time range. This engine
// downloads a single, complete file, so periods are concatenated rather
// than treated as independently playable units.
type Period struct {
	BaseURL        string          `xml:"BaseURL"`
	AdaptationSets []AdaptationSet `xml:"AdaptationSet"`
}

// AdaptationSet groups Representations that are alternative encodings of
// the same content (one video rendition ladder, or one audio/subtitle
// language track).
type AdaptationSet struct {
	MimeType            string               `xml:"mimeType,attr"`
	ContentType         string               `xml:"contentType,attr"`
	Lang                string               `xml:"lang,attr"`
	Codecs              string               `xml:"codecs,attr"`
	FrameRate           string               `xml:"frameRate,attr"`
	Width               int                  `xml:"width,attr"`
	Height              int                  `xml:"height,attr"`
	BaseURL             string               `xml:"BaseURL"`
	ContentProtections  []ContentProtection  `xml:"ContentProtection"`
	AudioChannelConfigs []AudioChannelConfig `xml:"AudioChannelConfiguration"`
	SegmentTemplate     *SegmentTemplate     `xml:"SegmentTemplate"`
	Representations     []Representation     `xml:"Representation"`
}

// Representation is a single encoding within an AdaptationSet.
type Representation struct {
	ID                  string               `xml:"id,attr"`
	Bandwidth           uint32               `xml:"bandwidth,attr"`
	Width               int                  `xml:"width,attr"`
	Height              int                  `xml:"height,attr"`
	Codecs              string               `xml:"codecs,attr"`
	FrameRate           string               `xml:"frameRate,attr"`
	BaseURL             string               `xml:"BaseURL"`
	ContentProtections  []ContentProtection  `xml:"ContentProtection"`
	AudioChannelConfigs []AudioChannelConfig `xml:"AudioChannelConfiguration"`
	SegmentTemplate     *SegmentTemplate     `xml:"SegmentTemplate"`
	SegmentBase         *SegmentBase         `xml:"SegmentBase"`
}

// ContentProtection carries the encryption scheme and, for cenc, the
// default KID declared on an AdaptationSet or Representation.
type ContentProtection struct {
	SchemeIDURI string `xml:"schemeIdUri,attr"`
	DefaultKID  string `xml:"default_KID,attr"`
}

// AudioChannelConfig declares the channel count of an audio Representation.
type AudioChannelConfig struct {
	Value string `xml:"value,attr"`
}

// SegmentBase addresses a single whole-file Representation via an explicit
// byte range plus an index/init range, used by on-demand (non-templated)
// profiles.
type SegmentBase struct {
	IndexRange     string          `xml:"indexRange,attr"`
	Initialization *Initialization `xml:"Initialization"`
}

// Initialization is the init-segment byte range under a SegmentBase.
type Initialization struct {
	SourceURL string `xml:"sourceURL,attr"`
	Range     string `xml:"range,attr"`
}

// SegmentTemplate describes a $Number$/$Time$-templated segment sequence,
// optionally driven by an explicit SegmentTimeline.
type SegmentTemplate struct {
	Timescale       uint64           `xml:"timescale,attr"`
	Duration        uint64           `xml:"duration,attr"`
	StartNumber     *uint64          `xml:"startNumber,attr"`
	Initialization  string           `xml:"initialization,attr"`
	Media           string           `xml:"media,attr"`
	SegmentTimeline *SegmentTimeline `xml:"SegmentTimeline"`
}

// SegmentTimeline is an explicit list of segment durations/repeat counts,
// taking precedence over SegmentTemplate.Duration when present.
type SegmentTimeline struct {
	S []SegmentTimelineEntry `xml:"S"`
}

// SegmentTimelineEntry is one <S t= d= r=> entry: start time t (optional,
// continues from the previous entry's end when absent), duration d, and
// repeat count r (segment appears r+1 times).
type SegmentTimelineEntry struct {
	T *uint64 `xml:"t,attr"`
	D uint64  `xml:"d,attr"`
	R *int    `xml:"r,attr"`
}

const schemeCenc = "urn:mpeg:dash:mp4protection:2011"

// Parse parses DASH MPD manifest bytes into the normalized MasterPlaylist
// model. Segment byte ranges are not used by the $Number$/$Time$-templated
// profile this parser targets; SegmentBase-addressed (whole-file,
// indexRange) representations carry their init/media byte range instead.
func Parse(data []byte, baseURI string) (*playlist.MasterPlaylist, error) {
	var mpd MPD
	if err := xml.Unmarshal(data, &mpd); err != nil {
		return nil, fmt.Errorf("%w: parsing mpd: %v", playlist.ErrInvalidURL, err)
	}

	master := &playlist.MasterPlaylist{Kind: playlist.Dash, BaseURI: baseURI}
	live := strings.EqualFold(mpd.Type, "dynamic")
	manifestBase := resolveChain(baseURI, mpd.BaseURL)

	for _, period := range mpd.Periods {
		periodBase := resolveChain(manifestBase, period.BaseURL)
		for _, as := range period.AdaptationSets {
			kind := mediaKindOf(as)
			if kind == playlist.Undefined {
				continue
			}
			asBase := resolveChain(periodBase, as.BaseURL)

			for _, rep := range as.Representations {
				stream, err := convertRepresentation(kind, as, rep, asBase, live)
				if err != nil {
					return nil, err
				}
				master.Streams = append(master.Streams, stream)
			}
		}
	}

	return master, nil
}

func convertRepresentation(kind playlist.MediaKind, as AdaptationSet, rep Representation, base string, live bool) (*playlist.MediaPlaylist, error) {
	repBase := resolveChain(base, rep.BaseURL)

	stream := &playlist.MediaPlaylist{
		MediaKind: kind,
		Bandwidth: rep.Bandwidth,
		Codecs:    orDefault(rep.Codecs, as.Codecs),
		Extension: "m4s",
		FrameRate: parseFrameRate(orDefault(rep.FrameRate, as.FrameRate)),
		Language:  as.Lang,
		Live:      live,
		BaseURI:   repBase,
	}

	if w, h := orDefaultDims(rep.Width, rep.Height, as.Width, as.Height); w > 0 && h > 0 {
		stream.Resolution = &playlist.Resolution{Width: w, Height: h}
	}
	if ch, ok := channelsOf(rep.AudioChannelConfigs, as.AudioChannelConfigs); ok {
		stream.Channels = ch
	}

	key := keyOf(rep.ContentProtections)
	if key == nil {
		key = keyOf(as.ContentProtections)
	}

	st := rep.SegmentTemplate
	if st == nil {
		st = as.SegmentTemplate
	}

	switch {
	case st != nil:
		segments, err := segmentsFromTemplate(st, rep.ID, rep.Bandwidth, key)
		if err != nil {
			return nil, err
		}
		stream.Segments = segments
	case rep.SegmentBase != nil:
		stream.Segments = []*playlist.Segment{segmentFromBase(rep.SegmentBase, key)}
	default:
		// Single whole-file representation addressed directly by BaseURL.
		stream.Segments = []*playlist.Segment{{URI: "", Key: key}}
	}

	if len(stream.Segments) > 0 && strings.HasSuffix(strings.ToLower(stream.Segments[0].URI), ".mp4") {
		stream.Extension = "mp4"
	}

	return stream, nil
}

func segmentsFromTemplate(st *SegmentTemplate, repID string, bandwidth uint32, key *playlist.Key) ([]*playlist.Segment, error) {
	var segs []*playlist.Segment

	var initMap *playlist.Map
	if st.Initialization != "" {
		initMap = &playlist.Map{URI: replaceVars(st.Initialization, repID, bandwidth, 0, 0)}
	}

	startNumber := uint64(1)
	if st.StartNumber != nil {
		startNumber = *st.StartNumber
	}

	addSegment := func(number uint64, t uint64, duration float64) {
		segs = append(segs, &playlist.Segment{
			URI:      replaceVars(st.Media, repID, bandwidth, number, t),
			Duration: duration,
			Map:      initMap,
			Key:      key,
		})
	}

	if st.SegmentTimeline != nil {
		timescale := st.Timescale
		if timescale == 0 {
			timescale = 1
		}
		var currentTime uint64
		number := startNumber
		for _, entry := range st.SegmentTimeline.S {
			if entry.T != nil {
				currentTime = *entry.T
			}
			repeat := 0
			if entry.R != nil {
				repeat = *entry.R
				if repeat < 0 {
					// A negative r means "repeat until the next entry's t or
					// period end" — this engine does not support live
					// manifest refresh (§1 Non-goals), so it is treated as
					// a single occurrence.
					repeat = 0
				}
			}
			for i := 0; i <= repeat; i++ {
				addSegment(number, currentTime, float64(entry.D)/float64(timescale))
				currentTime += entry.D
				number++
			}
		}
		return segs, nil
	}

	if st.Duration == 0 {
		return nil, fmt.Errorf("%w: SegmentTemplate has neither SegmentTimeline nor duration", playlist.ErrInvalidURL)
	}

	// No explicit segment count without a MediaPresentationDuration and the
	// @duration/@timescale pair; this profile only appears with a
	// SegmentTimeline in practice for VOD content, so a single segment
	// covering the template's nominal duration is emitted as a fallback.
	timescale := st.Timescale
	if timescale == 0 {
		timescale = 1
	}
	addSegment(startNumber, 0, float64(st.Duration)/float64(timescale))
	return segs, nil
}

func segmentFromBase(sb *SegmentBase, key *playlist.Key) *playlist.Segment {
	seg := &playlist.Segment{Key: key}
	if sb.Initialization != nil {
		seg.URI = sb.Initialization.SourceURL
		if br, ok := byteRangeFromString(sb.Initialization.Range); ok {
			seg.Map = &playlist.Map{URI: sb.Initialization.SourceURL, ByteRange: br}
		}
	}
	if br, ok := byteRangeFromString(sb.IndexRange); ok {
		seg.ByteRange = br
	}
	return seg
}

// byteRangeFromString parses a DASH "start-end" range attribute into a
// ByteRange whose offset-present Resolve branch (start = Length,
// end = Length + Offset - 1) yields exactly start and end: Length carries
// start and Offset the span, which is never zero.
func byteRangeFromString(s string) (*playlist.ByteRange, bool) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return nil, false
	}
	start, err1 := strconv.ParseInt(parts[0], 10, 64)
	end, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil || end < start {
		return nil, false
	}
	length := start
	offset := end - start + 1 // so Resolve's "length+offset-1" reproduces end
	return &playlist.ByteRange{Length: length, Offset: &offset}, true
}

func replaceVars(template, repID string, bandwidth uint32, number, t uint64) string {
	r := strings.NewReplacer(
		"$RepresentationID$", repID,
		"$Bandwidth$", strconv.FormatUint(uint64(bandwidth), 10),
		"$Number$", strconv.FormatUint(number, 10),
		"$Time$", strconv.FormatUint(t, 10),
	)
	return r.Replace(template)
}

func mediaKindOf(as AdaptationSet) playlist.MediaKind {
	mt := as.MimeType
	if mt == "" {
		mt = as.ContentType
	}
	switch {
	case strings.Contains(mt, "video"):
		return playlist.Video
	case strings.Contains(mt, "audio"):
		return playlist.Audio
	case strings.Contains(mt, "text") || strings.Contains(mt, "stpp") || strings.Contains(as.Codecs, "stpp"):
		return playlist.Subtitles
	default:
		return playlist.Undefined
	}
}

func keyOf(cps []ContentProtection) *playlist.Key {
	for _, cp := range cps {
		if cp.SchemeIDURI == schemeCenc || cp.DefaultKID != "" {
			return &playlist.Key{
				Method:     playlist.Cenc,
				DefaultKID: playlist.NormalizeKID(cp.DefaultKID),
			}
		}
	}
	return nil
}

func channelsOf(reps, as []AudioChannelConfig) (float64, bool) {
	for _, c := range append(append([]AudioChannelConfig{}, reps...), as...) {
		if n, err := strconv.ParseFloat(c.Value, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

func parseFrameRate(s string) float64 {
	if s == "" {
		return 0
	}
	if strings.Contains(s, "/") {
		parts := strings.SplitN(s, "/", 2)
		num, err1 := strconv.ParseFloat(parts[0], 64)
		den, err2 := strconv.ParseFloat(parts[1], 64)
		if err1 == nil && err2 == nil && den != 0 {
			return num / den
		}
		return 0
	}
	n, _ := strconv.ParseFloat(s, 64)
	return n
}

func orDefault(primary, fallback string) string {
	if primary != "" {
		return primary
	}
	return fallback
}

func orDefaultDims(w, h, fw, fh int) (int, int) {
	if w > 0 && h > 0 {
		return w, h
	}
	return fw, fh
}

// resolveChain joins a possibly-relative BaseURL onto its parent, returning
// parent unchanged when child is empty.
func resolveChain(parent, child string) string {
	if child == "" {
		return parent
	}
	s := &playlist.Segment{URI: child}
	resolved, err := s.SegURL(parent)
	if err != nil {
		return parent
	}
	return resolved
}
