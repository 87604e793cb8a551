// Package playlist holds the normalized manifest model shared by the DASH
// and HLS parser adapters (internal/playlist/dash, internal/playlist/hls)
// and consumed by the selector, key resolver, fetcher, and orchestrator.
package playlist

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidURL is returned by the URL-resolution helpers when a segment,
// map, or key URI fails to parse or cannot be resolved against its base.
var ErrInvalidURL = errors.New("invalid url")

// Kind discriminates the manifest format a MasterPlaylist was parsed from.
type Kind int

const (
	Dash Kind = iota
	Hls
)

func (k Kind) String() string {
	if k == Dash {
		return "dash"
	}
	return "hls"
}

// MediaKind discriminates the media type a MediaPlaylist (representation)
// carries.
type MediaKind int

const (
	Undefined MediaKind = iota
	Video
	Audio
	Subtitles
)

func (mk MediaKind) String() string {
	switch mk {
	case Video:
		return "video"
	case Audio:
		return "audio"
	case Subtitles:
		return "subtitles"
	default:
		return "undefined"
	}
}

// KeyMethod enumerates the segment-encryption schemes a Key may declare.
type KeyMethod int

const (
	KeyNone KeyMethod = iota
	Aes128
	Cenc
	SampleAes
	KeyOther
)

func (m KeyMethod) String() string {
	switch m {
	case Aes128:
		return "AES-128"
	case Cenc:
		return "CENC"
	case SampleAes:
		return "SAMPLE-AES"
	case KeyOther:
		return "OTHER"
	default:
		return "NONE"
	}
}

// Resolution is a representation's declared pixel dimensions.
type Resolution struct {
	Width  int
	Height int
}

// Pixels returns width*height, the primary video sort key (§4.B).
func (r Resolution) Pixels() int64 {
	return int64(r.Width) * int64(r.Height)
}

// ByteRange is the length/offset pair carried by EXT-X-BYTERANGE (HLS), or
// built from a DASH SegmentBase indexRange or Initialization range attribute
// (see dash.byteRangeFromString for how those map onto the pair).
type ByteRange struct {
	Length int64
	// Offset is nil when the range is "absent" per §3 (continuation from
	// the previous range's end).
	Offset *int64
}

// ResolvedRange is a computed byte range ready to be emitted as a
// "bytes=START-END" Range header, plus the running end value to feed the
// next ByteRange.Resolve call as prevEnd.
type ResolvedRange struct {
	Start int64
	End   int64
}

// Header formats the range as an HTTP Range header value.
func (r ResolvedRange) Header() string {
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// Resolve computes a ResolvedRange per the §3 byte-range invariant:
//
//	offset absent/zero: start = prevEnd,  end = start + length - 1
//	offset present:     start = length,   end = length + offset - 1
//
// The second branch looks backwards next to ordinary HTTP range semantics
// (one would expect start = offset); it is specified that way and preserved
// verbatim rather than "fixed" — it is not one of the corrected behaviors
// enumerated in the design notes.
func (br *ByteRange) Resolve(prevEnd int64) ResolvedRange {
	if br == nil {
		return ResolvedRange{}
	}
	if br.Offset == nil || *br.Offset == 0 {
		start := prevEnd
		return ResolvedRange{Start: start, End: start + br.Length - 1}
	}
	start := br.Length
	return ResolvedRange{Start: start, End: br.Length + *br.Offset - 1}
}

// Map is the initialization segment (ISO-BMFF ftyp/moov) prefixed to every
// media segment governed by it.
type Map struct {
	URI       string
	ByteRange *ByteRange
}

// MapURL resolves the map's own URI against base. Per the §9 correction
// this check is independent of the owning segment's http/ftp prefix — the
// map's URI is inspected on its own terms.
func (m *Map) MapURL(base string) (string, error) {
	return resolveURL(base, m.URI)
}

// MapRange resolves the map's byte range for an initialization-segment GET.
func (m *Map) MapRange(prevEnd int64) ResolvedRange {
	return m.ByteRange.Resolve(prevEnd)
}

// Key describes a segment-encryption declaration (EXT-X-KEY / DASH
// ContentProtection), normalized across HLS and DASH.
type Key struct {
	Method KeyMethod
	URI    string
	// DefaultKID is normalized: hyphens stripped, case preserved.
	DefaultKID string
	IV         string
	KeyFormat  string
}

// KeyURL resolves the key's fetch URI against base.
func (k *Key) KeyURL(base string) (string, error) {
	return resolveURL(base, k.URI)
}

// ResolvedKey is the runtime key material built by the key resolver
// (internal/keyresolver) from a Key plus user-supplied keys.
type ResolvedKey struct {
	Method KeyMethod
	// KeyMaterial is the raw 16-byte AES key for Aes128, or the
	// ASCII-encoded "kid:key;kid:key;..." set (no trailing separator) for
	// Cenc/SampleAes.
	KeyMaterial []byte
	IV          []byte
}

// Segment is one addressable, orderable media chunk.
type Segment struct {
	URI       string
	Duration  float64
	ByteRange *ByteRange
	Map       *Map
	Key       *Key
}

// SegURL resolves the segment's own URI against base. A URI already
// starting with "http" or "ftp" is returned verbatim.
func (s *Segment) SegURL(base string) (string, error) {
	return resolveURL(base, s.URI)
}

// SegRange resolves the segment's byte range for a media-segment GET.
func (s *Segment) SegRange(prevEnd int64) ResolvedRange {
	return s.ByteRange.Resolve(prevEnd)
}

// MediaPlaylist is one representation (a single encoding of one media kind)
// within a MasterPlaylist.
type MediaPlaylist struct {
	MediaKind MediaKind
	Bandwidth uint32
	// Channels is a float per §9 design notes (the source carries channel
	// counts as float32 and sorts with a NaN-safe total-order comparator).
	Channels   float64
	Codecs     string
	Extension  string
	FrameRate  float64
	IFrame     bool
	Language   string
	Live       bool
	Resolution *Resolution
	BaseURI    string
	Segments   []*Segment
}

// HasResolution reports whether the stream's declared resolution matches
// (w,h) exactly.
func (m *MediaPlaylist) HasResolution(w, h int) bool {
	return m.Resolution != nil && m.Resolution.Width == w && m.Resolution.Height == h
}

// resolutionTiers classifies a height into the named tier reported
// alongside the exact pixel dimensions (§11 supplemented feature, pulled
// forward from the reference's resolution-name lookup table).
var resolutionTiers = []struct {
	height int
	name   string
}{
	{144, "144p"},
	{240, "240p"},
	{360, "360p"},
	{480, "480p"},
	{720, "720p"},
	{1080, "1080p"},
	{1440, "1440p"},
	{2160, "4K"},
	{4320, "8K"},
}

// resolutionName returns the named tier for height, rounding up to the
// nearest known tier; heights beyond 8K are reported as "8K" as well.
func resolutionName(height int) string {
	for _, tier := range resolutionTiers {
		if height <= tier.height {
			return tier.name
		}
	}
	return "8K"
}

// DisplayVideoStream formats a single-line summary for the interactive
// selector. Total: never panics on missing fields, substituting "?".
func (m *MediaPlaylist) DisplayVideoStream() string {
	res := "?"
	if m.Resolution != nil {
		res = fmt.Sprintf("%s (%dx%d)", resolutionName(m.Resolution.Height), m.Resolution.Width, m.Resolution.Height)
	}
	codecs := orUnknown(m.Codecs)
	return fmt.Sprintf("video  %-18s %7dkbps  codecs=%s", res, m.Bandwidth/1000, codecs)
}

// DisplayAudioStream formats a single-line summary for the interactive
// selector.
func (m *MediaPlaylist) DisplayAudioStream() string {
	lang := orUnknown(m.Language)
	channels := "?"
	if m.Channels > 0 {
		channels = fmt.Sprintf("%.0fch", m.Channels)
	}
	return fmt.Sprintf("audio  lang=%-5s %-4s %7dkbps  codecs=%s", lang, channels, m.Bandwidth/1000, orUnknown(m.Codecs))
}

// DisplaySubtitleStream formats a single-line summary for the interactive
// selector.
func (m *MediaPlaylist) DisplaySubtitleStream() string {
	return fmt.Sprintf("subs   lang=%-5s codecs=%s", orUnknown(m.Language), orUnknown(m.Codecs))
}

func orUnknown(s string) string {
	if s == "" {
		return "?"
	}
	return s
}

// MasterPlaylist is the normalized, parser-produced manifest model. It is
// immutable after parse except for the single SortStreams reordering (§3).
type MasterPlaylist struct {
	Kind    Kind
	BaseURI string
	Streams []*MediaPlaylist
}

// resolveURL implements the shared §3/§4.A URI-resolution rule: a URI
// already prefixed with "http" or "ftp" is absolute and returned verbatim;
// otherwise it is resolved against base per RFC 3986.
func resolveURL(base, uri string) (string, error) {
	if uri == "" {
		return "", fmt.Errorf("%w: empty uri", ErrInvalidURL)
	}
	if strings.HasPrefix(uri, "http") || strings.HasPrefix(uri, "ftp") {
		return uri, nil
	}

	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%w: parsing base %q: %v", ErrInvalidURL, base, err)
	}
	ref, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("%w: parsing uri %q: %v", ErrInvalidURL, uri, err)
	}
	return baseURL.ResolveReference(ref).String(), nil
}

// NormalizeKID strips hyphens from a key-ID string while preserving case,
// per the §9 KID-normalization design note.
func NormalizeKID(kid string) string {
	return strings.ReplaceAll(kid, "-", "")
}
