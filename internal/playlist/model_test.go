package playlist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegURL_AbsoluteVerbatim(t *testing.T) {
	s := &Segment{URI: "http://cdn.example.com/seg1.ts"}
	got, err := s.SegURL("http://other.example.com/base/")
	require.NoError(t, err)
	assert.Equal(t, "http://cdn.example.com/seg1.ts", got)
}

func TestSegURL_FTPVerbatim(t *testing.T) {
	s := &Segment{URI: "ftp://files.example.com/seg1.ts"}
	got, err := s.SegURL("http://other.example.com/base/")
	require.NoError(t, err)
	assert.Equal(t, "ftp://files.example.com/seg1.ts", got)
}

func TestSegURL_ResolvedAgainstBase(t *testing.T) {
	s := &Segment{URI: "seg1.ts"}
	got, err := s.SegURL("http://example.com/streams/master.m3u8")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/streams/seg1.ts", got)
}

func TestSegURL_InvalidBase(t *testing.T) {
	s := &Segment{URI: "seg1.ts"}
	_, err := s.SegURL("://not-a-url")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestMapURL_IndependentOfSegmentPrefix(t *testing.T) {
	// The owning segment is absolute (http-prefixed) but the map's own URI
	// is relative: MapURL must resolve against base regardless, per the §9
	// correction — it never inherits the segment's verbatim-ness.
	m := &Map{URI: "init.mp4"}
	got, err := m.MapURL("http://example.com/streams/master.m3u8")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/streams/init.mp4", got)
}

func TestByteRange_AbsentOffsetContinuesFromPrevEnd(t *testing.T) {
	br := &ByteRange{Length: 100}
	r := br.Resolve(500)
	assert.Equal(t, int64(500), r.Start)
	assert.Equal(t, int64(599), r.End)
}

func TestByteRange_ZeroOffsetContinuesFromPrevEnd(t *testing.T) {
	zero := int64(0)
	br := &ByteRange{Length: 50, Offset: &zero}
	r := br.Resolve(100)
	assert.Equal(t, int64(100), r.Start)
	assert.Equal(t, int64(149), r.End)
}

func TestByteRange_ExplicitOffsetTable(t *testing.T) {
	offset := int64(1000)
	br := &ByteRange{Length: 200, Offset: &offset}
	r := br.Resolve(999) // prevEnd is irrelevant on this branch
	assert.Equal(t, int64(200), r.Start)
	assert.Equal(t, int64(1199), r.End)
}

func TestByteRange_AlternatingSequenceMatchesTable(t *testing.T) {
	// §8 property 3: alternating offset=None / explicit offsets.
	prevEnd := int64(0)

	br1 := &ByteRange{Length: 300}
	r1 := br1.Resolve(prevEnd)
	assert.Equal(t, ResolvedRange{Start: 0, End: 299}, r1)
	prevEnd = r1.End

	off := int64(50)
	br2 := &ByteRange{Length: 100, Offset: &off}
	r2 := br2.Resolve(prevEnd)
	assert.Equal(t, ResolvedRange{Start: 100, End: 149}, r2)
	prevEnd = r2.End

	br3 := &ByteRange{Length: 400}
	r3 := br3.Resolve(prevEnd)
	assert.Equal(t, ResolvedRange{Start: 149, End: 548}, r3)
}

func TestResolvedRange_Header(t *testing.T) {
	r := ResolvedRange{Start: 0, End: 299}
	assert.Equal(t, "bytes=0-299", r.Header())
}

func TestDisplayHelpers_NeverPanicOnEmptyFields(t *testing.T) {
	m := &MediaPlaylist{MediaKind: Video}
	assert.NotPanics(t, func() {
		_ = m.DisplayVideoStream()
		_ = m.DisplayAudioStream()
		_ = m.DisplaySubtitleStream()
	})
	assert.Contains(t, m.DisplayVideoStream(), "?")
}

func TestNormalizeKID_StripsHyphensPreservesCase(t *testing.T) {
	assert.Equal(t, "ABCDEF0123456789", NormalizeKID("ABCDEF01-2345-6789"))
}

func TestResolutionName_MapsKnownTiers(t *testing.T) {
	assert.Equal(t, "144p", resolutionName(144))
	assert.Equal(t, "1080p", resolutionName(1080))
	assert.Equal(t, "4K", resolutionName(2160))
	assert.Equal(t, "8K", resolutionName(4320))
	assert.Equal(t, "8K", resolutionName(8640))
}

func TestResolutionName_RoundsUpToNearestTier(t *testing.T) {
	assert.Equal(t, "720p", resolutionName(700))
	assert.Equal(t, "1080p", resolutionName(900))
}

func TestDisplayVideoStream_IncludesNamedTierAndExactDimensions(t *testing.T) {
	m := &MediaPlaylist{MediaKind: Video, Resolution: &Resolution{Width: 1920, Height: 1080}, Bandwidth: 5000000}
	s := m.DisplayVideoStream()
	assert.Contains(t, s, "1080p")
	assert.Contains(t, s, "1920x1080")
}

func TestHasResolution(t *testing.T) {
	m := &MediaPlaylist{Resolution: &Resolution{Width: 1920, Height: 1080}}
	assert.True(t, m.HasResolution(1920, 1080))
	assert.False(t, m.HasResolution(1280, 720))

	none := &MediaPlaylist{}
	assert.False(t, none.HasResolution(1920, 1080))
}
