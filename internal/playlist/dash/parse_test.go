package dash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vsdl/internal/playlist"
)

const sampleMPD = `<?xml version="1.0"?>
<MPD type="static">
  <Period>
    <AdaptationSet mimeType="video/mp4" codecs="avc1.4d401f">
      <ContentProtection schemeIdUri="urn:mpeg:dash:mp4protection:2011" default_KID="ab-cd-ef-00"/>
      <SegmentTemplate timescale="1000" initialization="init-$RepresentationID$.m4s" media="chunk-$RepresentationID$-$Number$.m4s" startNumber="1">
        <SegmentTimeline>
          <S t="0" d="2000" r="1"/>
        </SegmentTimeline>
      </SegmentTemplate>
      <Representation id="v0" bandwidth="5000000" width="1920" height="1080"/>
      <Representation id="v1" bandwidth="2000000" width="1280" height="720"/>
    </AdaptationSet>
    <AdaptationSet mimeType="audio/mp4" lang="en">
      <AudioChannelConfiguration value="2"/>
      <SegmentTemplate timescale="1000" duration="2000" initialization="init-$RepresentationID$.m4s" media="chunk-$RepresentationID$-$Number$.m4s"/>
      <Representation id="a0" bandwidth="128000"/>
    </AdaptationSet>
  </Period>
</MPD>`

func TestParse_VideoRepresentationsCarryResolutionAndKey(t *testing.T) {
	master, err := Parse([]byte(sampleMPD), "https://cdn.example.com/manifest.mpd")
	require.NoError(t, err)
	assert.Equal(t, playlist.Dash, master.Kind)

	var video []*playlist.MediaPlaylist
	for _, s := range master.Streams {
		if s.MediaKind == playlist.Video {
			video = append(video, s)
		}
	}
	require.Len(t, video, 2)
	assert.True(t, video[0].HasResolution(1920, 1080))
	require.NotNil(t, video[0].Segments[0].Key)
	assert.Equal(t, playlist.Cenc, video[0].Segments[0].Key.Method)
	assert.Equal(t, "abcdef00", video[0].Segments[0].Key.DefaultKID)
}

func TestParse_SegmentTimelineExpandsRepeatCount(t *testing.T) {
	master, err := Parse([]byte(sampleMPD), "https://cdn.example.com/manifest.mpd")
	require.NoError(t, err)

	video := master.Streams[0]
	require.Len(t, video.Segments, 2)
	assert.Equal(t, "chunk-v0-1.m4s", video.Segments[0].URI)
	assert.Equal(t, "chunk-v0-2.m4s", video.Segments[1].URI)
	assert.Equal(t, 2.0, video.Segments[0].Duration)
}

func TestParse_AudioRepresentationCarriesLanguageAndChannels(t *testing.T) {
	master, err := Parse([]byte(sampleMPD), "https://cdn.example.com/manifest.mpd")
	require.NoError(t, err)

	var audio *playlist.MediaPlaylist
	for _, s := range master.Streams {
		if s.MediaKind == playlist.Audio {
			audio = s
		}
	}
	require.NotNil(t, audio)
	assert.Equal(t, "en", audio.Language)
	assert.Equal(t, 2.0, audio.Channels)
	assert.Len(t, audio.Segments, 1)
}

func TestParse_SegmentBaseByteRangeMatchesStartEnd(t *testing.T) {
	const mpd = `<MPD type="static">
  <Period>
    <AdaptationSet mimeType="video/mp4">
      <Representation id="v0" bandwidth="1000000">
        <SegmentBase indexRange="0-499">
          <Initialization sourceURL="init.mp4" range="500-999"/>
        </SegmentBase>
      </Representation>
    </AdaptationSet>
  </Period>
</MPD>`
	master, err := Parse([]byte(mpd), "https://cdn.example.com/")
	require.NoError(t, err)
	require.Len(t, master.Streams, 1)

	seg := master.Streams[0].Segments[0]
	require.NotNil(t, seg.ByteRange)
	rng := seg.ByteRange.Resolve(0)
	assert.Equal(t, int64(0), rng.Start)
	assert.Equal(t, int64(499), rng.End)

	require.NotNil(t, seg.Map)
	mapRng := seg.Map.ByteRange.Resolve(0)
	assert.Equal(t, int64(500), mapRng.Start)
	assert.Equal(t, int64(999), mapRng.End)
}

func TestParse_InvalidXMLReturnsInvalidURLError(t *testing.T) {
	_, err := Parse([]byte("not xml"), "https://cdn.example.com/")
	require.Error(t, err)
	assert.ErrorIs(t, err, playlist.ErrInvalidURL)
}

func TestParseFrameRate_HandlesFractionAndPlain(t *testing.T) {
	assert.Equal(t, 25.0, parseFrameRate("25"))
	assert.Equal(t, 24000.0/1001.0, parseFrameRate("24000/1001"))
	assert.Equal(t, 0.0, parseFrameRate(""))
}

func TestByteRangeFromString_RejectsMalformedRange(t *testing.T) {
	_, ok := byteRangeFromString("not-a-range")
	assert.False(t, ok)
	_, ok = byteRangeFromString("500-100")
	assert.False(t, ok)
}
