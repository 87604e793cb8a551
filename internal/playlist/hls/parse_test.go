package hls

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vsdl/internal/playlist"
)

const plainMediaPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:6
#EXT-X-PLAYLIST-TYPE:VOD
#EXT-X-KEY:METHOD=AES-128,URI="https://cdn.example.com/key",IV=0x00000000000000000000000000000001
#EXTINF:6.000,
segment0.ts
#EXTINF:6.000,
segment1.ts
#EXT-X-ENDLIST
`

const masterPlaylist = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=5000000,RESOLUTION=1920x1080,CODECS="avc1.640028",AUDIO="aud"
video_hi.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2000000,RESOLUTION=1280x720,CODECS="avc1.4d401f",AUDIO="aud"
video_lo.m3u8
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",NAME="English",LANGUAGE="en",URI="audio_en.m3u8"
`

func fakeFetcher(bodies map[string]string) Fetcher {
	return func(ctx context.Context, absoluteURL string) ([]byte, error) {
		return []byte(bodies[absoluteURL]), nil
	}
}

func TestParse_PlainMediaPlaylistCarriesKeyAndSegments(t *testing.T) {
	master, err := Parse(context.Background(), []byte(plainMediaPlaylist), "https://cdn.example.com/stream.m3u8", nil)
	require.NoError(t, err)
	assert.Equal(t, playlist.Hls, master.Kind)
	require.Len(t, master.Streams, 1)

	stream := master.Streams[0]
	require.Len(t, stream.Segments, 2)
	assert.Equal(t, "segment0.ts", stream.Segments[0].URI)
	assert.True(t, stream.Live == false)

	require.NotNil(t, stream.Segments[0].Key)
	assert.Equal(t, playlist.Aes128, stream.Segments[0].Key.Method)
	assert.NotEmpty(t, stream.Segments[0].Key.IV)
	assert.Same(t, stream.Segments[0].Key, stream.Segments[1].Key)
}

func TestParse_MasterPlaylistFollowsVariantsAndAlternatives(t *testing.T) {
	fetch := fakeFetcher(map[string]string{
		"https://cdn.example.com/video_hi.m3u8": plainMediaPlaylist,
		"https://cdn.example.com/video_lo.m3u8": plainMediaPlaylist,
		"https://cdn.example.com/audio_en.m3u8": plainMediaPlaylist,
	})

	master, err := Parse(context.Background(), []byte(masterPlaylist), "https://cdn.example.com/master.m3u8", fetch)
	require.NoError(t, err)

	var video, audio int
	for _, s := range master.Streams {
		switch s.MediaKind {
		case playlist.Video:
			video++
		case playlist.Audio:
			audio++
			assert.Equal(t, "en", s.Language)
		}
	}
	assert.Equal(t, 2, video)
	assert.Equal(t, 1, audio)
}

func TestParse_MasterPlaylistCarriesBandwidthAndResolution(t *testing.T) {
	fetch := fakeFetcher(map[string]string{
		"https://cdn.example.com/video_hi.m3u8": plainMediaPlaylist,
		"https://cdn.example.com/video_lo.m3u8": plainMediaPlaylist,
		"https://cdn.example.com/audio_en.m3u8": plainMediaPlaylist,
	})

	master, err := Parse(context.Background(), []byte(masterPlaylist), "https://cdn.example.com/master.m3u8", fetch)
	require.NoError(t, err)

	var hi *playlist.MediaPlaylist
	for _, s := range master.Streams {
		if s.MediaKind == playlist.Video && s.Bandwidth == 5000000 {
			hi = s
		}
	}
	require.NotNil(t, hi)
	require.NotNil(t, hi.Resolution)
	assert.Equal(t, 1920, hi.Resolution.Width)
	assert.Equal(t, 1080, hi.Resolution.Height)
}

func TestKeyMethodFromHLS_MapsKnownMethods(t *testing.T) {
	assert.Equal(t, playlist.KeyNone, keyMethodFromHLS("NONE"))
	assert.Equal(t, playlist.Aes128, keyMethodFromHLS("AES-128"))
	assert.Equal(t, playlist.SampleAes, keyMethodFromHLS("SAMPLE-AES"))
	assert.Equal(t, playlist.KeyOther, keyMethodFromHLS("FOO"))
}

func TestParseResolution_SplitsWidthAndHeight(t *testing.T) {
	w, h, ok := parseResolution("1920x1080")
	require.True(t, ok)
	assert.Equal(t, 1920, w)
	assert.Equal(t, 1080, h)

	_, _, ok = parseResolution("garbage")
	assert.False(t, ok)
}

func TestParseChannelCount_TakesLeadingNumericField(t *testing.T) {
	n, ok := parseChannelCount("6/JOC")
	require.True(t, ok)
	assert.Equal(t, 6.0, n)

	_, ok = parseChannelCount("")
	assert.False(t, ok)
}

func TestParse_UnrecognizedPlaylistTypeFails(t *testing.T) {
	_, err := Parse(context.Background(), []byte("not an m3u8 at all"), "https://cdn.example.com/x.m3u8", nil)
	require.Error(t, err)
}
