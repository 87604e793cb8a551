package fetcher

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vsdl/internal/playlist"
	"github.com/jmylchreest/vsdl/pkg/httpclient"
)

func TestIsRemote(t *testing.T) {
	assert.True(t, isRemote("http://example.com/manifest.mpd"))
	assert.True(t, isRemote("https://example.com/manifest.mpd"))
	assert.True(t, isRemote("ftp://example.com/manifest.mpd"))
	assert.False(t, isRemote("/tmp/manifest.mpd"))
	assert.False(t, isRemote("manifest.mpd"))
}

func TestFetchManifest_LocalPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.mpd")
	require.NoError(t, os.WriteFile(path, []byte("<MPD></MPD>"), 0o644))

	f := New(httpclient.New(httpclient.DefaultConfig()))
	data, contentType, err := f.FetchManifest(t.Context(), path)
	require.NoError(t, err)
	assert.Equal(t, "<MPD></MPD>", string(data))
	assert.Empty(t, contentType)
}

func TestFetchManifest_LocalPathMissingFile(t *testing.T) {
	f := New(httpclient.New(httpclient.DefaultConfig()))
	_, _, err := f.FetchManifest(t.Context(), "/nonexistent/manifest.mpd")
	require.Error(t, err)
}

func TestFetchManifest_RemoteReturnsContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/dash+xml")
		_, _ = w.Write([]byte("<MPD></MPD>"))
	}))
	defer srv.Close()

	f := New(httpclient.New(httpclient.DefaultConfig()))
	data, contentType, err := f.FetchManifest(t.Context(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "<MPD></MPD>", string(data))
	assert.Equal(t, "application/dash+xml", contentType)
}

func TestFetchSegment_AppliesRangeHeader(t *testing.T) {
	var gotRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte("segment-bytes"))
	}))
	defer srv.Close()

	f := New(httpclient.New(httpclient.DefaultConfig()))
	rng := &playlist.ResolvedRange{Start: 0, End: 99}
	data, err := f.FetchSegment(t.Context(), 0, srv.URL, rng)
	require.NoError(t, err)
	assert.Equal(t, "segment-bytes", string(data))
	assert.Equal(t, "bytes=0-99", gotRange)
}

func TestEstimateSegmentSize_UsesHeadContentLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("Content-Length", "1234")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := New(httpclient.New(httpclient.DefaultConfig()))
	size, err := f.EstimateSegmentSize(t.Context(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, int64(1234), size)
}

func TestEstimateSegmentSize_FallsBackToRangedGetContentRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Content-Range", "bytes 0-0/98765")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	f := New(httpclient.New(httpclient.DefaultConfig()))
	size, err := f.EstimateSegmentSize(t.Context(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, int64(98765), size)
}

func TestEstimateSegmentSize_NeitherProbeUsableReturnsZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := New(httpclient.New(httpclient.DefaultConfig()))
	size, err := f.EstimateSegmentSize(t.Context(), srv.URL)
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestFetchSegment_NonSuccessStatusIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cfg := httpclient.DefaultConfig()
	cfg.RetryAttempts = 1
	f := New(httpclient.New(cfg))
	_, err := f.FetchSegment(t.Context(), 0, srv.URL, nil)
	require.Error(t, err)
}
