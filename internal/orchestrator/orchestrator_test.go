package orchestrator

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vsdl/internal/engineerr"
	"github.com/jmylchreest/vsdl/internal/muxer"
	"github.com/jmylchreest/vsdl/internal/playlist"
)

func TestDetectManifestKind_ByContentType(t *testing.T) {
	kind, err := detectManifestKind("stream", "application/dash+xml; charset=utf-8", nil)
	require.NoError(t, err)
	assert.Equal(t, playlist.Dash, kind)

	kind, err = detectManifestKind("stream", "application/vnd.apple.mpegurl", nil)
	require.NoError(t, err)
	assert.Equal(t, playlist.Hls, kind)
}

func TestDetectManifestKind_ByBodySniff(t *testing.T) {
	kind, err := detectManifestKind("stream", "", []byte("  <MPD type=\"static\">...</MPD>"))
	require.NoError(t, err)
	assert.Equal(t, playlist.Dash, kind)

	kind, err = detectManifestKind("stream", "", []byte("#EXTM3U\n#EXT-X-VERSION:3\n"))
	require.NoError(t, err)
	assert.Equal(t, playlist.Hls, kind)
}

func TestDetectManifestKind_ByExtensionFallback(t *testing.T) {
	kind, err := detectManifestKind("/tmp/manifest.mpd", "", []byte("unrecognized body"))
	require.NoError(t, err)
	assert.Equal(t, playlist.Dash, kind)

	kind, err = detectManifestKind("/tmp/playlist.m3u8", "", []byte("unrecognized body"))
	require.NoError(t, err)
	assert.Equal(t, playlist.Hls, kind)
}

func TestDetectManifestKind_UnrecognizedReturnsError(t *testing.T) {
	_, err := detectManifestKind("/tmp/whatever.bin", "", []byte("neither"))
	require.Error(t, err)
	assert.ErrorIs(t, err, engineerr.ErrUnsupportedManifest)
}

func TestDetectManifestKind_ShortBodyDoesNotPanic(t *testing.T) {
	_, err := detectManifestKind("stream", "", []byte("hi"))
	require.Error(t, err)
}

func TestParseUserKeys_ParsesKidKeyPairsAndBareKeys(t *testing.T) {
	keys, err := parseUserKeys([]string{
		"aabbccdd:00112233445566778899aabbccddeeff",
		"00112233445566778899aabbccddeeff",
	})
	require.NoError(t, err)
	require.Len(t, keys, 2)

	assert.Equal(t, []byte{0xaa, 0xbb, 0xcc, 0xdd}, keys[0].KID)
	assert.Len(t, keys[0].Key, 16)
	assert.Nil(t, keys[1].KID)
	assert.Len(t, keys[1].Key, 16)
}

func TestParseUserKeys_InvalidHexFails(t *testing.T) {
	_, err := parseUserKeys([]string{"zz:00"})
	require.Error(t, err)
	assert.ErrorIs(t, err, engineerr.ErrParseError)

	_, err = parseUserKeys([]string{"aabb:zz"})
	require.Error(t, err)
	assert.ErrorIs(t, err, engineerr.ErrParseError)
}

func TestParseUserKeys_EmptyInputReturnsEmptySlice(t *testing.T) {
	keys, err := parseUserKeys(nil)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestCleanupTempFiles_RemovesInputsAndEmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	workDir := filepath.Join(dir, "work")
	require.NoError(t, os.Mkdir(workDir, 0o755))

	streamPath := filepath.Join(workDir, "stream.0.m4s")
	require.NoError(t, os.WriteFile(streamPath, []byte("data"), 0o644))

	cleanupTempFiles([]muxer.Input{{Path: streamPath}}, workDir, slog.Default())

	_, err := os.Stat(streamPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(workDir)
	assert.True(t, os.IsNotExist(err))
}

func TestCleanupTempFiles_LeavesNonEmptyDirectoryInPlace(t *testing.T) {
	dir := t.TempDir()
	workDir := filepath.Join(dir, "work")
	require.NoError(t, os.Mkdir(workDir, 0o755))

	streamPath := filepath.Join(workDir, "stream.0.m4s")
	require.NoError(t, os.WriteFile(streamPath, []byte("data"), 0o644))
	leftover := filepath.Join(workDir, "leftover.txt")
	require.NoError(t, os.WriteFile(leftover, []byte("keep"), 0o644))

	cleanupTempFiles([]muxer.Input{{Path: streamPath}}, workDir, slog.Default())

	_, err := os.Stat(workDir)
	require.NoError(t, err)
	_, err = os.Stat(leftover)
	assert.NoError(t, err)
}

func TestCleanupTempFiles_NeverRemovesCurrentDirectory(t *testing.T) {
	cleanupTempFiles(nil, ".", slog.Default())
	_, err := os.Stat(".")
	assert.NoError(t, err)
}

func TestFirstNonEmpty_PrefersFirstArgument(t *testing.T) {
	assert.Equal(t, "a", firstNonEmpty("a", "b"))
	assert.Equal(t, "b", firstNonEmpty("", "b"))
	assert.Equal(t, "", firstNonEmpty("", ""))
}
