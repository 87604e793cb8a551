package merger

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrite_OutOfOrderStillConcatenatesInOrder(t *testing.T) {
	path := tempPath(t)
	m, err := New(3, path)
	require.NoError(t, err)

	require.NoError(t, m.Write(2, []byte("ccc")))
	require.NoError(t, m.Write(0, []byte("aaa")))
	require.NoError(t, m.Write(1, []byte("bbb")))
	require.NoError(t, m.Flush())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "aaabbbccc", string(got))
}

func TestWrite_InOrderStreamsDirectly(t *testing.T) {
	path := tempPath(t)
	m, err := New(2, path)
	require.NoError(t, err)

	require.NoError(t, m.Write(0, []byte("hello")))
	assert.True(t, m.Buffered())
	assert.Equal(t, int64(5), m.Stored())

	require.NoError(t, m.Write(1, []byte("world")))
	require.NoError(t, m.Flush())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "helloworld", string(got))
}

func TestEstimate_ProjectsFromAverageSegmentSize(t *testing.T) {
	path := tempPath(t)
	m, err := New(4, path)
	require.NoError(t, err)

	assert.Equal(t, int64(0), m.Estimate())

	require.NoError(t, m.Write(0, []byte("1234")))
	assert.Equal(t, int64(16), m.Estimate())

	require.NoError(t, m.Write(1, []byte("5678")))
	assert.Equal(t, int64(16), m.Estimate())

	require.NoError(t, m.Flush())
}

func tempPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return dir + "/out.bin"
}
