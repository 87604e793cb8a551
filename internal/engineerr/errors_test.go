package engineerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetriesExceededError_UnwrapsToSentinel(t *testing.T) {
	err := &RetriesExceededError{Index: 3, URL: "http://example.com/seg3.ts", Cause: errors.New("timeout")}
	assert.ErrorIs(t, err, ErrRetriesExceeded)
	assert.Contains(t, err.Error(), "segment 3")
}

func TestMissingKeyError_MessageListsKIDs(t *testing.T) {
	err := &MissingKeyError{KIDs: []string{"aabb", "ccdd"}}
	assert.ErrorIs(t, err, ErrMissingKey)
	assert.Contains(t, err.Error(), "aabb, ccdd")
	assert.Contains(t, err.Error(), "--key")
}

func TestMuxFailedError_MessageIncludesExitCode(t *testing.T) {
	err := &MuxFailedError{Code: 1}
	assert.ErrorIs(t, err, ErrMuxFailed)
	assert.Contains(t, err.Error(), "status 1")
}

func TestNetworkError_UnwrapsToSentinel(t *testing.T) {
	err := &NetworkError{URL: "http://example.com/", Cause: errors.New("connection reset")}
	assert.ErrorIs(t, err, ErrNetworkError)
}
