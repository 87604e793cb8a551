// Package engineerr defines the download engine's error taxonomy (§7): a
// sentinel per category plus typed wrappers carrying the diagnostic context
// (URL, segment index, KID set) that each category requires.
package engineerr

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels. Wrap these with fmt.Errorf("...: %w", ErrX) or one of the typed
// errors below so callers can classify with errors.Is/errors.As while still
// getting a situation-specific message.
var (
	ErrUnsupportedManifest = errors.New("unsupported manifest")
	ErrParseError          = errors.New("parse error")
	ErrNoMatchingQuality   = errors.New("no matching quality")
	ErrMissingKey          = errors.New("missing key")
	ErrUnsupportedKeyMethod = errors.New("unsupported key method")
	ErrNetworkError        = errors.New("network error")
	ErrRetriesExceeded     = errors.New("retries exceeded")
	ErrDecryptionFailed    = errors.New("decryption failed")
	ErrUnknownSubtitleCodec = errors.New("unknown subtitle codec")
	ErrFileIO              = errors.New("file io error")
	ErrMuxFailed           = errors.New("mux failed")
	ErrUnexpected          = errors.New("unexpected error")
)

// RetriesExceededError reports a segment that exhausted its retry budget.
type RetriesExceededError struct {
	Index int
	URL    string
	Cause  error
}

func (e *RetriesExceededError) Error() string {
	return fmt.Sprintf("retries exceeded for segment %d (%s): %v", e.Index, e.URL, e.Cause)
}

func (e *RetriesExceededError) Unwrap() error { return ErrRetriesExceeded }

// MissingKeyError reports default KIDs that have no matching user-supplied
// key. The message names the key-supply flag per §4.C.
type MissingKeyError struct {
	KIDs []string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("no decryption key supplied for key id(s) %s: use --key to specify CENC content decryption keys", strings.Join(e.KIDs, ", "))
}

func (e *MissingKeyError) Unwrap() error { return ErrMissingKey }

// MuxFailedError reports a non-zero ffmpeg exit status.
type MuxFailedError struct {
	Code int
}

func (e *MuxFailedError) Error() string {
	return fmt.Sprintf("ffmpeg muxer exited with status %d", e.Code)
}

func (e *MuxFailedError) Unwrap() error { return ErrMuxFailed }

// NetworkError reports a transport-level failure fetching a URL.
type NetworkError struct {
	URL   string
	Cause error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error fetching %s: %v", e.URL, e.Cause)
}

func (e *NetworkError) Unwrap() error { return ErrNetworkError }
