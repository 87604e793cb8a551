// Package fetcher is the single place that turns a URL (or local path) into
// bytes for every phase that needs one: manifest load, init-segment/pssh
// discovery, key material, and media segments. Retries and backoff are
// handled by pkg/httpclient; this package adds the Range header for partial
// fetches and classifies a client's final failure into the engine's error
// taxonomy (§4.D, §7, §8 testable property 7).
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/jmylchreest/vsdl/internal/engineerr"
	"github.com/jmylchreest/vsdl/internal/playlist"
	"github.com/jmylchreest/vsdl/pkg/httpclient"
)

// Fetcher wraps a resilient httpclient.Client with the engine's byte-range
// and local-path conventions.
type Fetcher struct {
	client *httpclient.Client
}

// New constructs a Fetcher over client.
func New(client *httpclient.Client) *Fetcher {
	return &Fetcher{client: client}
}

// isRemote reports whether uri should be fetched over HTTP rather than read
// from the local filesystem, mirroring the http/ftp prefix check the
// playlist package uses for relative-URI resolution.
func isRemote(uri string) bool {
	return strings.HasPrefix(uri, "http") || strings.HasPrefix(uri, "ftp")
}

// FetchManifest loads the manifest body from a local path or a remote URL
// and returns its declared Content-Type (empty for local files, left to the
// caller's body-sniffing fallback per §6).
func (f *Fetcher) FetchManifest(ctx context.Context, location string) (data []byte, contentType string, err error) {
	if !isRemote(location) {
		data, err = os.ReadFile(location)
		if err != nil {
			return nil, "", fmt.Errorf("%w: reading manifest %s: %v", engineerr.ErrFileIO, location, err)
		}
		return data, "", nil
	}

	resp, err := f.do(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, "", &engineerr.NetworkError{URL: location, Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", &engineerr.NetworkError{URL: location, Cause: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	data, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", &engineerr.NetworkError{URL: location, Cause: err}
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// Fetch retrieves the full body at absoluteURL. It satisfies both
// keyresolver.Fetcher and the init-segment/pssh-discovery call sites, which
// never need a byte range.
func (f *Fetcher) Fetch(ctx context.Context, absoluteURL string) ([]byte, error) {
	resp, err := f.do(ctx, http.MethodGet, absoluteURL, nil)
	if err != nil {
		return nil, &engineerr.NetworkError{URL: absoluteURL, Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &engineerr.NetworkError{URL: absoluteURL, Cause: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	return io.ReadAll(resp.Body)
}

// FetchSegment retrieves one media or initialization segment, applying rng
// as a Range header when present. index identifies the segment for the
// RetriesExceededError built when the underlying client exhausts its retry
// budget (pkg/httpclient already performs the retry loop and exponential
// backoff; this only classifies the final outcome).
func (f *Fetcher) FetchSegment(ctx context.Context, index int, absoluteURL string, rng *playlist.ResolvedRange) ([]byte, error) {
	var header http.Header
	if rng != nil {
		header = http.Header{"Range": []string{rng.Header()}}
	}

	resp, err := f.do(ctx, http.MethodGet, absoluteURL, header)
	if err != nil {
		if errors.Is(err, httpclient.ErrMaxRetries) || errors.Is(err, httpclient.ErrCircuitOpen) {
			return nil, &engineerr.RetriesExceededError{Index: index, URL: absoluteURL, Cause: err}
		}
		return nil, &engineerr.NetworkError{URL: absoluteURL, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &engineerr.NetworkError{URL: absoluteURL, Cause: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &engineerr.NetworkError{URL: absoluteURL, Cause: err}
	}
	return body, nil
}

// EstimateSegmentSize probes absoluteURL's size ahead of downloading it, so
// a stream's progress Reporter can show a projected total before its first
// segment completes (§11 supplemented feature, pulled from the reference's
// HEAD-then-GET-fallback estimation). It tries a HEAD request's
// Content-Length first; some origins omit Content-Length on HEAD but still
// report the full size via Content-Range on a one-byte ranged GET, so that
// is tried next. A zero result (no error) means neither probe yielded a
// usable size and the caller should fall back to the Merger's running
// average once segments start landing.
func (f *Fetcher) EstimateSegmentSize(ctx context.Context, absoluteURL string) (int64, error) {
	headResp, err := f.do(ctx, http.MethodHead, absoluteURL, nil)
	if err == nil {
		headResp.Body.Close()
		if headResp.StatusCode >= 200 && headResp.StatusCode < 300 && headResp.ContentLength > 0 {
			return headResp.ContentLength, nil
		}
	}

	getResp, err := f.do(ctx, http.MethodGet, absoluteURL, http.Header{"Range": []string{"bytes=0-0"}})
	if err != nil {
		return 0, &engineerr.NetworkError{URL: absoluteURL, Cause: err}
	}
	defer getResp.Body.Close()
	io.Copy(io.Discard, getResp.Body)

	if total, ok := totalFromContentRange(getResp.Header.Get("Content-Range")); ok {
		return total, nil
	}
	return 0, nil
}

// totalFromContentRange extracts the total size from a "bytes START-END/TOTAL"
// Content-Range header value.
func totalFromContentRange(v string) (int64, bool) {
	idx := strings.LastIndex(v, "/")
	if idx < 0 || idx+1 >= len(v) {
		return 0, false
	}
	total, err := strconv.ParseInt(v[idx+1:], 10, 64)
	if err != nil || total <= 0 {
		return 0, false
	}
	return total, true
}

func (f *Fetcher) do(ctx context.Context, method, url string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building %s request for %s: %w", method, url, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return f.client.DoWithContext(ctx, req)
}
