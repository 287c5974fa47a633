// Package httpclient performs conditional HTTP fetches for artifact sync.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const (
	// DefaultTimeout is the default per-request timeout.
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the maximum allowed response size (10MB). Artifact
	// definitions are markdown files; anything larger is rejected.
	MaxResponseSize = 10 * 1024 * 1024

	// UserAgent is the user agent string for HTTP requests.
	UserAgent = "skillsync/1.0"
)

// Outcome classifies the result of a conditional fetch.
type Outcome int

const (
	// OutcomeFresh means the remote resource matches the known ETag (HTTP 304).
	OutcomeFresh Outcome = iota

	// OutcomeUpdated means new content was retrieved (HTTP 200).
	OutcomeUpdated

	// OutcomeError means the fetch failed; the failure is non-fatal to the
	// caller and carried in Result.Err.
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFresh:
		return "fresh"
	case OutcomeUpdated:
		return "updated"
	case OutcomeError:
		return "error"
	default:
		return "unknown"
	}
}

// Result is the outcome of a single conditional fetch.
type Result struct {
	Outcome Outcome

	// Content is the response body for OutcomeUpdated.
	Content []byte

	// ETag is the response ETag for OutcomeUpdated; empty if the server
	// omits the header.
	ETag string

	// Err describes the failure for OutcomeError.
	Err error
}

// Client is an interface for conditional HTTP fetch operations.
type Client interface {
	// Fetch performs a conditional GET against url. knownETag, when non-empty
	// and force is unset, is sent as If-None-Match.
	Fetch(ctx context.Context, url, knownETag string, force bool) Result
}

// DefaultClient is the default fetcher implementation.
type DefaultClient struct {
	client *http.Client
}

// NewDefaultClient creates a new fetcher with the specified timeout.
// If timeout is 0, DefaultTimeout is used.
func NewDefaultClient(timeout time.Duration) Client {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &DefaultClient{
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Fetch performs a conditional GET, retrying once on timeout. Sync is
// on-demand rather than continuous, so there is no backoff schedule.
func (c *DefaultClient) Fetch(ctx context.Context, url, knownETag string, force bool) Result {
	res := c.doFetch(ctx, url, knownETag, force)
	if res.Outcome == OutcomeError && isTimeout(res.Err) && ctx.Err() == nil {
		res = c.doFetch(ctx, url, knownETag, force)
	}
	return res
}

func (c *DefaultClient) doFetch(ctx context.Context, url, knownETag string, force bool) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{Outcome: OutcomeError, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	req.Header.Set("User-Agent", UserAgent)
	if knownETag != "" && !force {
		req.Header.Set("If-None-Match", knownETag)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{Outcome: OutcomeError, Err: fmt.Errorf("failed to execute request: %w", err)}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return Result{Outcome: OutcomeFresh}
	case resp.StatusCode == http.StatusOK:
		body, err := readBody(resp)
		if err != nil {
			return Result{Outcome: OutcomeError, Err: err}
		}
		return Result{
			Outcome: OutcomeUpdated,
			Content: body,
			ETag:    resp.Header.Get("ETag"),
		}
	default:
		return Result{Outcome: OutcomeError, Err: NewHTTPError(resp.StatusCode, url, resp.Status)}
	}
}

// readBody reads the response body, enforcing MaxResponseSize.
func readBody(resp *http.Response) ([]byte, error) {
	if resp.ContentLength > MaxResponseSize {
		return nil, fmt.Errorf("response size %d bytes exceeds maximum allowed size of %d bytes",
			resp.ContentLength, MaxResponseSize)
	}

	limitedReader := io.LimitReader(resp.Body, MaxResponseSize+1)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("response size exceeds maximum allowed size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// isTimeout reports whether err is a request timeout rather than a hard
// network or protocol failure.
func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
