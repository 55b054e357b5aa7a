package transport

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/rdimagefs/rdimagefs/internal/logger"
	"github.com/rdimagefs/rdimagefs/pkg/ioerrors"
)

// retryConfig holds backoff settings for transient transport errors.
type retryConfig struct {
	maxRetries        uint
	initialBackoff    time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
}

func defaultRetryConfig() retryConfig {
	return retryConfig{
		maxRetries:        3,
		initialBackoff:    100 * time.Millisecond,
		maxBackoff:        2 * time.Second,
		backoffMultiplier: 2.0,
	}
}

func (c retryConfig) backoff(attempt uint) time.Duration {
	d := float64(c.initialBackoff) * math.Pow(c.backoffMultiplier, float64(attempt))
	if d > float64(c.maxBackoff) {
		return c.maxBackoff
	}
	return time.Duration(d)
}

// HTTPTransport fetches chunk data over plain HTTP(S) range requests. It is
// the default transport for http:// and https:// origin URLs.
type HTTPTransport struct {
	client *http.Client
	retry  retryConfig
}

// NewHTTPTransport builds an HTTPTransport. A nil client uses http.DefaultClient.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{client: client, retry: defaultRetryConfig()}
}

func rangeHeader(offset, length uint64) string {
	return fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
}

func applyValidators(req *http.Request, v Validators) {
	if v.ETag != "" {
		req.Header.Set("If-Match", v.ETag)
	}
	if v.LastModified != "" {
		req.Header.Set("If-Unmodified-Since", v.LastModified)
	}
}

func applyAuth(req *http.Request, a Auth) {
	if a.Username != "" || a.Password != "" {
		req.SetBasicAuth(a.Username, a.Password)
	}
}

// checkValidators reports a validator mismatch as a fatal, non-retryable
// error distinct from a plain network failure, per section 6.
func checkValidators(resp *http.Response, v Validators) error {
	if resp.StatusCode == http.StatusPreconditionFailed {
		return fmt.Errorf("%w: origin precondition failed", ioerrors.ErrValidatorMismatch)
	}
	if v.ETag != "" {
		if got := resp.Header.Get("ETag"); got != "" && got != v.ETag {
			return fmt.Errorf("%w: etag changed from %q to %q", ioerrors.ErrValidatorMismatch, v.ETag, got)
		}
	}
	return nil
}

// isRetryable distinguishes transient transport failures (worth a retry)
// from fatal ones (validator mismatch, any 4xx) that must propagate
// immediately.
func isRetryable(statusCode int) bool {
	if statusCode == 0 {
		return true // network-level error, no response at all
	}
	switch statusCode {
	case http.StatusRequestedRangeNotSatisfiable, http.StatusPreconditionFailed:
		return false
	}
	return statusCode >= 500
}

// Fetch performs a single bounded range request, retrying transient failures
// with exponential backoff and aborting immediately on cancellation or a
// validator mismatch.
func (t *HTTPTransport) Fetch(ctx context.Context, req FetchRequest) ([]byte, error) {
	var lastErr error
	for attempt := uint(0); attempt <= t.retry.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(t.retry.backoff(attempt - 1)):
			}
			logger.Debug("http transport: retrying fetch", logger.URL(req.URL), logger.Attempt(int(attempt)), logger.MaxRetries(int(t.retry.maxRetries)))
		}

		data, statusCode, err := t.fetchOnce(ctx, req)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isRetryable(statusCode) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %v", ioerrors.ErrNetworkTransport, lastErr)
}

func (t *HTTPTransport) fetchOnce(ctx context.Context, req FetchRequest) ([]byte, int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Range", rangeHeader(req.Offset, req.Length))
	applyValidators(httpReq, req.Validators)
	applyAuth(httpReq, req.Auth)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if err := checkValidators(resp, req.Validators); err != nil {
		return nil, resp.StatusCode, err
	}
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	buf := make([]byte, req.Length)
	n, err := io.ReadFull(resp.Body, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	if uint64(n) < req.Length {
		return nil, resp.StatusCode, fmt.Errorf("%w: got %d of %d bytes", ioerrors.ErrPrematureEOF, n, req.Length)
	}
	return buf, resp.StatusCode, nil
}

// FetchStream performs a single streaming range request, delivering the body
// to dataCB in fixed-size pieces and checking ctx between reads so the
// streamer can be interrupted promptly without waiting for the whole range.
func (t *HTTPTransport) FetchStream(ctx context.Context, req StreamRequest, dataCB DataFunc) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Range", rangeHeader(req.Offset, req.Length))
	applyValidators(httpReq, req.Validators)
	applyAuth(httpReq, req.Auth)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ioerrors.ErrNetworkTransport, err)
	}
	defer resp.Body.Close()

	if err := checkValidators(resp, req.Validators); err != nil {
		return err
	}
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	const pieceSize = 256 * 1024
	buf := make([]byte, pieceSize)
	var delivered uint64
	for delivered < req.Length {
		if err := ctx.Err(); err != nil {
			return err
		}
		want := uint64(len(buf))
		if remaining := req.Length - delivered; remaining < want {
			want = remaining
		}
		n, err := io.ReadFull(resp.Body, buf[:want])
		if n > 0 {
			if cbErr := dataCB(buf[:n]); cbErr != nil {
				return cbErr
			}
			delivered += uint64(n)
		}
		if err != nil {
			if err == io.ErrUnexpectedEOF || err == io.EOF {
				if delivered < req.Length {
					return ioerrors.ErrPrematureEOF
				}
				break
			}
			return fmt.Errorf("%w: %v", ioerrors.ErrNetworkTransport, err)
		}
	}
	return nil
}
