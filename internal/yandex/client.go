package yandex

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

// DefaultBaseURL is the production cloud-api endpoint.
const DefaultBaseURL = "https://cloud-api.yandex.net/v1/disk"

// Retry policy: base 1s, factor 2x, max 60s, ±25% jitter, max 5 retries.
const (
	maxRetries     = 5
	baseBackoff    = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
	userAgent      = "disksync/0.1"
)

// Per-request timeouts (architecture §5's "cancellation & timeouts"):
// JSON metadata calls get a short timeout, bulk transfer PUT/GET against
// a pre-authenticated href gets a long one. These are applied per attempt
// via context, not as a blanket http.Client.Timeout — one client value
// cannot serve both a 30s metadata call and a 15-minute upload.
const (
	jsonRequestTimeout     = 30 * time.Second
	transferRequestTimeout = 15 * time.Minute
)

// TokenSource provides the OAuth access token used on every authenticated
// request. Defined at the consumer per "accept interfaces, return
// structs" — do not move this interface to the token provider package.
type TokenSource interface {
	Token() (string, error)
}

// Client is an HTTP client for the cloud resource API: request
// construction, "OAuth <token>" authentication, retry with exponential
// backoff, and HTTP-status error classification (architecture §4.B).
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	logger     *slog.Logger

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a cloud API client. baseURL is typically DefaultBaseURL.
func NewClient(baseURL string, httpClient *http.Client, token TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		token:      token,
		logger:     logger,
		sleepFunc:  timeSleep,
	}
}

// Do executes an authenticated HTTP request against the cloud API with
// automatic retry on transient errors. The caller must close the response
// body on success. On error, returns an *APIError wrapping a sentinel
// (use errors.Is to classify).
func (c *Client) Do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	url := c.baseURL + path

	var attempt int
	for {
		if err := rewindBody(body); err != nil {
			return nil, err
		}

		resp, err := c.doOnce(ctx, method, url, body)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("yandex: request canceled: %w", ctx.Err())
			}

			if attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("method", method),
					slog.String("path", path),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("yandex: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, &APIError{Message: err.Error(), Err: ErrTransport}
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil
		}

		errBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		if isRetryable(resp.StatusCode) && attempt < maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("yandex: request canceled: %w", err)
			}

			attempt++

			continue
		}

		return nil, c.terminalError(method, path, resp.StatusCode, errBody, attempt)
	}
}

// doOnce executes a single HTTP request (no retry), bounded by
// jsonRequestTimeout. The deadline is only released when the caller
// closes the response body, so the timeout covers the full read of a
// (small) JSON payload rather than expiring the instant doOnce returns.
func (c *Client) doOnce(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, jsonRequestTimeout)

	req, err := http.NewRequestWithContext(reqCtx, method, url, body)
	if err != nil {
		cancel()

		return nil, fmt.Errorf("creating request: %w", err)
	}

	tok, err := c.token.Token()
	if err != nil {
		cancel()

		return nil, fmt.Errorf("obtaining token: %w", err)
	}

	req.Header.Set("Authorization", "OAuth "+tok)
	req.Header.Set("User-Agent", userAgent)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		c.logger.Debug("HTTP request failed",
			slog.String("method", method),
			slog.String("url", url),
			slog.String("error", err.Error()),
		)

		return nil, err
	}

	c.logger.Debug("HTTP response received",
		slog.String("method", method),
		slog.String("url", url),
		slog.Int("status", resp.StatusCode),
	)

	resp.Body = &cancelOnCloseBody{ReadCloser: resp.Body, cancel: cancel}

	return resp, nil
}

// cancelOnCloseBody releases a context.WithTimeout's resources when the
// response body is closed, instead of the instant the request completes —
// letting the deadline bound the whole read, not just the round trip.
type cancelOnCloseBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnCloseBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()

	return err
}

// terminalError builds an APIError and logs the final failure.
func (c *Client) terminalError(method, path string, statusCode int, body []byte, attempt int) *APIError {
	apiErr := &APIError{
		StatusCode: statusCode,
		Message:    string(body),
		Err:        classifyStatus(statusCode),
	}
	if apiErr.Err == nil {
		apiErr.Err = ErrProtocol
	}

	if attempt > 0 {
		c.logger.Error("request failed after retries",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", statusCode),
			slog.Int("attempts", attempt+1),
		)
	} else {
		c.logger.Warn("request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", statusCode),
		)
	}

	return apiErr
}

// doPreAuthRetry executes HTTP requests against pre-signed href URLs
// (download/upload) with retry on transient failures, each attempt bounded
// by transferRequestTimeout rather than jsonRequestTimeout — these calls
// move file bytes, not JSON. makeReq is called on each attempt with the
// attempt's own context to build a fresh request, enabling body re-reads.
// No Authorization header is added — the href itself is pre-authenticated,
// and it is never logged since it embeds a short-lived token.
func (c *Client) doPreAuthRetry(
	ctx context.Context, desc string, makeReq func(reqCtx context.Context) (*http.Request, error),
) (*http.Response, error) {
	var attempt int

	for {
		reqCtx, cancel := context.WithTimeout(ctx, transferRequestTimeout)

		req, err := makeReq(reqCtx)
		if err != nil {
			cancel()

			return nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			cancel()

			if ctx.Err() != nil {
				return nil, fmt.Errorf("yandex: %s canceled: %w", desc, ctx.Err())
			}

			if attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying pre-auth request after network error",
					slog.String("desc", desc),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("yandex: %s canceled: %w", desc, sleepErr)
				}

				attempt++

				continue
			}

			return nil, &APIError{Message: err.Error(), Err: ErrTransport}
		}

		resp.Body = &cancelOnCloseBody{ReadCloser: resp.Body, cancel: cancel}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			return resp, nil
		}

		errBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		if isRetryable(resp.StatusCode) && attempt < maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying pre-auth request after HTTP error",
				slog.String("desc", desc),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
				return nil, fmt.Errorf("yandex: %s canceled: %w", desc, sleepErr)
			}

			attempt++

			continue
		}

		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(errBody), Err: classifyStatus(resp.StatusCode)}
		if apiErr.Err == nil {
			apiErr.Err = ErrProtocol
		}

		return nil, apiErr
	}
}

// retryBackoff returns the backoff duration for a retryable response. For
// 429 (throttled), a Retry-After header takes precedence over calculated
// backoff.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// rewindBody seeks an io.Reader back to offset 0 if it implements
// io.Seeker, so retries resend the full payload.
func rewindBody(body io.Reader) error {
	if body == nil {
		return nil
	}

	if seeker, ok := body.(io.Seeker); ok {
		if _, err := seeker.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("yandex: rewinding request body for retry: %w", err)
		}
	}

	return nil
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
