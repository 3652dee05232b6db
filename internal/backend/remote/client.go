package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/boltkit/internal/backend"
	"github.com/Iron-Ham/boltkit/internal/errors"
	"github.com/Iron-Ham/boltkit/internal/logging"
)

// maxErrorBody caps how much of a failed response body is read.
const maxErrorBody = 64 << 10

// RetryPolicy controls request retries.
type RetryPolicy struct {
	// MaxAttempts includes the first attempt.
	MaxAttempts int
	// InitialBackoff is the delay before the second attempt.
	InitialBackoff time.Duration
	// Multiplier grows the delay after every attempt.
	Multiplier float64
}

// DefaultRetryPolicy is 3 attempts, 500ms growing by 1.5x.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialBackoff: 500 * time.Millisecond, Multiplier: 1.5}
}

// Delay returns the wait before attempt n+1, for n >= 1.
func (p RetryPolicy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return time.Duration(float64(p.InitialBackoff) * math.Pow(p.Multiplier, float64(n-1)))
}

// client is a JSON HTTP client for the execution service.
type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	retry   RetryPolicy
	logger  *logging.Logger
}

// doWithRetry runs fn until it succeeds, fails permanently or exhausts the
// policy. Only errors classified retryable are retried.
func doWithRetry[T any](ctx context.Context, logger *logging.Logger, policy RetryPolicy, op string, fn func() (T, error)) (ret T, err error) {
	attempts := max(policy.MaxAttempts, 1)
	for i := 1; i <= attempts; i++ {
		ret, err = fn()
		if err == nil || !errors.IsRetryable(err) || i == attempts {
			return ret, err
		}

		delay := policy.Delay(i)
		logger.Warn("retrying request", "op", op, "attempt", i, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ret, err
		case <-timer.C:
		}
	}
	return ret, err
}

// do sends one JSON request under timeout, retrying transient failures.
// out may be nil when the response body is not needed.
func (c *client) do(ctx context.Context, method, path string, body, out any, timeout time.Duration) error {
	op := method + " " + path

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return errors.NewBackendError(errors.KindUnknown, op, err).
				WithBackend(string(backend.KindRemote)).
				WithRetryable(false)
		}
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	_, err := doWithRetry(ctx, c.logger, c.retry, op, func() (struct{}, error) {
		return struct{}{}, c.attempt(ctx, method, path, payload, out)
	})
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return errors.NewTimeoutError(op, timeout).WithCause(err)
	case ctx.Err() != nil:
		return errors.Wrap(ctx.Err(), op)
	}
	return err
}

// attempt performs a single HTTP round trip.
func (c *client) attempt(ctx context.Context, method, path string, payload []byte, out any) error {
	op := method + " " + path

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.NewBackendError(errors.KindUnknown, op, err).
			WithBackend(string(backend.KindRemote)).
			WithRetryable(false)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.NewBackendError(errors.KindBackendUnreachable, op, err).
			WithBackend(string(backend.KindRemote))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(op, resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.NewBackendError(errors.KindUnknown, op, fmt.Errorf("decoding response: %w", err)).
			WithBackend(string(backend.KindRemote)).
			WithStatusCode(resp.StatusCode)
	}
	return nil
}

// statusError classifies a non-2xx response. 401, 403 and 404 are
// permanent; every other status is retried.
func statusError(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(raw))
	var body ErrorResponse
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	kind := errors.KindUnknown
	retryable := true
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = errors.KindPermissionDenied
		retryable = false
	case http.StatusNotFound:
		kind = errors.KindNotFound
		retryable = false
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		kind = errors.KindBackendUnreachable
	}

	return errors.NewBackendError(kind, op, nil).
		WithBackend(string(backend.KindRemote)).
		WithStatusCode(resp.StatusCode).
		WithMessage(msg).
		WithRetryable(retryable)
}
