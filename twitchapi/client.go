package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const userAgent = "vod-chat/1.0 (+https://github.com/onnwee/vod-chat)"

// ErrNotFound is returned when a user or video does not exist.
var ErrNotFound = errors.New("not found")

// StatusError is a non-2xx API response.
type StatusError struct {
	Status int
	URL    string
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("twitch api status %d (%s): %s", e.Status, e.URL, e.Body)
}

// Temporary reports whether the request may succeed when retried (429 and 5xx).
func (e *StatusError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// retryAfterError carries a server-provided delay alongside the status error.
type retryAfterError struct {
	status *StatusError
	after  *backoff.RetryAfterError
}

func (e *retryAfterError) Error() string   { return e.status.Error() }
func (e *retryAfterError) Unwrap() []error { return []error{e.status, e.after} }

// RetryPolicy bounds retries of transient failures (429, 5xx, transport errors).
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// Notify, if set, is called before each retry with the error and the wait.
	Notify func(err error, wait time.Duration)
}

// DefaultRetryPolicy is five attempts starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, InitialInterval: time.Second, MaxInterval: 30 * time.Second}
}

func (p RetryPolicy) options() []backoff.RetryOption {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = def.InitialInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = max(def.MaxInterval, p.InitialInterval)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
	}
	if p.Notify != nil {
		opts = append(opts, backoff.WithNotify(p.Notify))
	}
	return opts
}

// caller performs authenticated, budgeted, retried GET requests.
type caller struct {
	clientID string
	creds    Credentials
	hc       *http.Client
	budget   *Budget
	retry    RetryPolicy
}

func newCaller(clientID string, creds Credentials, hc *http.Client, budget *Budget, retry RetryPolicy) *caller {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &caller{clientID: clientID, creds: creds, hc: hc, budget: budget, retry: retry}
}

// getJSON decodes the response of GET u into out, retrying transient failures.
// A 401 drops a refreshable token and repeats the request once with a new one.
func (c *caller) getJSON(ctx context.Context, u string, out any) error {
	err := c.retried(ctx, u, out)
	var se *StatusError
	if errors.As(err, &se) && se.Status == http.StatusUnauthorized {
		if inv, ok := c.creds.(interface{ Invalidate() }); ok {
			inv.Invalidate()
			return c.retried(ctx, u, out)
		}
	}
	return err
}

func (c *caller) retried(ctx context.Context, u string, out any) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, c.attempt(ctx, u, out)
	}, c.retry.options()...)
	return err
}

func (c *caller) attempt(ctx context.Context, u string, out any) error {
	if err := c.budget.Wait(ctx); err != nil {
		return backoff.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if c.clientID != "" {
		req.Header.Set("Client-Id", c.clientID)
	}
	if c.creds != nil {
		tok, err := c.creds.Get(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	c.budget.Observe(resp.Header)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s: %w", u, err)
		}
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	se := &StatusError{Status: resp.StatusCode, URL: u, Body: strings.TrimSpace(string(b))}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return backoff.Permanent(fmt.Errorf("%w: %w", ErrAuth, se))
	case se.Temporary():
		if d := retryAfter(resp.Header); d > 0 {
			return &retryAfterError{status: se, after: &backoff.RetryAfterError{Duration: d}}
		}
		return se
	default:
		return backoff.Permanent(se)
	}
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date,
// capped at maxPause.
func retryAfter(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	var d time.Duration
	if n, err := strconv.Atoi(v); err == nil {
		if n > int(maxPause/time.Second) {
			return maxPause
		}
		d = time.Duration(n) * time.Second
	} else if t, err := http.ParseTime(v); err == nil {
		d = time.Until(t)
	}
	return min(d, maxPause)
}
