package twitchapi

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxPause caps how long a Ratelimit-Reset header can stall callers, guarding
// against clock skew between us and the API.
const maxPause = time.Minute

// Budget is the process-wide request budget for the Twitch API. Every client
// shares one Budget so concurrent jobs pace themselves together: a token bucket
// spaces requests out, and the Ratelimit-* response headers pause everyone once
// the remote bucket runs low. A nil *Budget imposes no limit.
type Budget struct {
	limiter  *rate.Limiter
	lowWater int

	mu          sync.Mutex
	remaining   int
	pausedUntil time.Time
}

// NewBudget returns a budget allowing rps requests per second with the given
// burst. rps <= 0 disables local pacing. When the API reports lowWater or fewer
// remaining points, callers wait until its reset time.
func NewBudget(rps float64, burst, lowWater int) *Budget {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst < 1 {
		burst = 1
	}
	return &Budget{limiter: rate.NewLimiter(limit, burst), lowWater: lowWater, remaining: -1}
}

// Wait blocks until a request may be sent or ctx is done.
func (b *Budget) Wait(ctx context.Context) error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	until := b.pausedUntil
	b.mu.Unlock()
	if d := time.Until(until); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return b.limiter.Wait(ctx)
}

// Observe records the rate-limit headers of a response.
func (b *Budget) Observe(h http.Header) {
	if b == nil {
		return
	}
	n, err := strconv.Atoi(h.Get("Ratelimit-Remaining"))
	if err != nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remaining = n
	if n > b.lowWater {
		return
	}
	sec, err := strconv.ParseInt(h.Get("Ratelimit-Reset"), 10, 64)
	if err != nil {
		return
	}
	until := time.Unix(sec, 0)
	if limit := time.Now().Add(maxPause); until.After(limit) {
		until = limit
	}
	if until.After(b.pausedUntil) {
		b.pausedUntil = until
	}
}

// Remaining is the last reported number of remaining points, or -1 when unknown.
func (b *Budget) Remaining() int {
	if b == nil {
		return -1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining
}

// PausedUntil reports until when requests are held back.
func (b *Budget) PausedUntil() time.Time {
	if b == nil {
		return time.Time{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pausedUntil
}
