package twitchapi

import (
	"context"
	"net/http"
	"strconv"
	"testing"
	"time"
)

func TestBudget_NilIsUnlimited(t *testing.T) {
	var b *Budget
	if err := b.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
	b.Observe(http.Header{"Ratelimit-Remaining": []string{"0"}})
	if b.Remaining() != -1 {
		t.Errorf("Remaining() = %d, want -1", b.Remaining())
	}
}

func TestBudget_ObservePausesWhenLow(t *testing.T) {
	b := NewBudget(0, 1, 5)
	reset := time.Now().Add(2 * time.Second).Unix()
	h := http.Header{}
	h.Set("Ratelimit-Remaining", "3")
	h.Set("Ratelimit-Reset", strconv.FormatInt(reset, 10))
	b.Observe(h)

	if b.Remaining() != 3 {
		t.Errorf("Remaining() = %d, want 3", b.Remaining())
	}
	if got := b.PausedUntil().Unix(); got != reset {
		t.Errorf("PausedUntil() = %d, want %d", got, reset)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := b.Wait(ctx); err == nil {
		t.Error("Wait() should block until reset and hit the context deadline")
	}
}

func TestBudget_ObserveIgnoresHealthyBucket(t *testing.T) {
	b := NewBudget(0, 1, 5)
	h := http.Header{}
	h.Set("Ratelimit-Remaining", "700")
	h.Set("Ratelimit-Reset", strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10))
	b.Observe(h)
	if !b.PausedUntil().IsZero() {
		t.Errorf("PausedUntil() = %v, want zero", b.PausedUntil())
	}
}

func TestBudget_PauseIsCapped(t *testing.T) {
	b := NewBudget(0, 1, 5)
	h := http.Header{}
	h.Set("Ratelimit-Remaining", "0")
	h.Set("Ratelimit-Reset", strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10))
	b.Observe(h)
	if d := time.Until(b.PausedUntil()); d > maxPause {
		t.Errorf("pause %v exceeds cap %v", d, maxPause)
	}
}

func TestBudget_Paces(t *testing.T) {
	b := NewBudget(20, 1, 0)
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := b.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	// burst of one then two 50ms waits
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("three waits took %v, want >= ~100ms", elapsed)
	}
}

func TestRetryAfter(t *testing.T) {
	h := http.Header{}
	if retryAfter(h) != 0 {
		t.Error("missing header should be 0")
	}
	h.Set("Retry-After", "7")
	if got := retryAfter(h); got != 7*time.Second {
		t.Errorf("retryAfter = %v", got)
	}
	h.Set("Retry-After", time.Now().Add(30*time.Second).UTC().Format(http.TimeFormat))
	if got := retryAfter(h); got < 25*time.Second || got > 31*time.Second {
		t.Errorf("retryAfter(date) = %v", got)
	}
	h.Set("Retry-After", "86400")
	if got := retryAfter(h); got != maxPause {
		t.Errorf("retryAfter(1 day) = %v, want cap %v", got, maxPause)
	}
	h.Set("Retry-After", time.Now().Add(6*time.Hour).UTC().Format(http.TimeFormat))
	if got := retryAfter(h); got != maxPause {
		t.Errorf("retryAfter(far date) = %v, want cap %v", got, maxPause)
	}
}
