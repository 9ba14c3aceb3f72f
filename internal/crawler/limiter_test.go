package crawler

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestHostLimiter(t *testing.T) {
	t.Parallel()

	t.Run("nil and disabled limiters never wait", func(t *testing.T) {
		t.Parallel()

		var nilLimiter *HostLimiter
		if err := nilLimiter.Wait(context.Background(), "example.com"); err != nil {
			t.Errorf("unexpected error: %v", err)
		}

		l := NewHostLimiter(0, 0)
		started := time.Now()
		for range 10 {
			if err := l.Wait(context.Background(), "example.com"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if elapsed := time.Since(started); elapsed > 50*time.Millisecond {
			t.Errorf("expected no waiting, took %v", elapsed)
		}
	})

	t.Run("spaces requests to the same host", func(t *testing.T) {
		t.Parallel()

		l := NewHostLimiter(40*time.Millisecond, 0)
		started := time.Now()
		for range 3 {
			if err := l.Wait(context.Background(), "example.com"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if elapsed := time.Since(started); elapsed < 80*time.Millisecond {
			t.Errorf("expected at least 80ms between three requests, took %v", elapsed)
		}
	})

	t.Run("hosts are independent", func(t *testing.T) {
		t.Parallel()

		l := NewHostLimiter(200*time.Millisecond, 0)
		started := time.Now()
		for _, host := range []string{"a.example.com", "b.example.com", "c.example.com"} {
			if err := l.Wait(context.Background(), host); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if elapsed := time.Since(started); elapsed > 100*time.Millisecond {
			t.Errorf("expected first request per host to pass immediately, took %v", elapsed)
		}
	})

	t.Run("rate limit", func(t *testing.T) {
		t.Parallel()

		l := NewHostLimiter(0, 20)
		started := time.Now()
		for range 25 {
			if err := l.Wait(context.Background(), "example.com"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if elapsed := time.Since(started); elapsed < 200*time.Millisecond {
			t.Errorf("expected rate limiting to slow 25 requests at 20/s, took %v", elapsed)
		}
	})

	t.Run("honours cancellation", func(t *testing.T) {
		t.Parallel()

		l := NewHostLimiter(time.Hour, 0)
		if err := l.Wait(context.Background(), "example.com"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if err := l.Wait(ctx, "example.com"); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
	})
}
