package crawler

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostLimiter spaces out requests to the same host. It combines a minimum
// delay between request starts with an optional token bucket. Different
// hosts never wait on each other.
type HostLimiter struct {
	delay     time.Duration
	perSecond float64

	mu       sync.Mutex
	next     map[string]time.Time
	limiters map[string]*rate.Limiter
}

// NewHostLimiter creates a limiter. delay is the minimum gap between two
// requests to one host; perSecond is the sustained request rate per host.
// Zero disables the respective constraint.
func NewHostLimiter(delay time.Duration, perSecond float64) *HostLimiter {
	return &HostLimiter{
		delay:     delay,
		perSecond: perSecond,
		next:      make(map[string]time.Time),
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Wait blocks until a request to host may start, or ctx is done.
func (l *HostLimiter) Wait(ctx context.Context, host string) error {
	if l == nil || host == "" || (l.delay <= 0 && l.perSecond <= 0) {
		return nil
	}
	host = strings.ToLower(host)

	var sleep time.Duration
	var limiter *rate.Limiter

	l.mu.Lock()
	if l.delay > 0 {
		// Reserve a slot so concurrent workers queue up behind each other
		// instead of all waking at the same instant.
		now := time.Now()
		slot := l.next[host]
		if slot.Before(now) {
			slot = now
		}
		sleep = slot.Sub(now)
		l.next[host] = slot.Add(l.delay)
	}
	if l.perSecond > 0 {
		limiter = l.limiterLocked(host)
	}
	l.mu.Unlock()

	if sleep > 0 {
		timer := time.NewTimer(sleep)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if limiter != nil {
		return limiter.Wait(ctx)
	}
	return nil
}

func (l *HostLimiter) limiterLocked(host string) *rate.Limiter {
	if lim, ok := l.limiters[host]; ok {
		return lim
	}
	burst := 1
	if l.perSecond > 1 {
		burst = int(l.perSecond)
	}
	lim := rate.NewLimiter(rate.Limit(l.perSecond), burst)
	l.limiters[host] = lim
	return lim
}
