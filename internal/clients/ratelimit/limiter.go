// Package ratelimit spaces out calls to external APIs and backs off when a
// provider reports that calls are too frequent.
package ratelimit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrRateLimited marks an error caused by the provider throttling calls.
var ErrRateLimited = errors.New("rate limited")

const (
	maxBackoffFactor = 16
	// successesPerDecay is how many clean calls halve the backoff factor
	successesPerDecay = 5
)

// Limiter enforces a minimum interval between calls. Each reported violation
// doubles the interval up to 16x the base; consecutive successful calls
// decay it back.
type Limiter struct {
	mu        sync.Mutex
	base      time.Duration
	factor    int
	successes int
	last      time.Time
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
	log       zerolog.Logger
}

// New creates a limiter with base spacing between calls
func New(base time.Duration, log zerolog.Logger) *Limiter {
	return &Limiter{
		base:   base,
		factor: 1,
		now:    time.Now,
		sleep:  sleepContext,
		log:    log.With().Str("component", "rate_limiter").Logger(),
	}
}

// WaitIfNeeded blocks until the current interval has passed since the
// previous call, or ctx is done.
func (l *Limiter) WaitIfNeeded(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.factor > 1 {
		l.successes++
		if l.successes >= successesPerDecay {
			l.factor /= 2
			l.successes = 0
		}
	}

	interval := l.base * time.Duration(l.factor)
	if !l.last.IsZero() {
		if wait := interval - l.now().Sub(l.last); wait > 0 {
			if err := l.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
	l.last = l.now()
	return nil
}

// ReportViolation doubles the interval, up to the cap.
func (l *Limiter) ReportViolation() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.factor < maxBackoffFactor {
		l.factor *= 2
	}
	l.successes = 0
	l.log.Warn().Dur("interval", l.base*time.Duration(l.factor)).Msg("Rate limit hit, backing off")
}

// Interval returns the current spacing between calls.
func (l *Limiter) Interval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.base * time.Duration(l.factor)
}

// IsRateLimitError reports whether err looks like provider throttling.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "too many") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "429")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
