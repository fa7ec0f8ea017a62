// Package ratelimit bounds how fast and how wide the gateway dials.
// Telephony minutes are billed; a runaway caller script should hit
// this wall, not the account balance.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

type Config struct {
	// CallsPerSecond caps the rate of new outbound calls. Zero disables
	// rate limiting.
	CallsPerSecond float64
	Burst          int

	// MaxConcurrentCalls caps live bridged calls. Zero disables the cap.
	MaxConcurrentCalls int
}

// Limiter gates call placement. Live-call counts come from the
// tracker via the active func, so the cap follows real session
// lifetimes rather than bookkeeping here.
type Limiter struct {
	cfg    Config
	active func() int

	mu     sync.Mutex
	tokens float64
	last   time.Time
}

func New(cfg Config, active func() int) *Limiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if active == nil {
		active = func() int { return 0 }
	}
	return &Limiter{
		cfg:    cfg,
		active: active,
		tokens: float64(cfg.Burst),
	}
}

type Decision struct {
	OK         bool
	Reason     string
	RetryAfter time.Duration
}

// Allow decides whether one more call may be placed now.
func (l *Limiter) Allow(now time.Time) Decision {
	if l == nil {
		return Decision{OK: true}
	}

	if l.cfg.MaxConcurrentCalls > 0 && l.active() >= l.cfg.MaxConcurrentCalls {
		return Decision{
			OK:         false,
			Reason:     "too many concurrent calls",
			RetryAfter: 30 * time.Second,
		}
	}

	if l.cfg.CallsPerSecond <= 0 {
		return Decision{OK: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.last.IsZero() {
		l.last = now
	}
	elapsed := now.Sub(l.last).Seconds()
	l.last = now
	l.tokens = math.Min(float64(l.cfg.Burst), l.tokens+elapsed*l.cfg.CallsPerSecond)

	if l.tokens < 1 {
		wait := (1 - l.tokens) / l.cfg.CallsPerSecond
		return Decision{
			OK:         false,
			Reason:     "call rate exceeded",
			RetryAfter: time.Duration(math.Ceil(wait)) * time.Second,
		}
	}
	l.tokens--
	return Decision{OK: true}
}
