package middleware

import (
	"context"
	"sync"
	"time"
)

// RateLimitConfig defines a fixed request window.
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
}

// LoginRateLimitConfig returns the default login throttle.
func LoginRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{RequestsPerWindow: 10, WindowDuration: time.Minute}
}

// ResetRateLimitConfig returns the default password reset request throttle.
func ResetRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{RequestsPerWindow: 5, WindowDuration: time.Minute}
}

// Limiter decides whether one more request for key fits in the current
// window. When it does not, retryAfter is the time until the window resets.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
	// Remaining reports how many requests key may still make in its window.
	Remaining(ctx context.Context, key string) (int, error)
	// Reset starts key over with an empty window.
	Reset(ctx context.Context, key string) error
}

// RateLimiter is an in-process fixed-window limiter. It suits a single
// service instance; use DistributedRateLimiter to share windows.
type RateLimiter struct {
	config  *RateLimitConfig
	now     func() time.Time
	windows map[string]*window
	mu      sync.Mutex
}

type window struct {
	count   int
	resetAt time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = LoginRateLimitConfig()
	}
	return &RateLimiter{
		config:  config,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// WithClock replaces the limiter clock.
func (rl *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	rl.now = now
	return rl
}

// Allow counts a request for key.
func (rl *RateLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(rl.config.WindowDuration)}
		rl.windows[key] = w
	}
	w.count++
	if w.count > rl.config.RequestsPerWindow {
		return false, w.resetAt.Sub(now), nil
	}
	return true, 0, nil
}

// Remaining returns the number of requests key may still make in its window.
func (rl *RateLimiter) Remaining(_ context.Context, key string) (int, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[key]
	if !ok || !rl.now().Before(w.resetAt) {
		return rl.config.RequestsPerWindow, nil
	}
	if remaining := rl.config.RequestsPerWindow - w.count; remaining > 0 {
		return remaining, nil
	}
	return 0, nil
}

// Reset forgets the window of key.
func (rl *RateLimiter) Reset(_ context.Context, key string) error {
	rl.mu.Lock()
	delete(rl.windows, key)
	rl.mu.Unlock()
	return nil
}

// Cleanup removes expired windows (should be called periodically)
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, w := range rl.windows {
		if !now.Before(w.resetAt) {
			delete(rl.windows, key)
		}
	}
}

// StartCleanup starts a background goroutine to cleanup old windows
func (rl *RateLimiter) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(rl.config.WindowDuration)
	go func() {
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-ctx.Done():
				ticker.Stop()
				return
			}
		}
	}()
}
