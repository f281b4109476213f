package server

import (
	"sync"
	"time"
)

const windowMs = 60000

type rateLimitState struct {
	requests []int64
}

// RateLimiter implements per-client sliding window rate limiting.
type RateLimiter struct {
	limits            map[string]*rateLimitState
	maxRequestsPerMin int
	mu                sync.Mutex
	stopCleanup       chan struct{}
}

// NewRateLimiter creates a rate limiter allowing maxRequestsPerMinute
// requests per client per minute.
func NewRateLimiter(maxRequestsPerMinute int) *RateLimiter {
	rl := &RateLimiter{
		limits:            make(map[string]*rateLimitState),
		maxRequestsPerMin: maxRequestsPerMinute,
		stopCleanup:       make(chan struct{}),
	}

	go rl.runCleanup()

	return rl
}

// Allow reports whether a request from the given client may proceed, and
// counts it if so.
func (rl *RateLimiter) Allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now().UnixMilli()

	state, exists := rl.limits[client]
	if !exists {
		state = &rateLimitState{}
		rl.limits[client] = state
	}

	valid := state.requests[:0]
	for _, t := range state.requests {
		if now-t < windowMs {
			valid = append(valid, t)
		}
	}
	state.requests = valid

	if len(state.requests) >= rl.maxRequestsPerMin {
		return false
	}

	state.requests = append(state.requests, now)
	return true
}

// RetryAfter returns the seconds until the client's oldest counted request
// leaves the window.
func (rl *RateLimiter) RetryAfter(client string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	state, exists := rl.limits[client]
	if !exists || len(state.requests) == 0 {
		return 0
	}

	now := time.Now().UnixMilli()
	retryAfterMs := windowMs - (now - state.requests[0])
	if retryAfterMs < 0 {
		return 0
	}
	return int((retryAfterMs + 999) / 1000)
}

func (rl *RateLimiter) runCleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now().UnixMilli()
	for client, state := range rl.limits {
		valid := state.requests[:0]
		for _, t := range state.requests {
			if now-t < windowMs {
				valid = append(valid, t)
			}
		}
		if len(valid) == 0 {
			delete(rl.limits, client)
		} else {
			state.requests = valid
		}
	}
}

// Stop stops the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	close(rl.stopCleanup)
}
