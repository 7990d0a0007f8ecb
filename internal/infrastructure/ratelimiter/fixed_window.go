package ratelimiter

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type FixedWindowRateLimiter struct {
	counts      sync.Map // string -> *clientData
	limit       int64
	window      time.Duration
	now         func() time.Time
	cleanupTick *time.Ticker
	done        chan struct{}
	closeOnce   sync.Once
}

var _ Limiter = (*FixedWindowRateLimiter)(nil)

type clientData struct {
	count   int64        // atomic
	resetAt atomic.Value // time.Time
	mu      sync.Mutex   // only for reset
}

func NewFixedWindowRateLimiter(limit int, window time.Duration) *FixedWindowRateLimiter {
	return newFixedWindow(limit, window, time.Now)
}

func newFixedWindow(limit int, window time.Duration, now func() time.Time) *FixedWindowRateLimiter {
	rl := &FixedWindowRateLimiter{
		limit:       int64(limit),
		window:      window,
		now:         now,
		cleanupTick: time.NewTicker(window),
		done:        make(chan struct{}),
	}
	go rl.startCleanup()
	return rl
}

func (rl *FixedWindowRateLimiter) Allow(_ context.Context, key string) (bool, time.Duration) {
	now := rl.now()
	nextReset := now.Truncate(rl.window).Add(rl.window)

	val, _ := rl.counts.LoadOrStore(key, &clientData{})
	data := val.(*clientData)

	if reset, ok := data.resetAt.Load().(time.Time); ok && now.Before(reset) {
		return rl.take(data, now, reset)
	}

	data.mu.Lock()
	defer data.mu.Unlock()

	// Another caller may have opened the window while we waited.
	if reset, ok := data.resetAt.Load().(time.Time); ok && now.Before(reset) {
		return rl.take(data, now, reset)
	}

	atomic.StoreInt64(&data.count, 1)
	data.resetAt.Store(nextReset)
	return true, 0
}

func (rl *FixedWindowRateLimiter) take(data *clientData, now, reset time.Time) (bool, time.Duration) {
	if atomic.AddInt64(&data.count, 1) > rl.limit {
		atomic.AddInt64(&data.count, -1)
		return false, reset.Sub(now)
	}
	return true, 0
}

func (rl *FixedWindowRateLimiter) startCleanup() {
	for {
		select {
		case <-rl.cleanupTick.C:
			rl.cleanup()
		case <-rl.done:
			return
		}
	}
}

func (rl *FixedWindowRateLimiter) cleanup() {
	now := rl.now()
	rl.counts.Range(func(key, value any) bool {
		data := value.(*clientData)
		if reset, ok := data.resetAt.Load().(time.Time); ok && now.After(reset) {
			rl.counts.Delete(key)
		}
		return true
	})
}

func (rl *FixedWindowRateLimiter) Close() {
	rl.closeOnce.Do(func() {
		close(rl.done)
		rl.cleanupTick.Stop()
	})
}
