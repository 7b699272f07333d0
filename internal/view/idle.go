package view

import (
	"sync"
	"time"
)

// IdleTimer fires once after a period without Reset. Reset restarts the
// countdown; a callback from a superseded countdown never runs.
type IdleTimer struct {
	timeout time.Duration
	fn      func()

	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
}

func NewIdleTimer(timeout time.Duration, fn func()) *IdleTimer {
	it := &IdleTimer{timeout: timeout, fn: fn}
	it.Reset()
	return it
}

func (it *IdleTimer) Reset() {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.timer != nil {
		it.timer.Stop()
	}
	it.gen++
	gen := it.gen
	it.timer = time.AfterFunc(it.timeout, func() {
		it.mu.Lock()
		current := it.gen == gen
		if current {
			it.timer = nil
		}
		it.mu.Unlock()
		if current {
			it.fn()
		}
	})
}

func (it *IdleTimer) Stop() {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.timer != nil {
		it.timer.Stop()
		it.timer = nil
	}
	it.gen++
}
