/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package keeper

import (
	"sync"
	"time"
)

// debouncer coalesces bursts of mutations into a single trailing-edge call:
// every Schedule (re)arms the timer, only the last call within the window fires fn.
// Flush runs a pending call synchronously, which keeps tests and teardown deterministic.
type debouncer struct {
	window time.Duration
	fn     func()

	mu    sync.Mutex
	timer *time.Timer
}

func newDebouncer(window time.Duration, fn func()) *debouncer {
	return &debouncer{window: window, fn: fn}
}

// Schedule arms the timer, superseding any pending call.
func (d *debouncer) Schedule() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, func() {
		d.mu.Lock()
		d.timer = nil
		d.mu.Unlock()
		d.fn()
	})
}

// Flush cancels a pending call and runs fn synchronously.
// It is a no-op when nothing is pending.
func (d *debouncer) Flush() {
	d.mu.Lock()
	pending := d.timer != nil && d.timer.Stop()
	d.timer = nil
	d.mu.Unlock()
	if pending {
		d.fn()
	}
}

// Stop cancels a pending call without running it.
func (d *debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
