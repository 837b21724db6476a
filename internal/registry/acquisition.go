// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

package registry

import (
	"context"
	"slices"
	"sync"
)

// acquisition is one in-flight fetch shared by every caller waiting on it.
type acquisition struct {
	done chan struct{}

	// cancel stops the fetch once every waiter has given up.
	cancel context.CancelFunc

	// deliver serializes listener calls so each listener sees progress in
	// order. Listeners run without mu held and may query the registry.
	deliver sync.Mutex

	mu        sync.Mutex
	progress  int
	started   bool
	listeners []func(int)
	waiters   int
	err       error
}

func newAcquisition(cancel context.CancelFunc) *acquisition {
	return &acquisition{done: make(chan struct{}), cancel: cancel}
}

// join registers a caller that will wait on the acquisition.
func (a *acquisition) join() {
	a.mu.Lock()
	a.waiters++
	a.mu.Unlock()
}

// leave drops a waiter whose context ended. The last one out cancels the
// fetch.
func (a *acquisition) leave() {
	a.mu.Lock()
	a.waiters--
	last := a.waiters == 0
	a.mu.Unlock()

	if last {
		a.cancel()
	}
}

// subscribe registers fn. A late subscriber first receives the progress
// reached so far, so its sequence never goes back to 0.
func (a *acquisition) subscribe(fn func(int)) {
	if fn == nil {
		return
	}
	a.deliver.Lock()
	defer a.deliver.Unlock()

	a.mu.Lock()
	a.listeners = append(a.listeners, fn)
	started, p := a.started, a.progress
	a.mu.Unlock()

	if started {
		fn(p)
	}
}

// report publishes p to all listeners. Values are clamped to 0..100 and
// anything not above the current progress is dropped.
func (a *acquisition) report(p int) {
	p = min(max(p, 0), 100)

	a.deliver.Lock()
	defer a.deliver.Unlock()

	a.mu.Lock()
	if a.started && p <= a.progress {
		a.mu.Unlock()
		return
	}
	a.started = true
	a.progress = p
	listeners := slices.Clone(a.listeners)
	a.mu.Unlock()

	for _, fn := range listeners {
		fn(p)
	}
}

func (a *acquisition) current() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.progress
}

func (a *acquisition) finish(err error) {
	a.mu.Lock()
	a.err = err
	a.mu.Unlock()
	close(a.done)
}

// wait blocks until the acquisition ends or ctx is done. The caller must
// have joined. Giving up cancels the fetch only if no other caller is still
// waiting.
func (a *acquisition) wait(ctx context.Context) error {
	select {
	case <-a.done:
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.err
	case <-ctx.Done():
		a.leave()
		return ctx.Err()
	}
}
