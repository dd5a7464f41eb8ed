// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package usb

import "sync"

// FakeWatcher is a scripted event source for state-machine tests. It
// satisfies the same surface the dut package consumes from Watcher.
type FakeWatcher struct {
	events chan Event
	errors chan error

	mu      sync.Mutex
	stopped bool
}

// NewFakeWatcher returns a fake with room for the scripted events a
// test will emit.
func NewFakeWatcher() *FakeWatcher {
	return &FakeWatcher{
		events: make(chan Event, 32),
		errors: make(chan error, 1),
	}
}

// Emit queues one event for delivery.
func (f *FakeWatcher) Emit(event Event) { f.events <- event }

// EmitError queues one watcher error.
func (f *FakeWatcher) EmitError(err error) { f.errors <- err }

// Start is a no-op; scripted events are delivered as emitted.
func (f *FakeWatcher) Start() {}

// Events delivers the scripted events.
func (f *FakeWatcher) Events() <-chan Event { return f.events }

// Errors delivers scripted errors.
func (f *FakeWatcher) Errors() <-chan error { return f.errors }

// Stop closes the event channel. Safe to call more than once.
func (f *FakeWatcher) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.stopped {
		f.stopped = true
		close(f.events)
	}
	return nil
}

// Stopped reports whether Stop has been called — tests assert the
// flashing machine tears its scoped watcher down.
func (f *FakeWatcher) Stopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}
