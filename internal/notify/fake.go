package notify

import (
	"context"
	"sync"
)

// FakeDispatcher records notifications for test assertions.
type FakeDispatcher struct {
	mu sync.Mutex

	// Notifications contains everything dispatched, in order.
	Notifications []Notification

	// Err, if set, is returned by Dispatch after recording.
	Err error
}

// NewFakeDispatcher creates a FakeDispatcher.
func NewFakeDispatcher() *FakeDispatcher {
	return &FakeDispatcher{}
}

// Dispatch records n.
func (f *FakeDispatcher) Dispatch(ctx context.Context, n Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Notifications = append(f.Notifications, n)
	return f.Err
}

// Sent returns a copy of the recorded notifications.
func (f *FakeDispatcher) Sent() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Notification(nil), f.Notifications...)
}
