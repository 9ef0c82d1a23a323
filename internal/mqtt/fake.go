package mqtt

import (
	"sync"

	"github.com/sweeney/boiler-automation/internal/logic"
)

// RawMessage is a message recorded by FakePublisher.PublishRaw.
type RawMessage struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

// FakePublisher records published messages for test assertions and can
// deliver messages to subscribers.
type FakePublisher struct {
	mu sync.Mutex

	// Events contains all boiler events that were published.
	Events []logic.Event

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// Raw contains everything sent through PublishRaw.
	Raw []RawMessage

	// PublishError, if set, will be returned by every publish method.
	PublishError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool

	subs map[string]Handler
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{Connected: true, subs: map[string]Handler{}}
}

// Publish records the boiler event.
func (f *FakePublisher) Publish(event logic.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Events = append(f.Events, event)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.SystemEvents = append(f.SystemEvents, event)
	return nil
}

// PublishRaw records the message.
func (f *FakePublisher) PublishRaw(topic string, qos byte, retained bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Raw = append(f.Raw, RawMessage{Topic: topic, QoS: qos, Retained: retained, Payload: payload})
	return nil
}

// Subscribe registers h for filter.
func (f *FakePublisher) Subscribe(filter string, qos byte, h Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[filter] = h
	return nil
}

// Deliver hands a message to every matching subscription.
func (f *FakePublisher) Deliver(topic string, payload []byte) {
	f.mu.Lock()
	var hs []Handler
	for filter, h := range f.subs {
		if Match(filter, topic) {
			hs = append(hs, h)
		}
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(topic, payload)
	}
}

// RawOn returns the recorded raw messages for topic.
func (f *FakePublisher) RawOn(topic string) []RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []RawMessage
	for _, m := range f.Raw {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// Reset clears recorded messages.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Events = nil
	f.SystemEvents = nil
	f.Raw = nil
	f.Closed = false
	f.PublishError = nil
}
