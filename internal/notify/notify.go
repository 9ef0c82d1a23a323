// Package notify delivers structured notifications. Delivery success is
// not observable to callers beyond the returned error, which they log.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Notification is a classified payload, e.g. a maintenance threshold.
type Notification struct {
	ID             string
	Classification string
	Timestamp      time.Time
	Payload        any
}

// Dispatcher accepts notifications for delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

// Envelope is the wire form shared by every transport.
type Envelope struct {
	Notification EnvelopeInner `json:"notification"`
}

// EnvelopeInner contains the notification details.
type EnvelopeInner struct {
	ID             string `json:"id"`
	Classification string `json:"classification"`
	Timestamp      string `json:"timestamp"`
	Payload        any    `json:"payload"`
}

// FormatPayload creates the JSON payload for a notification.
func FormatPayload(n Notification) ([]byte, error) {
	return json.Marshal(Envelope{Notification: EnvelopeInner{
		ID:             n.ID,
		Classification: n.Classification,
		Timestamp:      n.Timestamp.UTC().Format(time.RFC3339),
		Payload:        n.Payload,
	}})
}

// Multi fans a notification out to every dispatcher. All are attempted;
// the errors are joined.
type Multi []Dispatcher

// Dispatch sends n to each dispatcher.
func (m Multi) Dispatch(ctx context.Context, n Notification) error {
	var errs []error
	for _, d := range m {
		if err := d.Dispatch(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogDispatcher writes notifications to the log. It is the fallback when
// no transport is configured.
type LogDispatcher struct {
	Log zerolog.Logger
}

// Dispatch logs n.
func (l LogDispatcher) Dispatch(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return err
	}
	l.Log.Info().
		Str("id", n.ID).
		Str("classification", n.Classification).
		RawJSON("payload", payload).
		Msg("notification")
	return nil
}
