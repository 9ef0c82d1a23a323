// Package mqtt provides MQTT publishing and subscription with abstraction
// for testing.
package mqtt

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/sweeney/boiler-automation/internal/logic"
)

// DefaultPrefix is the root of every topic the daemon publishes.
const DefaultPrefix = "energy/boiler/automation"

// Topics are the topics the daemon publishes on.
type Topics struct {
	Events        string // burner/fault transitions
	System        string // lifecycle, heartbeat, LWT (retained)
	Notifications string // maintenance notifications
	Coordination  string // coordination state (retained)
	Maintenance   string // maintenance record (retained)
}

// TopicsFor derives the topic set from a prefix.
func TopicsFor(prefix string) Topics {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Topics{
		Events:        prefix + "/events",
		System:        prefix + "/system",
		Notifications: prefix + "/notifications",
		Coordination:  prefix + "/coordination",
		Maintenance:   prefix + "/maintenance",
	}
}

// Handler receives a message delivered on a subscription.
type Handler func(topic string, payload []byte)

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a boiler event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event logic.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// PublishRaw sends a pre-encoded payload.
	PublishRaw(topic string, qos byte, retained bool, payload []byte) error

	// Close disconnects from the broker.
	Close() error
}

// Subscriber subscribes to topic filters.
type Subscriber interface {
	Subscribe(filter string, qos byte, h Handler) error
}

// Client is a Publisher that can also subscribe.
type Client interface {
	Publisher
	Subscriber
	ConnectionStatus
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// PublishJSON encodes v and publishes it through p.
func PublishJSON(p Publisher, topic string, qos byte, retained bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.PublishRaw(topic, qos, retained, payload)
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Boiler BoilerPayload `json:"boiler"`
}

// BoilerPayload contains the boiler event details.
type BoilerPayload struct {
	Timestamp string    `json:"timestamp"`
	Event     string    `json:"event"`
	Status    string    `json:"status"`
	Burner    LineState `json:"burner"`
	Fault     LineState `json:"fault"`
}

// LineState represents a single signal line's state.
type LineState struct {
	State string `json:"state"`
}

// FormatPayload creates the JSON payload for a boiler event.
func FormatPayload(event logic.Event) ([]byte, error) {
	return json.Marshal(Payload{
		Boiler: BoilerPayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     string(event.Type),
			Status:    string(event.Status),
			Burner:    LineState{State: string(event.Burner)},
			Fault:     LineState{State: string(event.Fault)},
		},
	})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp,omitempty"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}
	return json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	})
}

// FormatWillPayload is the retained last-will message. It has no timestamp
// because the broker publishes it on our behalf at an unknown time.
func FormatWillPayload() []byte {
	b, _ := json.Marshal(SystemPayload{System: SystemPayloadInner{Event: "OFFLINE", Reason: "LWT"}})
	return b
}

// Match reports whether topic matches the subscription filter, honouring
// the single-level (+) and multi-level (#) wildcards.
func Match(filter, topic string) bool {
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")
	for i, f := range fs {
		if f == "#" {
			return true
		}
		if i >= len(ts) {
			return false
		}
		if f != "+" && f != ts[i] {
			return false
		}
	}
	return len(fs) == len(ts)
}
