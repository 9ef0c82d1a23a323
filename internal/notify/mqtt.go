package notify

import (
	"context"
	"fmt"
)

// RawPublisher is the part of the MQTT publisher the dispatcher needs.
type RawPublisher interface {
	PublishRaw(topic string, qos byte, retained bool, payload []byte) error
}

// MQTTDispatcher publishes notifications to an MQTT topic with QoS 1.
type MQTTDispatcher struct {
	pub   RawPublisher
	topic string
}

// NewMQTTDispatcher creates a dispatcher publishing on topic.
func NewMQTTDispatcher(pub RawPublisher, topic string) *MQTTDispatcher {
	return &MQTTDispatcher{pub: pub, topic: topic}
}

// Dispatch publishes n.
func (d *MQTTDispatcher) Dispatch(ctx context.Context, n Notification) error {
	payload, err := FormatPayload(n)
	if err != nil {
		return fmt.Errorf("format notification: %w", err)
	}
	if err := d.pub.PublishRaw(d.topic, 1, false, payload); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
