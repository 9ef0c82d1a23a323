package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultNATSSubjectPrefix prefixes the classification in the subject.
const DefaultNATSSubjectPrefix = "boiler.notifications"

// NATSDispatcher publishes notifications to NATS subjects of the form
// <prefix>.<classification>.
type NATSDispatcher struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSDispatcher connects to url.
func NewNATSDispatcher(url, prefix string) (*NATSDispatcher, error) {
	if prefix == "" {
		prefix = DefaultNATSSubjectPrefix
	}
	conn, err := nats.Connect(url,
		nats.Name("boiler-automation"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &NATSDispatcher{conn: conn, prefix: prefix}, nil
}

// Subject returns the subject a classification is published on.
func (d *NATSDispatcher) Subject(classification string) string {
	return d.prefix + "." + classification
}

// Dispatch publishes n and flushes so delivery errors surface here.
func (d *NATSDispatcher) Dispatch(ctx context.Context, n Notification) error {
	payload, err := FormatPayload(n)
	if err != nil {
		return fmt.Errorf("format notification: %w", err)
	}
	if err := d.conn.Publish(d.Subject(n.Classification), payload); err != nil {
		return fmt.Errorf("publish nats: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := d.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush nats: %w", err)
	}
	return nil
}

// Close drains the connection.
func (d *NATSDispatcher) Close() error {
	return d.conn.Drain()
}
