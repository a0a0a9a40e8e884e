package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "wakelink"

// natsConn is the subset of *nats.Conn used by NATSPublisher.
type natsConn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSPublisher publishes events as JSON to NATS.
type NATSPublisher struct {
	conn   natsConn
	prefix string
}

var _ Publisher = (*NATSPublisher)(nil)

// ConnectNATS dials the NATS server at url. The connection reconnects
// indefinitely in the background; connection changes are logged to log.
func ConnectNATS(url, prefix string, log *slog.Logger) (*NATSPublisher, error) {
	if log == nil {
		log = slog.Default()
	}
	conn, err := nats.Connect(url,
		nats.Name("wakelink"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("events: nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("events: nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			log.Info("events: nats connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("events: connect nats %s: %w", url, err)
	}
	log.Info("events: connected to nats", "url", conn.ConnectedUrl())
	return newNATSPublisher(conn, prefix), nil
}

func newNATSPublisher(conn natsConn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{conn: conn, prefix: prefix}
}

// Subject returns the subject ev is published on.
func (p *NATSPublisher) Subject(k Kind) string {
	return p.prefix + ".session." + string(k)
}

// Publish encodes ev as JSON and hands it to the NATS client, which buffers
// it for asynchronous delivery.
func (p *NATSPublisher) Publish(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", ev.Kind, err)
	}
	subject := p.Subject(ev.Kind)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("events: publish %s: %w", subject, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		return fmt.Errorf("events: drain: %w", err)
	}
	return nil
}
