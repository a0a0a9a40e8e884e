// Package events publishes session lifecycle notifications to other
// processes.
//
// The controller reports wake detections, session start and end, and the
// assistant's partial text through a [Publisher]. [Nop] discards everything
// and is used when no bus is configured; [NATSPublisher] sends JSON messages
// to NATS subjects of the form "<prefix>.session.<kind>".
package events

import (
	"context"
	"time"
)

// Kind identifies a lifecycle notification.
type Kind string

const (
	KindWake    Kind = "wake"
	KindStarted Kind = "started"
	KindEnded   Kind = "ended"
	KindPartial Kind = "partial"
)

// Event is one lifecycle notification.
type Event struct {
	Kind      Kind      `json:"kind"`
	SessionID string    `json:"session_id,omitempty"`
	Keyword   string    `json:"keyword,omitempty"`
	Text      string    `json:"text,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher delivers lifecycle events. Publish must not block on slow
// consumers.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop is a Publisher that discards all events.
type Nop struct{}

var _ Publisher = Nop{}

// Publish does nothing.
func (Nop) Publish(context.Context, Event) error { return nil }

// Close does nothing.
func (Nop) Close() error { return nil }
