// Package realtime defines the Provider interface for duplex speech-inference
// backends.
//
// A realtime provider wraps a remote voice model reachable over a persistent,
// bidirectional message connection (e.g., the OpenAI Realtime API). A session
// is opened per user turn: the caller streams raw PCM audio in and receives a
// stream of semantic [Event] values out.
//
// The central abstraction is SessionHandle. Audio input is a blocking call
// executed off the audio thread by the caller; inbound events are delivered on
// a channel that is closed when the session ends.
//
// All implementations must be safe for concurrent use.
package realtime

import "context"

// Default response modalities announced when a session opens.
var DefaultModalities = []string{"text", "audio"}

// SessionConfig is the initial configuration announced when a session opens.
type SessionConfig struct {
	// Instructions is the free-text persona / behavioural instruction string.
	Instructions string

	// Modalities lists the response modalities requested from the model,
	// e.g. "text", "audio". Empty means [DefaultModalities].
	Modalities []string
}

// EventType enumerates the inbound notifications surfaced by a session.
type EventType int

const (
	// EventItemAdded carries textual content of a newly added output item.
	EventItemAdded EventType = iota

	// EventResponseDone signals that the model finished its response.
	EventResponseDone

	// EventError signals a protocol-level error reported by the remote side.
	EventError
)

// String returns the human-readable name of the event type.
func (t EventType) String() string {
	switch t {
	case EventItemAdded:
		return "item_added"
	case EventResponseDone:
		return "response_done"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a decoded inbound message.
type Event struct {
	// Type is the notification kind.
	Type EventType

	// Text is the textual content for EventItemAdded.
	Text string

	// Detail is the error description for EventError.
	Detail string
}

// SessionHandle represents an open realtime session.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendAudio transmits one raw PCM16 chunk as a user-turn audio message.
	// It blocks until the message is written to the transport. Returns an
	// error if the session is closed or the write fails.
	SendAudio(chunk []byte) error

	// Events returns the channel on which decoded inbound events arrive. The
	// channel is closed when the session ends for any reason; call
	// [SessionHandle.Err] afterwards to distinguish a transport failure from a
	// clean close.
	Events() <-chan Event

	// Err returns the transport error that ended the session, or nil if it
	// ended cleanly or is still running.
	Err() error

	// Close terminates the session and releases the connection. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any realtime backend.
type Provider interface {
	// Connect dials the remote endpoint and completes protocol-level
	// initialisation (announcing cfg). The returned SessionHandle is ready to
	// accept audio. Returns an error if the transport handshake or the
	// initialisation message fails, or ctx is cancelled first.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)
}
