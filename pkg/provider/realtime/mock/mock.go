// Package mock provides test doubles for the realtime package interfaces.
//
// Use Provider to verify Connect calls and hand out controlled sessions. Use
// Session to inject inbound events, simulate transport failures and inspect
// the audio chunks written by the caller.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Sessions: []*mock.Session{sess}}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Emit(realtime.Event{Type: realtime.EventResponseDone})
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/wakelink/pkg/provider/realtime"
)

// ErrClosed is returned by Session.SendAudio after Close.
var ErrClosed = errors.New("mock: session closed")

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg realtime.SessionConfig
}

// Provider is a mock implementation of realtime.Provider.
type Provider struct {
	mu sync.Mutex

	// Sessions are returned by successive Connect calls in order. When the
	// queue is empty Connect returns a fresh NewSession.
	Sessions []*Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectGate, if non-nil, makes Connect block until the channel is
	// closed or ctx is done.
	ConnectGate chan struct{}

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	handed []*Session
}

// Connect records the call and returns the next queued session or ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg realtime.SessionConfig) (realtime.SessionHandle, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	gate := p.ConnectGate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	var s *Session
	if len(p.Sessions) > 0 {
		s = p.Sessions[0]
		p.Sessions = p.Sessions[1:]
	} else {
		s = NewSession()
	}
	p.handed = append(p.handed, s)
	return s, nil
}

// ConnectCallCount returns the number of Connect calls. Thread-safe.
func (p *Provider) ConnectCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}

// LastSession returns the most recent session handed out by Connect, or nil.
func (p *Provider) LastSession() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.handed) == 0 {
		return nil
	}
	return p.handed[len(p.handed)-1]
}

// Ensure Provider implements realtime.Provider at compile time.
var _ realtime.Provider = (*Provider)(nil)

// SendAudioCall records a single invocation of Session.SendAudio.
type SendAudioCall struct {
	// Chunk is a copy of the audio bytes that were passed to SendAudio.
	Chunk []byte
}

// Session is a mock implementation of realtime.SessionHandle. The events
// channel is closed by Close, Finish or Fail, whichever comes first.
type Session struct {
	mu sync.Mutex

	events    chan realtime.Event
	done      chan struct{}
	endOnce   sync.Once
	closeOnce sync.Once
	err       error
	ended     bool

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// SendGate, if non-nil, makes SendAudio block until the channel is closed
	// or the session is closed.
	SendGate chan struct{}

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// SendAudioCalls records every call to SendAudio in order.
	SendAudioCalls []SendAudioCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewSession returns a Session with a buffered events channel.
func NewSession() *Session {
	return &Session{
		events: make(chan realtime.Event, 16),
		done:   make(chan struct{}),
	}
}

// SendAudio records the call and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	gate := s.SendGate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-s.done:
			return ErrClosed
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendAudioCalls = append(s.SendAudioCalls, SendAudioCall{Chunk: cp})
	return s.SendAudioErr
}

// Events returns the inbound event channel.
func (s *Session) Events() <-chan realtime.Event { return s.events }

// Err returns the error passed to Fail, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close records the call, ends the event stream and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	err := s.CloseErr
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.done) })
	s.end()
	return err
}

// Emit delivers ev on the events channel without blocking. It reports false
// if the stream has already ended or the buffer is full.
func (s *Session) Emit(ev realtime.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

// Finish ends the event stream as if the remote closed cleanly.
func (s *Session) Finish() { s.end() }

// Fail ends the event stream with a transport error.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.end()
}

func (s *Session) end() {
	s.endOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.ended = true
		close(s.events)
	})
}

// SendCount returns the number of recorded SendAudio calls. Thread-safe.
func (s *Session) SendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SendAudioCalls)
}

// Sent returns a copy of the recorded chunks. Thread-safe.
func (s *Session) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.SendAudioCalls))
	for i, c := range s.SendAudioCalls {
		out[i] = c.Chunk
	}
	return out
}

// Closes returns CloseCallCount. Thread-safe.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}

// Ensure Session implements realtime.SessionHandle at compile time.
var _ realtime.SessionHandle = (*Session)(nil)
