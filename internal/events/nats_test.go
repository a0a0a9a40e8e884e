package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeConn struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	pubErr   error
	drained  int
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pubErr != nil {
		return c.pubErr
	}
	c.subjects = append(c.subjects, subject)
	c.payloads = append(c.payloads, data)
	return nil
}

func (c *fakeConn) Drain() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drained++
	return nil
}

func TestNATSPublisher_SubjectAndPayload(t *testing.T) {
	t.Parallel()
	conn := &fakeConn{}
	p := newNATSPublisher(conn, "home")

	ts := time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)
	ev := Event{Kind: KindEnded, SessionID: "abc", Reason: "timeout", Timestamp: ts}
	if err := p.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(conn.subjects) != 1 || conn.subjects[0] != "home.session.ended" {
		t.Fatalf("subjects = %v, want [home.session.ended]", conn.subjects)
	}
	var got map[string]any
	if err := json.Unmarshal(conn.payloads[0], &got); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	want := map[string]any{
		"kind":       "ended",
		"session_id": "abc",
		"reason":     "timeout",
		"timestamp":  "2024-10-01T12:00:00Z",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("payload[%q] = %v, want %v", k, got[k], v)
		}
	}
	if _, ok := got["text"]; ok {
		t.Error("empty text should be omitted")
	}
}

func TestNATSPublisher_DefaultPrefix(t *testing.T) {
	t.Parallel()
	p := newNATSPublisher(&fakeConn{}, "")
	tests := map[Kind]string{
		KindWake:    "wakelink.session.wake",
		KindStarted: "wakelink.session.started",
		KindEnded:   "wakelink.session.ended",
		KindPartial: "wakelink.session.partial",
	}
	for k, want := range tests {
		if got := p.Subject(k); got != want {
			t.Errorf("Subject(%s) = %q, want %q", k, got, want)
		}
	}
}

func TestNATSPublisher_PublishError(t *testing.T) {
	t.Parallel()
	conn := &fakeConn{pubErr: errors.New("nats: connection closed")}
	p := newNATSPublisher(conn, "")
	err := p.Publish(context.Background(), Event{Kind: KindWake})
	if err == nil || !errors.Is(err, conn.pubErr) {
		t.Errorf("Publish err = %v, want wrapped connection error", err)
	}
}

func TestNATSPublisher_CloseDrains(t *testing.T) {
	t.Parallel()
	conn := &fakeConn{}
	p := newNATSPublisher(conn, "")
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if conn.drained != 1 {
		t.Errorf("Drain calls = %d, want 1", conn.drained)
	}
}

func TestConnectNATS_Unreachable(t *testing.T) {
	t.Parallel()
	// Port 1 is reserved; the dial fails immediately.
	if _, err := ConnectNATS("nats://127.0.0.1:1", "", nil); err == nil {
		t.Fatal("expected connection error")
	}
}

func TestNop(t *testing.T) {
	t.Parallel()
	var p Publisher = Nop{}
	if err := p.Publish(context.Background(), Event{Kind: KindWake}); err != nil {
		t.Errorf("Publish: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
