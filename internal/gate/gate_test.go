package gate_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/wakelink/internal/gate"
	"github.com/MrWong99/wakelink/internal/observe"
	"github.com/MrWong99/wakelink/pkg/audio"
	"github.com/MrWong99/wakelink/pkg/provider/wakeword"
	"github.com/MrWong99/wakelink/pkg/provider/wakeword/mock"
)

const frameLen = 512

func newGate(t *testing.T, det *mock.Detector) *gate.Gate {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return gate.New(det,
		gate.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		gate.WithMetrics(m),
	)
}

// frame builds a frame whose first sample is marker.
func frame(seq uint64, marker int16) audio.Frame {
	samples := make([]int16, frameLen)
	samples[0] = marker
	return audio.Frame{Seq: seq, Data: audio.Int16ToBytes(nil, samples)}
}

func TestEvaluate_NoDetection(t *testing.T) {
	t.Parallel()
	det := &mock.Detector{}
	g := newGate(t, det)

	for i := range 5 {
		ev := g.Evaluate(context.Background(), frame(uint64(i), 0))
		if ev.Detected {
			t.Fatalf("frame %d: unexpected detection", i)
		}
		if ev.KeywordIndex != wakeword.NoDetection {
			t.Errorf("frame %d: KeywordIndex = %d, want %d", i, ev.KeywordIndex, wakeword.NoDetection)
		}
	}
	if got := det.ProcessCallCount(); got != 5 {
		t.Errorf("Process calls = %d, want 5", got)
	}
	if s := g.Stats(); s.Evaluated != 5 || s.Detections != 0 {
		t.Errorf("Stats = %+v", s)
	}
}

func TestEvaluate_DetectionReportsKeyword(t *testing.T) {
	t.Parallel()
	det := &mock.Detector{
		KeywordNames: []string{"computer", "jarvis"},
		DetectOn: func(_ int, pcm []int16) int {
			if pcm[0] == 7 {
				return 1
			}
			return wakeword.NoDetection
		},
	}
	g := newGate(t, det)

	if ev := g.Evaluate(context.Background(), frame(0, 0)); ev.Detected {
		t.Fatal("unexpected detection on silent frame")
	}
	ev := g.Evaluate(context.Background(), frame(1, 7))
	want := gate.Event{Detected: true, KeywordIndex: 1, Keyword: "jarvis"}
	if ev != want {
		t.Errorf("Evaluate = %+v, want %+v", ev, want)
	}

	// The PCM handed to the detector is the decoded frame.
	calls := det.ProcessCalls
	if len(calls) != 2 || calls[1][0] != 7 || len(calls[1]) != frameLen {
		t.Errorf("detector saw unexpected samples")
	}
	if s := g.Stats(); s.Detections != 1 {
		t.Errorf("Detections = %d, want 1", s.Detections)
	}
}

func TestEvaluate_UnknownIndex(t *testing.T) {
	t.Parallel()
	det := &mock.Detector{DetectOn: func(int, []int16) int { return 3 }}
	g := newGate(t, det)

	ev := g.Evaluate(context.Background(), frame(0, 0))
	if !ev.Detected || ev.Keyword != "unknown" {
		t.Errorf("Evaluate = %+v, want detection with keyword unknown", ev)
	}
}

func TestEvaluate_MalformedFramesAbsorbed(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		data []byte
	}{
		{name: "odd byte count", data: make([]byte, frameLen*2-1)},
		{name: "short frame", data: make([]byte, 10)},
		{name: "long frame", data: make([]byte, frameLen*2+2)},
		{name: "empty", data: nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			det := &mock.Detector{DetectOn: func(int, []int16) int { return 0 }}
			g := newGate(t, det)

			ev := g.Evaluate(context.Background(), audio.Frame{Data: tc.data})
			if ev.Detected {
				t.Error("malformed frame produced a detection")
			}
			if det.ProcessCallCount() != 0 {
				t.Error("malformed frame reached the detector")
			}
			if s := g.Stats(); s.Malformed != 1 {
				t.Errorf("Malformed = %d, want 1", s.Malformed)
			}

			// Scanning continues with the next well-formed frame.
			if ev := g.Evaluate(context.Background(), frame(1, 0)); !ev.Detected {
				t.Error("gate stopped evaluating after a malformed frame")
			}
		})
	}
}

func TestEvaluate_DetectorErrorAbsorbed(t *testing.T) {
	t.Parallel()
	det := &mock.Detector{ProcessErr: errors.New("engine hiccup")}
	g := newGate(t, det)

	for i := range 3 {
		if ev := g.Evaluate(context.Background(), frame(uint64(i), 0)); ev.Detected {
			t.Fatal("detector error produced a detection")
		}
	}
	if s := g.Stats(); s.Failures != 3 || s.Evaluated != 3 {
		t.Errorf("Stats = %+v, want 3 failures of 3 evaluated", s)
	}

	det.ProcessErr = nil
	det.DetectOn = func(int, []int16) int { return 0 }
	if ev := g.Evaluate(context.Background(), frame(3, 0)); !ev.Detected {
		t.Error("gate did not recover after detector errors")
	}
}

func TestClose_ReleasesOnce(t *testing.T) {
	t.Parallel()
	det := &mock.Detector{CloseErr: errors.New("delete failed")}
	g := newGate(t, det)

	if err := g.Ready(context.Background()); err != nil {
		t.Fatalf("Ready before Close: %v", err)
	}
	err1 := g.Close()
	err2 := g.Close()
	if err1 == nil || err2 == nil || err1.Error() != err2.Error() {
		t.Errorf("Close errors = %v, %v; want the first error repeated", err1, err2)
	}
	if det.CloseCallCount != 1 {
		t.Errorf("detector Close called %d times, want 1", det.CloseCallCount)
	}
	if !errors.Is(g.Ready(context.Background()), gate.ErrClosed) {
		t.Error("Ready after Close should return ErrClosed")
	}

	if ev := g.Evaluate(context.Background(), frame(0, 0)); ev.Detected {
		t.Error("closed gate produced a detection")
	}
	if det.ProcessCallCount() != 0 {
		t.Error("closed gate called the detector")
	}
}
