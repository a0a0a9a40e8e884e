// Package mock provides a test double for the wakeword.Detector interface.
//
// Use Detector to script detections per frame and inspect the frames that
// were submitted for processing.
//
// Example:
//
//	det := &mock.Detector{
//	    Frame: 512,
//	    Rate:  16000,
//	    DetectOn: func(call int, pcm []int16) int {
//	        if pcm[0] == 1 {
//	            return 0
//	        }
//	        return wakeword.NoDetection
//	    },
//	}
package mock

import (
	"sync"

	"github.com/MrWong99/wakelink/pkg/provider/wakeword"
)

var _ wakeword.Detector = (*Detector)(nil)

// Detector is a mock implementation of wakeword.Detector.
type Detector struct {
	mu sync.Mutex

	// Frame is returned by FrameLength. Zero means 512.
	Frame int

	// Rate is returned by SampleRate. Zero means 16000.
	Rate int

	// KeywordNames is returned by Keywords. Defaults to ["computer"].
	KeywordNames []string

	// DetectOn decides the result of each Process call. call is the zero-based
	// invocation index. When nil, Process always returns NoDetection.
	DetectOn func(call int, pcm []int16) int

	// ProcessErr, if non-nil, is returned by every Process call.
	ProcessErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// ProcessCalls records a copy of every frame passed to Process.
	ProcessCalls [][]int16

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Process records the call and returns the scripted result.
func (d *Detector) Process(pcm []int16) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := append([]int16(nil), pcm...)
	call := len(d.ProcessCalls)
	d.ProcessCalls = append(d.ProcessCalls, cp)
	if d.ProcessErr != nil {
		return wakeword.NoDetection, d.ProcessErr
	}
	if d.DetectOn == nil {
		return wakeword.NoDetection, nil
	}
	return d.DetectOn(call, cp), nil
}

// FrameLength returns Frame or 512.
func (d *Detector) FrameLength() int {
	if d.Frame == 0 {
		return 512
	}
	return d.Frame
}

// SampleRate returns Rate or 16000.
func (d *Detector) SampleRate() int {
	if d.Rate == 0 {
		return 16000
	}
	return d.Rate
}

// Keywords returns KeywordNames or ["computer"].
func (d *Detector) Keywords() []string {
	if len(d.KeywordNames) == 0 {
		return []string{"computer"}
	}
	return d.KeywordNames
}

// Close records the call and returns CloseErr.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CloseCallCount++
	return d.CloseErr
}

// ProcessCallCount returns the number of Process calls. Thread-safe.
func (d *Detector) ProcessCallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ProcessCalls)
}

// Closed reports whether Close has been called at least once. Thread-safe.
func (d *Detector) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CloseCallCount > 0
}
