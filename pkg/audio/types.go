package audio

import "time"

// Frame is a single fixed-size slice of PCM audio as produced by a [Source].
// Frames are the unit of routing: each one is handed to exactly one consumer
// (the wake-word gate or the realtime link) and is not retained afterwards.
//
// Data is little-endian signed 16-bit mono PCM. A Frame must be treated as
// immutable once emitted.
type Frame struct {
	// Seq is the arrival order of the frame, starting at zero for the first
	// frame emitted after [Source.Start].
	Seq uint64

	// Data holds the raw PCM16 samples.
	Data []byte

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Samples returns the number of PCM16 samples carried by the frame.
func (f Frame) Samples() int { return len(f.Data) / 2 }
