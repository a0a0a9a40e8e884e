package audio

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Int16ToBytes encodes PCM samples as little-endian bytes into dst, growing it
// when needed, and returns the filled slice.
func Int16ToBytes(dst []byte, samples []int16) []byte {
	n := len(samples) * 2
	if cap(dst) < n {
		dst = make([]byte, n)
	}
	dst = dst[:n]
	for i, s := range samples {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(s))
	}
	return dst
}

// BytesToInt16 decodes little-endian PCM16 bytes into dst, growing it when
// needed. Returns an error when pcm has an odd byte count.
func BytesToInt16(dst []int16, pcm []byte) ([]int16, error) {
	if len(pcm)%2 != 0 {
		return dst[:0], fmt.Errorf("audio: odd byte count %d in PCM16 data", len(pcm))
	}
	n := len(pcm) / 2
	if cap(dst) < n {
		dst = make([]int16, n)
	}
	dst = dst[:n]
	for i := range dst {
		dst[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return dst, nil
}

// FrameDuration returns the wall-clock span of one frame in format f.
func FrameDuration(f Format) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.FrameLength) * time.Second / time.Duration(f.SampleRate)
}
