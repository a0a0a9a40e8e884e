package portaudio

import (
	"testing"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/wakelink/pkg/audio"
)

func TestMatchDevice(t *testing.T) {
	t.Parallel()

	devices := []*pa.DeviceInfo{
		{Name: "HDMI Output", MaxInputChannels: 0},
		nil,
		{Name: "USB Microphone", MaxInputChannels: 1},
		{Name: "Built-in Microphone", MaxInputChannels: 2},
	}

	tests := []struct {
		name string
		want string
	}{
		{name: "usb", want: "USB Microphone"},
		{name: "MICROPHONE", want: "USB Microphone"},
		{name: "built-in", want: "Built-in Microphone"},
		{name: "hdmi", want: ""},
		{name: "missing", want: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := matchDevice(devices, tc.name)
			if tc.want == "" {
				if got != nil {
					t.Errorf("matchDevice(%q) = %q; want nil", tc.name, got.Name)
				}
				return
			}
			if got == nil || got.Name != tc.want {
				t.Errorf("matchDevice(%q) = %v; want %q", tc.name, got, tc.want)
			}
		})
	}
}

func TestStopBeforeStart(t *testing.T) {
	t.Parallel()

	s := New(audio.Format{SampleRate: 16000, FrameLength: 512}, WithBufferFrames(4))
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if _, ok := <-s.Frames(); ok {
		t.Error("Frames channel should be closed after Stop")
	}
	if _, ok := <-s.Errors(); ok {
		t.Error("Errors channel should be closed after Stop")
	}
}
