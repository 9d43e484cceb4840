package polymix

// PullFunc is the device callback contract: fill out with exactly nFrames
// frames of interleaved little-endian PCM. It is invoked from the backend's
// realtime thread and must not block.
type PullFunc func(out []byte, nFrames int)

// StreamStatus is the three-state answer of Stream.Status.
type StreamStatus int

const (
	StreamPaused StreamStatus = iota
	StreamActive
	StreamError
)

// Stream is an open device stream. Start and Pause toggle playback without
// tearing the stream down; Close releases the device.
type Stream interface {
	Start() error
	Pause() error
	Close() error
	Status() StreamStatus
}

// AudioBackend binds the mixer to an audio device. Implementations in this
// package: oto (default build), SDL (sdl tag), headless (headless tag), and
// NullBackend below. rate is frames per second, channels 1 or 2, bits 16 or
// 24 (packed little-endian).
type AudioBackend interface {
	OpenStream(rate, channels, bits int, pull PullFunc) (Stream, error)
}

// NullBackend is a device-less backend: the stream accepts the lifecycle
// calls and lets the owner drive the pull callback by hand. Used by tests
// and available to hosts that pump audio themselves.
type NullBackend struct{}

func (NullBackend) OpenStream(rate, channels, bits int, pull PullFunc) (Stream, error) {
	return &nullStream{pull: pull, frameBytes: channels * bits / 8}, nil
}

type nullStream struct {
	pull       PullFunc
	frameBytes int
	active     bool
}

func (s *nullStream) Start() error { s.active = true; return nil }
func (s *nullStream) Pause() error { s.active = false; return nil }
func (s *nullStream) Close() error { s.active = false; return nil }

func (s *nullStream) Status() StreamStatus {
	if s.active {
		return StreamActive
	}
	return StreamPaused
}

// Pump invokes the pull callback for nFrames frames and returns the raw
// output bytes, standing in for the device's periodic callback.
func (s *nullStream) Pump(nFrames int) []byte {
	out := make([]byte, nFrames*s.frameBytes)
	s.pull(out, nFrames)
	return out
}
