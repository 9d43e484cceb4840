//go:build !headless && !sdl

package polymix

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// otoBackend plays through an oto/v3 context. oto allows exactly one
// context per process, so it is created lazily on the first stream and
// reused; every stream after that must match its rate and channel count.
type otoBackend struct{}

// NewDeviceBackend returns the default device backend for this build.
func NewDeviceBackend() (AudioBackend, error) {
	return otoBackend{}, nil
}

var otoShared struct {
	mu       sync.Mutex
	ctx      *oto.Context
	rate     int
	channels int
	format   oto.Format
}

func otoContext(rate, channels int, format oto.Format) (*oto.Context, error) {
	otoShared.mu.Lock()
	defer otoShared.mu.Unlock()

	if otoShared.ctx != nil {
		if otoShared.rate != rate || otoShared.channels != channels || otoShared.format != format {
			return nil, fmt.Errorf("oto context is %d Hz %d ch, cannot reopen as %d Hz %d ch: %w",
				otoShared.rate, otoShared.channels, rate, channels, ErrDevice)
		}
		return otoShared.ctx, nil
	}

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   rate,
		ChannelCount: channels,
		Format:       format,
		BufferSize:   50 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("opening oto context: %w: %v", ErrDevice, err)
	}
	<-ready
	otoShared.ctx = ctx
	otoShared.rate = rate
	otoShared.channels = channels
	otoShared.format = format
	return ctx, nil
}

func (otoBackend) OpenStream(rate, channels, bits int, pull PullFunc) (Stream, error) {
	format := oto.FormatSignedInt16LE
	if bits == 24 {
		// oto has no packed 24-bit format; feed it float32 instead
		format = oto.FormatFloat32LE
	}
	ctx, err := otoContext(rate, channels, format)
	if err != nil {
		return nil, err
	}

	s := &otoStream{pull: pull, channels: channels, bits: bits}
	s.player = ctx.NewPlayer(s)
	return s, nil
}

type otoStream struct {
	player   *oto.Player
	pull     PullFunc
	channels int
	bits     int
	scratch  []byte // packed 24-bit staging for the float32 path
	err      atomicError
}

// Read implements io.Reader for the oto player: it is the pull callback in
// oto's clothing.
func (s *otoStream) Read(p []byte) (int, error) {
	if s.bits == 16 {
		frames := len(p) / (2 * s.channels)
		s.pull(p[:frames*2*s.channels], frames)
		return frames * 2 * s.channels, nil
	}

	// 24-bit mixer output, float32 device format
	frames := len(p) / (4 * s.channels)
	need := frames * 3 * s.channels
	if len(s.scratch) < need {
		s.scratch = make([]byte, need)
	}
	s.pull(s.scratch[:need], frames)
	for i := 0; i < frames*s.channels; i++ {
		v := int32(s.scratch[i*3]) | int32(s.scratch[i*3+1])<<8 | int32(int8(s.scratch[i*3+2]))<<16
		putFloat32LE(p[i*4:], float32(v)/0x800000)
	}
	return frames * 4 * s.channels, nil
}

func (s *otoStream) Start() error {
	s.player.Play()
	return nil
}

func (s *otoStream) Pause() error {
	s.player.Pause()
	return nil
}

func (s *otoStream) Close() error {
	if err := s.player.Close(); err != nil {
		s.err.TryStore(err)
		return fmt.Errorf("closing oto player: %w: %v", ErrDevice, err)
	}
	return nil
}

func (s *otoStream) Status() StreamStatus {
	if s.err.Load() != nil {
		return StreamError
	}
	if s.player.IsPlaying() {
		return StreamActive
	}
	return StreamPaused
}

func putFloat32LE(b []byte, f float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(f))
}
