//go:build sdl

package polymix

import (
	"fmt"
	"sync"
	"time"

	"github.com/veandco/go-sdl2/sdl"
)

// sdlBackend plays through SDL's queued-audio API. SDL's native callback
// runs in C; instead of crossing that boundary a pump goroutine pulls
// packets and queues them, keeping roughly targetQueue bytes ahead of the
// device.
type sdlBackend struct{}

// NewDeviceBackend returns the SDL device backend (sdl build tag).
func NewDeviceBackend() (AudioBackend, error) {
	if err := sdl.Init(sdl.INIT_AUDIO); err != nil {
		return nil, fmt.Errorf("initializing SDL audio: %w: %v", ErrDevice, err)
	}
	return sdlBackend{}, nil
}

const sdlPumpFrames = 512

func (sdlBackend) OpenStream(rate, channels, bits int, pull PullFunc) (Stream, error) {
	var format sdl.AudioFormat = sdl.AUDIO_S16LSB
	if bits == 24 {
		// no packed 24-bit SDL format; widen to 32-bit on the queue side
		format = sdl.AUDIO_S32LSB
	}
	spec := &sdl.AudioSpec{
		Freq:     int32(rate),
		Format:   format,
		Channels: uint8(channels),
		Samples:  sdlPumpFrames,
	}
	var obtained sdl.AudioSpec
	id, err := sdl.OpenAudioDevice("", false, spec, &obtained, 0)
	if err != nil {
		return nil, fmt.Errorf("opening SDL audio device: %w: %v", ErrDevice, err)
	}

	s := &sdlStream{
		id:       id,
		pull:     pull,
		channels: channels,
		bits:     bits,
		rate:     rate,
		quit:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.pump()
	return s, nil
}

type sdlStream struct {
	id       sdl.AudioDeviceID
	pull     PullFunc
	channels int
	bits     int
	rate     int

	mu     sync.Mutex
	active bool
	closed bool
	quit   chan struct{}
	wg     sync.WaitGroup
	err    atomicError
}

// pump keeps up to three pump-buffers queued on the device while the
// stream is active.
func (s *sdlStream) pump() {
	defer s.wg.Done()

	frameBytes := s.channels * s.bits / 8
	raw := make([]byte, sdlPumpFrames*frameBytes)
	wide := make([]byte, sdlPumpFrames*s.channels*4)
	deviceFrameBytes := s.channels * 2
	if s.bits == 24 {
		deviceFrameBytes = s.channels * 4
	}
	targetQueue := uint32(3 * sdlPumpFrames * deviceFrameBytes)
	tick := time.NewTicker(time.Duration(sdlPumpFrames) * time.Second / time.Duration(s.rate) / 2)
	defer tick.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-tick.C:
		}
		s.mu.Lock()
		active := s.active && !s.closed
		s.mu.Unlock()
		if !active || sdl.GetQueuedAudioSize(s.id) >= targetQueue {
			continue
		}

		s.pull(raw, sdlPumpFrames)
		queued := raw
		if s.bits == 24 {
			for i := 0; i < sdlPumpFrames*s.channels; i++ {
				v := int32(raw[i*3]) | int32(raw[i*3+1])<<8 | int32(int8(raw[i*3+2]))<<16
				u := uint32(v << 8)
				wide[i*4] = byte(u)
				wide[i*4+1] = byte(u >> 8)
				wide[i*4+2] = byte(u >> 16)
				wide[i*4+3] = byte(u >> 24)
			}
			queued = wide
		}
		if err := sdl.QueueAudio(s.id, queued); err != nil {
			s.err.TryStore(err)
		}
	}
}

func (s *sdlStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("stream closed: %w", ErrDevice)
	}
	s.active = true
	sdl.PauseAudioDevice(s.id, false)
	return nil
}

func (s *sdlStream) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("stream closed: %w", ErrDevice)
	}
	s.active = false
	sdl.PauseAudioDevice(s.id, true)
	return nil
}

func (s *sdlStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.active = false
	s.mu.Unlock()

	close(s.quit)
	s.wg.Wait()
	sdl.ClearQueuedAudio(s.id)
	sdl.CloseAudioDevice(s.id)
	return nil
}

func (s *sdlStream) Status() StreamStatus {
	if s.err.Load() != nil {
		return StreamError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active && !s.closed {
		return StreamActive
	}
	return StreamPaused
}
