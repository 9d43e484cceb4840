package polymix

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// mixFunc renders exactly nFrames frames of interleaved output PCM into
// out. It is installed by the mixer core and called only by the producer
// goroutine, under the ring's mutex.
type mixFunc func(out []byte, nFrames int)

// BufferedMixer decouples mixing from the realtime device callback with a
// single-producer single-consumer ring of packet-sized byte buffers.
//
// The producer goroutine fills one packet at a time and waits on a
// condition variable when the ring is full or it is paused. The consumer —
// the backend's pull callback — never blocks, never allocates and never
// takes the mutex: it copies bytes out of published packets and fills the
// remainder with silence on underrun.
type BufferedMixer struct {
	packetBytes  int
	packetFrames int
	frameBytes   int
	totalBytes   int

	buf []byte

	readPos     atomic.Int32
	readInRange int // consumer-private offset within the current packet
	writePos    atomic.Int32
	producerOn  atomic.Bool
	paused      atomic.Bool

	mu   sync.Mutex
	cond *sync.Cond
	done sync.WaitGroup

	mix mixFunc
}

// NewBufferedMixer sizes the ring as packetCount packets of packetFrames
// frames, frameBytes bytes each.
func NewBufferedMixer(packetCount, packetFrames, frameBytes int) *BufferedMixer {
	b := &BufferedMixer{
		packetBytes:  packetFrames * frameBytes,
		packetFrames: packetFrames,
		frameBytes:   frameBytes,
		totalBytes:   packetCount * packetFrames * frameBytes,
	}
	b.buf = make([]byte, b.totalBytes)
	b.cond = sync.NewCond(&b.mu)
	logrus.Debugf("polymix: ring of %d packets, %d frames each (%d bytes total)",
		packetCount, packetFrames, b.totalBytes)
	return b
}

// Started reports whether the producer goroutine is running.
func (b *BufferedMixer) Started() bool { return b.producerOn.Load() }

// Paused reports whether the producer is paused.
func (b *BufferedMixer) Paused() bool { return b.paused.Load() }

// Active reports started and not paused.
func (b *BufferedMixer) Active() bool { return b.producerOn.Load() && !b.paused.Load() }

// PacketCount returns the number of packets in the ring.
func (b *BufferedMixer) PacketCount() int {
	if b.packetBytes == 0 {
		return 0
	}
	return b.totalBytes / b.packetBytes
}

// PacketFrames returns the frame capacity of one packet.
func (b *BufferedMixer) PacketFrames() int { return b.packetFrames }

// PacketBytes returns the byte size of one packet.
func (b *BufferedMixer) PacketBytes() int { return b.packetBytes }

// SetMixFunc installs the mixing function. Ignored while the producer is
// actively mixing; pause or stop it first.
func (b *BufferedMixer) SetMixFunc(fn mixFunc) {
	if !b.Active() {
		b.mix = fn
	}
}

// Start launches the producer goroutine. No-op when already started or when
// no mix function is installed.
func (b *BufferedMixer) Start() {
	if b.producerOn.Load() || b.mix == nil {
		return
	}
	b.writePos.Store(0)
	b.readPos.Store(0)
	b.readInRange = 0
	b.producerOn.Store(true)
	b.done.Add(1)
	go b.write()
}

// Pause suspends or resumes the producer. Pause(true) is a quiescence
// barrier: it only returns once the producer cannot be inside the mix
// function, so the caller may mutate mix state until the matching
// Pause(false).
func (b *BufferedMixer) Pause(pause bool) {
	if b.paused.Load() == pause {
		return
	}
	b.mu.Lock()
	b.paused.Store(pause)
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Stop shuts the producer down and joins it. The producer notices within
// one mix iteration.
func (b *BufferedMixer) Stop() {
	if !b.producerOn.Load() {
		return
	}
	b.mu.Lock()
	b.producerOn.Store(false)
	b.cond.Broadcast()
	b.mu.Unlock()
	b.done.Wait()
	logrus.Debugf("polymix: producer stopped at write position %d", b.writePos.Load())
}

// write is the producer loop: mix one packet under the mutex, then publish
// it once the slot ahead is free.
func (b *BufferedMixer) write() {
	defer b.done.Done()
	for b.producerOn.Load() {
		b.mu.Lock()
		for b.paused.Load() && b.producerOn.Load() {
			b.cond.Wait()
		}
		if !b.producerOn.Load() {
			b.mu.Unlock()
			return
		}
		wp := int(b.writePos.Load())
		b.mix(b.buf[wp:wp+b.packetBytes], b.packetFrames)
		b.mu.Unlock()

		next := (wp + b.packetBytes) % b.totalBytes

		b.mu.Lock()
		for (next == int(b.readPos.Load()) || b.paused.Load()) && b.producerOn.Load() {
			b.cond.Wait()
		}
		b.mu.Unlock()

		b.writePos.Store(int32(next))
	}
}

// Read copies nFrames frames out of the ring into out. It always returns
// after writing exactly nFrames*frameBytes bytes: on underrun the remainder
// is zero-filled, which plays as silence and keeps the device fed.
//
// Read is wait-free apart from the condition signal, which may be lost if
// it races the producer's predicate check; the next periodic callback
// re-signals, so a lost wakeup stalls the producer for at most one packet.
func (b *BufferedMixer) Read(out []byte, nFrames int) {
	outCount := 0
	remaining := nFrames * b.frameBytes
	for remaining > 0 {
		rp := int(b.readPos.Load())
		if int(b.writePos.Load()) == rp {
			// underrun: the producer has not published the next packet
			for i := outCount; i < outCount+remaining; i++ {
				out[i] = 0
			}
			return
		}

		rangeRemaining := b.packetBytes - b.readInRange
		take := rangeRemaining
		if remaining < take {
			take = remaining
		}
		pos := rp + b.readInRange
		copy(out[outCount:outCount+take], b.buf[pos:pos+take])

		outCount += take
		remaining -= take
		rangeRemaining -= take

		if rangeRemaining > 0 {
			b.readInRange += take
		} else {
			b.readInRange = 0
			b.readPos.Store(int32((rp + b.packetBytes) % b.totalBytes))
			b.cond.Signal()
		}
	}
}
