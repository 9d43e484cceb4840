package polymix

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/polymix/go-polymix/kss"
)

// Mixer blends any number of registered sources onto a fixed table of
// voices and feeds the result to an AudioBackend stream through a
// BufferedMixer. See the package documentation in polymix.go for the
// threading rules.
type Mixer struct {
	backend AudioBackend
	stream  Stream

	rate     int
	channels int
	bits     int

	// 0..255, applied as (sample * volume) >> 8
	masterVolume atomic.Int32

	// sparse slot tables; nil entries are free slots
	sources       []Source
	kssCartridges []*kss.Cartridge

	voices []*mixerVoice

	producer  *BufferedMixer
	mixBuf    []int32
	sampleBuf []int32
	encode    func(out []byte)

	// serializes control-plane calls; never touched by the producer or
	// the device callback
	cm sync.Mutex
}

// New creates a stopped mixer bound to the given backend with the default
// format (44100 Hz stereo 16-bit, 6 voices).
func New(backend AudioBackend) *Mixer {
	m := &Mixer{
		backend:  backend,
		rate:     44100,
		channels: 2,
		bits:     16,
	}
	m.masterVolume.Store(128)
	m.SetFormat(44100, true, 16, 6)
	return m
}

// SetFormat configures the output format and the voice table size. Legal
// only while the device is closed. Every registered source and cartridge is
// told the new format; the packet ring is re-provisioned, keeping its
// packet sizing if one was configured before.
func (m *Mixer) SetFormat(rate int, stereo bool, bits, voiceCount int) bool {
	m.cm.Lock()
	defer m.cm.Unlock()

	if m.stream != nil {
		return false
	}
	if rate < 8000 || rate > 96000 || (bits != 16 && bits != 24) || voiceCount <= 0 {
		return false
	}

	m.rate = rate
	m.channels = 1
	if stereo {
		m.channels = 2
	}
	m.bits = bits

	m.voices = make([]*mixerVoice, voiceCount)
	for i := range m.voices {
		m.voices[i] = newMixerVoice()
	}

	for _, src := range m.sources {
		if src != nil {
			src.SetOutputFormat(m.rate, m.channels, m.bits)
		}
	}
	for _, c := range m.kssCartridges {
		if c != nil {
			c.SetOutputFormat(m.rate, m.channels, m.bits)
		}
	}

	if bits == 16 {
		m.encode = m.encode16
	} else {
		m.encode = m.encode24
	}

	logrus.Debugf("polymix: format %d Hz, %d ch, %d bits, %d voices", m.rate, m.channels, m.bits, voiceCount)

	// default packet sizing targets 100 ms of latency over 5 packets
	packetCount := 5
	packetFrames := 100 * rate / packetCount / 1000
	if m.producer != nil {
		packetCount = m.producer.PacketCount()
		packetFrames = m.producer.PacketFrames()
	}
	return m.setMixerBufferParameters(packetCount, packetFrames)
}

// SetMixerBufferParameters overrides the packet ring sizing (packet count
// and frames per packet). Legal only while the device is closed.
func (m *Mixer) SetMixerBufferParameters(packetCount, packetFrames int) bool {
	m.cm.Lock()
	defer m.cm.Unlock()
	return m.setMixerBufferParameters(packetCount, packetFrames)
}

func (m *Mixer) setMixerBufferParameters(packetCount, packetFrames int) bool {
	if m.stream != nil {
		return false
	}
	if packetCount <= 0 || packetFrames <= 0 {
		return false
	}
	m.producer = NewBufferedMixer(packetCount, packetFrames, m.channels*m.bits/8)
	m.mixBuf = make([]int32, packetFrames*m.channels)
	m.sampleBuf = make([]int32, packetFrames*m.channels)
	m.producer.SetMixFunc(m.mix)
	return true
}

// mix renders one packet: zero the accumulator, add every active voice and
// every cartridge, attenuate, encode. Runs on the producer goroutine under
// the ring mutex.
func (m *Mixer) mix(out []byte, nFrames int) {
	for i := range m.mixBuf {
		m.mixBuf[i] = 0
	}

	for _, v := range m.voices {
		if !v.active.Load() {
			continue
		}
		count := 0
		deactivate := false
		if v.stopped.Load() || v.sample == nil {
			deactivate = true
		} else if !v.paused.Load() {
			count = v.sample.Read(m.sampleBuf, nFrames)
			if v.loop.Load() {
				for count < nFrames {
					// EOF: the sample rewound itself, keep filling
					r := v.sample.Read(m.sampleBuf[count*m.channels:], nFrames-count)
					if r == 0 {
						break
					}
					count += r
				}
			}
			for i := 0; i < count*m.channels; i++ {
				m.mixBuf[i] += m.sampleBuf[i]
			}
			if count < nFrames {
				deactivate = true
			}
		}
		if deactivate {
			v.stopped.Store(true)
			v.active.Store(false)
		}
	}

	for _, c := range m.kssCartridges {
		if c != nil {
			c.Read(m.mixBuf, nFrames)
		}
	}

	vol := int64(m.masterVolume.Load())
	for i, n := range m.mixBuf {
		m.mixBuf[i] = int32(int64(n) * vol >> 8)
	}

	m.encode(out)
}

func (m *Mixer) encode16(out []byte) {
	o := 0
	for _, v := range m.mixBuf {
		out[o] = byte(v)
		out[o+1] = byte(v >> 8)
		o += 2
	}
}

func (m *Mixer) encode24(out []byte) {
	o := 0
	for _, v := range m.mixBuf {
		out[o] = byte(v)
		out[o+1] = byte(v >> 8)
		out[o+2] = byte(v >> 16)
		o += 3
	}
}

// withProducerPaused quiesces the producer around fn when it is running.
func (m *Mixer) withProducerPaused(fn func()) {
	resume := m.producer != nil && m.producer.Active()
	if resume {
		m.producer.Pause(true)
	}
	fn()
	if resume {
		m.producer.Pause(false)
	}
}
