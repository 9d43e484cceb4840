package polymix

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// Fixed-point layout used by all resampling cursors: positions advance by
// step = inRate<<fpShift / outRate per output frame, with linear
// interpolation on the fractional part.
const (
	fpShift = 16
	fpMask  = 1<<fpShift - 1
)

type auFormat int

const (
	formatNone auFormat = iota
	formatUint8
	formatInt16
	formatInt24
	formatInt32
	formatFloat32
	formatFloat64
	formatALaw
	formatMuLaw
)

// SourcePCM holds a fully decoded WAV file in memory and hands out
// lightweight SamplePCM cursors that resample and remix it to the mixer
// format on the fly.
type SourcePCM struct {
	ready bool

	format     auFormat
	sampleRate int
	frameBytes int // bytes of one frame, all channels (block align)
	channels   int
	chanBytes  int // bytes of one channel value
	dataBytes  int
	frames     int
	pcm        []byte

	dec decoder

	mixerRate     int
	mixerBits     int
	mixerChannels int

	step   uint64
	readFn func(out []int32, nFrames int, idx *int, frac *uint64) int
}

// NewSourcePCM reads a complete RIFF WAVE stream into memory. The source is
// unusable until SetOutputFormat has been called.
func NewSourcePCM(r io.Reader) (*SourcePCM, error) {
	pd, err := decodeWave(r)
	if err != nil {
		return nil, err
	}
	if pd.channels < 1 || pd.channels > 2 {
		return nil, fmt.Errorf("wav: %d channels unsupported: %w", pd.channels, ErrBadFormat)
	}
	if pd.blockAlign == 0 || len(pd.data) == 0 {
		return nil, fmt.Errorf("wav: empty data: %w", ErrBadFormat)
	}

	s := &SourcePCM{
		sampleRate: int(pd.sampleRate),
		frameBytes: int(pd.blockAlign),
		channels:   int(pd.channels),
		chanBytes:  int(pd.blockAlign) / int(pd.channels),
		dataBytes:  len(pd.data),
		frames:     len(pd.data) / int(pd.blockAlign),
		pcm:        pd.data,
	}

	switch pd.effectiveTag() {
	case waveFormatALaw:
		s.format = formatALaw
	case waveFormatMuLaw:
		s.format = formatMuLaw
	case waveFormatPCM:
		switch pd.bitsPerSample {
		case 8:
			s.format = formatUint8
		case 12, 16:
			// 12-bit data is carried left-aligned in 16-bit containers
			s.format = formatInt16
		case 24:
			s.format = formatInt24
		case 32:
			s.format = formatInt32
		default:
			return nil, fmt.Errorf("wav: %d-bit PCM unsupported: %w", pd.bitsPerSample, ErrBadFormat)
		}
	case waveFormatIEEEFloat:
		switch pd.bitsPerSample {
		case 32:
			s.format = formatFloat32
		case 64:
			s.format = formatFloat64
		default:
			return nil, fmt.Errorf("wav: %d-bit float unsupported: %w", pd.bitsPerSample, ErrBadFormat)
		}
	default:
		return nil, fmt.Errorf("wav: format tag 0x%04X unsupported: %w", pd.effectiveTag(), ErrBadFormat)
	}

	logrus.Debugf("polymix: wav source %d Hz, %d ch, %d frames", s.sampleRate, s.channels, s.frames)
	return s, nil
}

// SetOutputFormat implements Source.
func (s *SourcePCM) SetOutputFormat(rate, channels, bits int) {
	s.ready = false
	s.mixerRate = rate
	s.mixerChannels = channels
	s.mixerBits = bits
	s.configure()
}

// configure verifies the source and picks the decoder plus the remix loop
// for the (input, output) channel pairing.
func (s *SourcePCM) configure() {
	if s.sampleRate <= 0 || s.frameBytes <= 0 || s.channels <= 0 || s.chanBytes <= 0 ||
		s.dataBytes <= 0 || s.frames <= 0 || len(s.pcm) != s.dataBytes ||
		s.mixerRate <= 0 || (s.mixerBits != 16 && s.mixerBits != 24) || s.mixerChannels <= 0 {
		return
	}

	s.step = uint64(s.sampleRate) << fpShift / uint64(s.mixerRate)

	to16 := s.mixerBits == 16
	switch s.format {
	case formatALaw:
		s.dec = pick(to16, alawToI16, alawToI24)
	case formatMuLaw:
		s.dec = pick(to16, ulawToI16, ulawToI24)
	case formatUint8:
		s.dec = pick(to16, ui8ToI16, ui8ToI24)
	case formatInt16:
		s.dec = pick(to16, i16ToI16, i16ToI24)
	case formatInt24:
		s.dec = pick(to16, i24ToI16, i24ToI24)
	case formatInt32:
		s.dec = pick(to16, i32ToI16, i32ToI24)
	case formatFloat32:
		s.dec = pick(to16, f32ToI16, f32ToI24)
	case formatFloat64:
		s.dec = pick(to16, f64ToI16, f64ToI24)
	default:
		return
	}

	if s.mixerChannels == 1 {
		s.readFn = s.readToMono
	} else if s.channels > 1 {
		s.readFn = s.readStereoToStereo
	} else {
		s.readFn = s.readMonoToStereo
	}
	s.ready = true
}

func pick(first bool, a, b decoder) decoder {
	if first {
		return a
	}
	return b
}

// CreateSample implements Source.
func (s *SourcePCM) CreateSample() Sample {
	if !s.ready {
		return nil
	}
	return &SamplePCM{src: s}
}

// Duration returns the source length in seconds.
func (s *SourcePCM) Duration() float64 {
	if s.sampleRate == 0 {
		return 0
	}
	return float64(s.frames) / float64(s.sampleRate)
}

// The three read loops interpolate between frame idx and idx+1 at the Q16
// fraction, advancing by step per output frame. The second input frame
// wraps to the start of the data at the end so the last interpolation stays
// in bounds. They return early (short count) at end of data.

func (s *SourcePCM) readStereoToStereo(out []int32, nFrames int, idx *int, frac *uint64) int {
	n := 0
	if *idx >= s.frames {
		return 0
	}
	pos := *idx * s.frameBytes
	vl := s.dec(s.pcm[pos:])
	vr := s.dec(s.pcm[pos+s.chanBytes:])
	pos = (pos + s.frameBytes) % s.dataBytes
	vl2 := s.dec(s.pcm[pos:])
	vr2 := s.dec(s.pcm[pos+s.chanBytes:])

	o := 0
	for n < nFrames {
		out[o] = int32((int64(vl2-vl)*int64(*frac))>>fpShift) + vl
		out[o+1] = int32((int64(vr2-vr)*int64(*frac))>>fpShift) + vr
		o += 2
		n++

		*frac += s.step
		if add := int(*frac >> fpShift); add != 0 {
			*idx += add
			*frac &= fpMask
			if *idx >= s.frames {
				break
			}
			pos = *idx * s.frameBytes
			vl = s.dec(s.pcm[pos:])
			vr = s.dec(s.pcm[pos+s.chanBytes:])
			pos = (pos + s.frameBytes) % s.dataBytes
			vl2 = s.dec(s.pcm[pos:])
			vr2 = s.dec(s.pcm[pos+s.chanBytes:])
		}
	}
	return n
}

func (s *SourcePCM) readMonoToStereo(out []int32, nFrames int, idx *int, frac *uint64) int {
	n := 0
	if *idx >= s.frames {
		return 0
	}
	pos := *idx * s.frameBytes
	v := s.dec(s.pcm[pos:])
	pos = (pos + s.frameBytes) % s.dataBytes
	w := s.dec(s.pcm[pos:])

	o := 0
	for n < nFrames {
		l := int32((int64(w-v)*int64(*frac))>>fpShift) + v
		out[o] = l
		out[o+1] = l
		o += 2
		n++

		*frac += s.step
		if add := int(*frac >> fpShift); add != 0 {
			*idx += add
			*frac &= fpMask
			if *idx >= s.frames {
				break
			}
			pos = *idx * s.frameBytes
			v = s.dec(s.pcm[pos:])
			pos = (pos + s.frameBytes) % s.dataBytes
			w = s.dec(s.pcm[pos:])
		}
	}
	return n
}

// readToMono sums all input channels and halves stereo input after
// interpolation.
func (s *SourcePCM) readToMono(out []int32, nFrames int, idx *int, frac *uint64) int {
	n := 0
	if *idx >= s.frames {
		return 0
	}
	shift := uint(s.channels >> 1)
	var v, w int32
	sum := func(pos int) (int32, int32) {
		pos2 := (pos + s.frameBytes) % s.dataBytes
		var a, b int32
		for c := 0; c < s.channels; c++ {
			a += s.dec(s.pcm[pos:])
			b += s.dec(s.pcm[pos2:])
			pos += s.chanBytes
			pos2 += s.chanBytes
		}
		return a, b
	}
	v, w = sum(*idx * s.frameBytes)

	o := 0
	for n < nFrames {
		l := int32((int64(w-v)*int64(*frac))>>fpShift) + v
		out[o] = l >> shift
		o++
		n++

		*frac += s.step
		if add := int(*frac >> fpShift); add != 0 {
			*idx += add
			*frac &= fpMask
			if *idx >= s.frames {
				break
			}
			v, w = sum(*idx * s.frameBytes)
		}
	}
	return n
}

// SamplePCM is a cursor over a SourcePCM. Several samples can play the same
// source concurrently; each carries only its position.
type SamplePCM struct {
	src  *SourcePCM
	idx  int
	frac uint64
}

// Read implements Sample. A short count means end of data; the cursor
// rewinds so the next Read starts from frame 0.
func (p *SamplePCM) Read(out []int32, nFrames int) int {
	n := p.src.readFn(out, nFrames, &p.idx, &p.frac)
	if n < nFrames {
		p.idx = 0
		p.frac = 0
	}
	return n
}

// Seek implements Sample, clamping to the source length.
func (p *SamplePCM) Seek(frame int64) {
	if frame < 0 {
		frame = 0
	} else if frame >= int64(p.src.frames) {
		frame = int64(p.src.frames) - 1
	}
	p.idx = int(frame)
	p.frac = 0
}

// SeekTime implements Sample.
func (p *SamplePCM) SeekTime(seconds float64) {
	p.Seek(int64(float64(p.src.sampleRate) * seconds))
}
