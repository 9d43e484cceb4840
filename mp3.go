package polymix

import (
	"fmt"
	"io"
	"os"

	"github.com/hajimehoshi/go-mp3"
	"github.com/sirupsen/logrus"
)

// mp3Window is the decode window in bytes, matching the Vorbis window size.
const mp3Window = 4096

// mp3FrameBytes: go-mp3 always emits 16-bit little-endian stereo.
const mp3FrameBytes = 4

// SourceMP3 streams an MP3 file, window-buffered like SourceVorbis. The
// decoder's output format is fixed (16-bit stereo at the file's rate), so
// only the resampling step and the target depth vary.
type SourceMP3 struct {
	path string

	mixerRate     int
	mixerBits     int
	mixerChannels int
	dec           decoder
}

// NewSourceMP3 validates that the file opens as MP3 and returns the source.
func NewSourceMP3(path string) (*SourceMP3, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mp3: %w: %v", ErrBadFormat, err)
	}
	defer f.Close()
	if _, err := mp3.NewDecoder(f); err != nil {
		return nil, fmt.Errorf("mp3: %w: %v", ErrBadFormat, err)
	}
	return &SourceMP3{path: path}, nil
}

// SetOutputFormat implements Source.
func (s *SourceMP3) SetOutputFormat(rate, channels, bits int) {
	s.mixerRate = rate
	s.mixerChannels = channels
	s.mixerBits = bits
	if bits == 16 {
		s.dec = i16ToI16
	} else {
		s.dec = i16ToI24
	}
}

// CreateSample implements Source.
func (s *SourceMP3) CreateSample() Sample {
	if s.mixerRate <= 0 {
		return nil
	}
	f, err := os.Open(s.path)
	if err != nil {
		logrus.Warnf("polymix: %s: %v", s.path, err)
		return nil
	}
	d, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		logrus.Warnf("polymix: %s: %v", s.path, err)
		return nil
	}
	sm := &SampleMP3{
		src: s,
		f:   f,
		d:   d,
		win: make([]byte, mp3Window),
	}
	sm.step = uint64(d.SampleRate()) << fpShift / uint64(s.mixerRate)
	return sm
}

// SampleMP3 is a streaming cursor over an MP3 decoder.
type SampleMP3 struct {
	src *SourceMP3
	f   *os.File
	d   *mp3.Decoder

	win    []byte
	winLen int
	idx1   int // byte offset of the current input frame

	step uint64
	frac uint64
}

func (p *SampleMP3) refill() bool {
	if p.idx1 >= p.winLen {
		p.idx1 -= p.winLen
		n, _ := io.ReadFull(p.d, p.win)
		p.winLen = n
	} else {
		keep := p.winLen - p.idx1
		copy(p.win[:keep], p.win[p.idx1:p.winLen])
		p.idx1 = 0
		n, _ := io.ReadFull(p.d, p.win[keep:])
		p.winLen = keep + n
		if n == 0 {
			return false
		}
	}
	return p.winLen > 0
}

// Read implements Sample. The input is always stereo; mono output averages
// the two channels after interpolation.
func (p *SampleMP3) Read(out []int32, nFrames int) int {
	n := 0
	o := 0
	dec := p.src.dec

	for n < nFrames {
		for p.idx1+2*mp3FrameBytes > p.winLen {
			if !p.refill() {
				p.Seek(0)
				return n
			}
		}

		i1 := p.idx1
		i2 := i1 + mp3FrameBytes
		frac := int64(p.frac)

		vl1 := dec(p.win[i1:])
		vr1 := dec(p.win[i1+2:])
		vl2 := dec(p.win[i2:])
		vr2 := dec(p.win[i2+2:])
		ll := int32((int64(vl2-vl1)*frac)>>fpShift) + vl1
		lr := int32((int64(vr2-vr1)*frac)>>fpShift) + vr1

		if p.src.mixerChannels == 1 {
			out[o] = (ll + lr) >> 1
			o++
		} else {
			out[o] = ll
			out[o+1] = lr
			o += 2
		}

		n++
		p.frac += p.step
		if add := int(p.frac >> fpShift); add != 0 {
			p.frac &= fpMask
			p.idx1 += add * mp3FrameBytes
		}
	}
	return n
}

// Seek implements Sample; positions are frames of decoder output.
func (p *SampleMP3) Seek(frame int64) {
	p.winLen = 0
	p.idx1 = 0
	p.frac = 0
	if _, err := p.d.Seek(frame*mp3FrameBytes, io.SeekStart); err != nil {
		logrus.Debugf("polymix: mp3 seek: %v", err)
	}
}

// SeekTime implements Sample.
func (p *SampleMP3) SeekTime(seconds float64) {
	if seconds < 0 {
		return
	}
	p.Seek(int64(seconds * float64(p.d.SampleRate())))
}

// Duration returns the stream length in seconds.
func (p *SampleMP3) Duration() float64 {
	rate := p.d.SampleRate()
	if rate == 0 {
		return 0
	}
	return float64(p.d.Length()/mp3FrameBytes) / float64(rate)
}

// Close releases the file handle.
func (p *SampleMP3) Close() error {
	return p.f.Close()
}
