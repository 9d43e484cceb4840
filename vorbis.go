package polymix

import (
	"fmt"
	"os"

	"github.com/jfreymuth/oggvorbis"
	"github.com/sirupsen/logrus"
)

// vorbisWindow is the decode window size in samples: 1024 float32 values,
// 4 KiB of buffered audio.
const vorbisWindow = 1024

// SourceVorbis streams an Ogg Vorbis file. Unlike SourcePCM nothing is
// decoded up front; each Sample owns its own file handle and decoder and
// refills a small window on demand, so arbitrarily long files play in
// constant memory.
type SourceVorbis struct {
	path string

	mixerRate     int
	mixerBits     int
	mixerChannels int
}

// NewSourceVorbis validates that the file opens as Ogg Vorbis and returns
// the source. The file is reopened per sample.
func NewSourceVorbis(path string) (*SourceVorbis, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vorbis: %w: %v", ErrBadFormat, err)
	}
	defer f.Close()
	if _, err := oggvorbis.NewReader(f); err != nil {
		return nil, fmt.Errorf("vorbis: %w: %v", ErrBadFormat, err)
	}
	return &SourceVorbis{path: path}, nil
}

// SetOutputFormat implements Source.
func (s *SourceVorbis) SetOutputFormat(rate, channels, bits int) {
	s.mixerRate = rate
	s.mixerChannels = channels
	s.mixerBits = bits
}

// CreateSample implements Source.
func (s *SourceVorbis) CreateSample() Sample {
	if s.mixerRate <= 0 {
		return nil
	}
	f, err := os.Open(s.path)
	if err != nil {
		logrus.Warnf("polymix: %s: %v", s.path, err)
		return nil
	}
	r, err := oggvorbis.NewReader(f)
	if err != nil {
		f.Close()
		logrus.Warnf("polymix: %s: %v", s.path, err)
		return nil
	}
	sm := &SampleVorbis{
		src: s,
		f:   f,
		r:   r,
		win: make([]float32, vorbisWindow),
	}
	sm.configure()
	return sm
}

// SampleVorbis is a streaming cursor. win holds decoded frames of the
// current logical section; idx1 indexes the first of the two input frames
// the next output frame interpolates between.
type SampleVorbis struct {
	src *SourceVorbis
	f   *os.File
	r   *oggvorbis.Reader

	rate     int
	channels int

	win    []float32
	winLen int
	idx1   int

	step uint64
	frac uint64
}

// configure re-reads the stream parameters. Called at creation and again
// whenever a refill reveals a new logical section (chained streams may
// change rate and channel count mid-file); the output layout stays whatever
// the mixer chose.
func (v *SampleVorbis) configure() {
	v.rate = v.r.SampleRate()
	v.channels = v.r.Channels()
	v.step = uint64(v.rate) << fpShift / uint64(v.src.mixerRate)
}

func (v *SampleVorbis) decode(f float32) int32 {
	if v.src.mixerBits == 16 {
		return int32(f * 0x7FFF)
	}
	return int32(f * 0x7FFFFF)
}

// refill slides the unconsumed tail of the window down and decodes more
// frames behind it. Returns false at end of stream.
func (v *SampleVorbis) refill() bool {
	if v.idx1 >= v.winLen {
		v.idx1 -= v.winLen
		n, _ := v.r.Read(v.win)
		v.winLen = n
	} else {
		keep := v.winLen - v.idx1
		copy(v.win[:keep], v.win[v.idx1:v.winLen])
		v.idx1 = 0
		n, _ := v.r.Read(v.win[keep:])
		v.winLen = keep + n
		if n == 0 {
			return false
		}
	}
	if v.winLen == 0 {
		return false
	}
	if v.r.SampleRate() != v.rate || v.r.Channels() != v.channels {
		v.configure()
	}
	return true
}

// Read implements Sample. Each output frame interpolates two consecutive
// input frames at the fixed-point fraction; on end of stream the sample
// rewinds to the start and returns the short count.
func (v *SampleVorbis) Read(out []int32, nFrames int) int {
	n := 0
	o := 0
	outChannels := v.src.mixerChannels

	for n < nFrames {
		for v.idx1+2*v.channels > v.winLen {
			if !v.refill() {
				// EOF, rewind for the next call
				v.Seek(0)
				return n
			}
		}

		i1 := v.idx1
		i2 := i1 + v.channels
		frac := int64(v.frac)

		if outChannels == 1 {
			var v1, v2 int32
			for c := 0; c < v.channels; c++ {
				v1 += v.decode(v.win[i1+c])
				v2 += v.decode(v.win[i2+c])
			}
			l := int32((int64(v2-v1)*frac)>>fpShift) + v1
			out[o] = l >> uint(v.channels>>1)
			o++
		} else if v.channels > 1 {
			vl1 := v.decode(v.win[i1])
			vr1 := v.decode(v.win[i1+1])
			vl2 := v.decode(v.win[i2])
			vr2 := v.decode(v.win[i2+1])
			out[o] = int32((int64(vl2-vl1)*frac)>>fpShift) + vl1
			out[o+1] = int32((int64(vr2-vr1)*frac)>>fpShift) + vr1
			o += 2
		} else {
			v1 := v.decode(v.win[i1])
			v2 := v.decode(v.win[i2])
			l := int32((int64(v2-v1)*frac)>>fpShift) + v1
			out[o] = l
			out[o+1] = l
			o += 2
		}

		n++
		v.frac += v.step
		if add := int(v.frac >> fpShift); add != 0 {
			v.frac &= fpMask
			v.idx1 += add * v.channels
		}
	}
	return n
}

// Seek implements Sample; the window is invalidated.
func (v *SampleVorbis) Seek(frame int64) {
	v.winLen = 0
	v.idx1 = 0
	v.frac = 0
	if err := v.r.SetPosition(frame); err != nil {
		logrus.Debugf("polymix: vorbis seek: %v", err)
	}
}

// SeekTime implements Sample.
func (v *SampleVorbis) SeekTime(seconds float64) {
	if seconds < 0 {
		return
	}
	v.Seek(int64(seconds * float64(v.rate)))
}

// Duration returns the stream length in seconds.
func (v *SampleVorbis) Duration() float64 {
	if v.rate == 0 {
		return 0
	}
	return float64(v.r.Length()) / float64(v.rate)
}

// Close releases the file handle.
func (v *SampleVorbis) Close() error {
	return v.f.Close()
}
