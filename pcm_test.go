package polymix

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pcmSourceFromFrames(t *testing.T, rate, bits, channels int, frames []int) *SourcePCM {
	t.Helper()
	src, err := NewSourcePCM(bytes.NewReader(encodeWav(t, rate, bits, channels, frames)))
	require.NoError(t, err)
	return src
}

func TestSamplePCMPassthroughStereo(t *testing.T) {
	frames := []int{1000, -1000, 2000, -2000, 3000, -3000, 4000, -4000}
	src := pcmSourceFromFrames(t, 44100, 16, 2, frames)
	src.SetOutputFormat(44100, 2, 16)

	s := src.CreateSample()
	require.NotNil(t, s)

	out := make([]int32, 8)
	n := s.Read(out, 4)
	assert.Equal(t, 4, n)
	for i, want := range frames {
		assert.Equalf(t, int32(want), out[i], "value %d", i)
	}
}

func TestSamplePCMAutoRewind(t *testing.T) {
	src := pcmSourceFromFrames(t, 44100, 16, 2, []int{10, 20, 30, 40})
	src.SetOutputFormat(44100, 2, 16)
	s := src.CreateSample()

	out := make([]int32, 16)
	n := s.Read(out, 8)
	assert.Equal(t, 2, n, "two frames in the source")
	assert.Equal(t, int32(10), out[0])

	// the short read rewound the cursor
	n = s.Read(out, 2)
	assert.Equal(t, 2, n)
	assert.Equal(t, int32(10), out[0])
	assert.Equal(t, int32(20), out[1])
}

func TestSamplePCMMonoToStereoUpsample(t *testing.T) {
	frames := make([]int, 200)
	for i := range frames {
		frames[i] = 10000
	}
	src := pcmSourceFromFrames(t, 22050, 16, 1, frames)
	src.SetOutputFormat(44100, 2, 16)
	s := src.CreateSample()

	out := make([]int32, 2*100)
	n := s.Read(out, 100)
	assert.Equal(t, 100, n)
	for i := 0; i < 2*n; i++ {
		// constant input interpolates to itself, duplicated on both
		// channels
		require.Equalf(t, int32(10000), out[i], "value %d", i)
	}
}

func TestSamplePCMStereoToMonoAverages(t *testing.T) {
	src := pcmSourceFromFrames(t, 44100, 16, 2, []int{1000, 3000, 1000, 3000, 1000, 3000, 1000, 3000})
	src.SetOutputFormat(44100, 1, 16)
	s := src.CreateSample()

	out := make([]int32, 4)
	n := s.Read(out, 4)
	assert.Equal(t, 4, n)
	for i := 0; i < n; i++ {
		assert.Equal(t, int32(2000), out[i])
	}
}

func TestSamplePCM24BitOutput(t *testing.T) {
	src := pcmSourceFromFrames(t, 44100, 16, 2, []int{0x1234, -0x1234})
	src.SetOutputFormat(44100, 2, 24)
	s := src.CreateSample()

	out := make([]int32, 2)
	n := s.Read(out, 1)
	assert.Equal(t, 1, n)
	assert.Equal(t, int32(0x1234<<8), out[0])
	assert.Equal(t, int32(-0x1234)<<8, out[1])
}

func TestSamplePCMSeek(t *testing.T) {
	src := pcmSourceFromFrames(t, 44100, 16, 1, []int{1, 2, 3, 4, 5, 6, 7, 8})
	src.SetOutputFormat(44100, 1, 16)
	s := src.CreateSample()

	s.Seek(4)
	out := make([]int32, 4)
	n := s.Read(out, 4)
	assert.Equal(t, 4, n)
	assert.Equal(t, int32(5), out[0])

	// out of range seeks clamp to the valid range
	s.Seek(-1)
	s.Seek(100)
	n = s.Read(out, 1)
	assert.Equal(t, 1, n, "cursor clamped to the last frame")
	assert.Equal(t, int32(8), out[0])

	s.SeekTime(0)
	n = s.Read(out, 1)
	assert.Equal(t, 1, n)
	assert.Equal(t, int32(1), out[0])
}

func TestSourcePCMNotReadyWithoutFormat(t *testing.T) {
	src := pcmSourceFromFrames(t, 44100, 16, 2, []int{1, 2})
	assert.Nil(t, src.CreateSample())

	src.SetOutputFormat(44100, 2, 16)
	assert.NotNil(t, src.CreateSample())
}

func TestSourcePCMDuration(t *testing.T) {
	src := pcmSourceFromFrames(t, 8000, 16, 1, make([]int, 4000))
	assert.InDelta(t, 0.5, src.Duration(), 1e-9)
}

func TestSamplePCMALawDecodes(t *testing.T) {
	raw := packWav(waveFormatALaw, 1, 8000, 8, []byte{0x55, 0x55, 0x55, 0x55})
	src, err := NewSourcePCM(bytes.NewReader(raw))
	require.NoError(t, err)
	src.SetOutputFormat(8000, 1, 16)
	s := src.CreateSample()
	require.NotNil(t, s)

	out := make([]int32, 4)
	n := s.Read(out, 4)
	assert.Equal(t, 4, n)
	assert.Equal(t, alawToI16([]byte{0x55}), out[0])
}
