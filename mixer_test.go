package polymix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMixer(t *testing.T, rate int, stereo bool, bits, voices int) *Mixer {
	t.Helper()
	m := New(NullBackend{})
	require.True(t, m.SetFormat(rate, stereo, bits, voices))
	return m
}

// att applies the master-volume attenuation the mix loop performs.
func att(v, volume int) int32 {
	return int32(int64(v) * int64(volume) >> 8)
}

func TestSetFormatValidation(t *testing.T) {
	m := New(NullBackend{})
	assert.False(t, m.SetFormat(4000, true, 16, 4), "rate below range")
	assert.False(t, m.SetFormat(200000, true, 16, 4), "rate above range")
	assert.False(t, m.SetFormat(44100, true, 20, 4), "bits must be 16 or 24")
	assert.False(t, m.SetFormat(44100, true, 16, 0), "need at least one voice")
	assert.True(t, m.SetFormat(96000, false, 24, 1))
}

func TestSetFormatIsIdempotent(t *testing.T) {
	m := newTestMixer(t, 44100, true, 16, 6)
	count, frames := m.producer.PacketCount(), m.producer.PacketFrames()

	require.True(t, m.SetFormat(44100, true, 16, 6))
	assert.Equal(t, count, m.producer.PacketCount())
	assert.Equal(t, frames, m.producer.PacketFrames())
	assert.Len(t, m.voices, 6)
}

func TestSetFormatRejectedWhileRunning(t *testing.T) {
	m := newTestMixer(t, 44100, true, 16, 2)
	require.True(t, m.StartMixer())
	defer m.StopMixer()

	assert.False(t, m.SetFormat(48000, true, 16, 2))
	assert.False(t, m.SetMixerBufferParameters(4, 256))
}

func TestMixSilenceWithoutSources(t *testing.T) {
	m := newTestMixer(t, 44100, true, 16, 4)
	frames := m.producer.PacketFrames()

	out := make([]byte, frames*4)
	for i := range out {
		out[i] = 0xAA
	}
	m.mix(out, frames)
	for i, v := range out {
		require.Equalf(t, byte(0), v, "byte %d", i)
	}
}

func TestMixSingleTonePassthrough(t *testing.T) {
	m := newTestMixer(t, 44100, true, 16, 4)
	require.True(t, m.SetMixerBufferParameters(5, 8))
	m.SetMasterVolume(255)

	frames := []int{0x1234, -0x1234, 0x1234, -0x1234, 0x1234, -0x1234, 0x1234, -0x1234,
		0x1234, -0x1234, 0x1234, -0x1234, 0x1234, -0x1234, 0x1234, -0x1234}
	src := m.RegisterSource(pcmSourceFromFrames(t, 44100, 16, 2, frames))
	require.NotZero(t, src)

	play := m.PlaySource(src, false, false)
	require.NotZero(t, play)

	out := make([]byte, 8*4)
	m.mix(out, 8)

	// the arithmetic shift floors, so the negative channel lands one step
	// further from zero than the positive one
	wantL := att(0x1234, 255)
	wantR := att(-0x1234, 255)
	for f := 0; f < 8; f++ {
		l := int32(i16ToI16(out[f*4:]))
		r := int32(i16ToI16(out[f*4+2:]))
		assert.Equalf(t, wantL, l, "frame %d left", f)
		assert.Equalf(t, wantR, r, "frame %d right", f)
	}
}

func TestMixResampleUpMonoSource(t *testing.T) {
	m := newTestMixer(t, 44100, true, 16, 4)
	require.True(t, m.SetMixerBufferParameters(5, 16))
	m.SetMasterVolume(255)

	mono := make([]int, 200)
	for i := range mono {
		mono[i] = 10000
	}
	src := m.RegisterSource(pcmSourceFromFrames(t, 22050, 16, 1, mono))
	play := m.PlaySource(src, false, false)
	require.NotZero(t, play)

	out := make([]byte, 16*4)
	m.mix(out, 16)

	want := att(10000, 255)
	for f := 0; f < 16; f++ {
		assert.Equal(t, want, i16ToI16(out[f*4:]), "left")
		assert.Equal(t, want, i16ToI16(out[f*4+2:]), "right")
	}
}

func TestMixTwoVoiceSum(t *testing.T) {
	m := newTestMixer(t, 44100, true, 16, 4)
	require.True(t, m.SetMixerBufferParameters(5, 8))
	m.SetMasterVolume(255)

	constant := func(v int) []int {
		f := make([]int, 64)
		for i := range f {
			f[i] = v
		}
		return f
	}
	a := m.RegisterSource(pcmSourceFromFrames(t, 44100, 16, 1, constant(8000)))
	b := m.RegisterSource(pcmSourceFromFrames(t, 44100, 16, 1, constant(4000)))
	require.NotZero(t, m.PlaySource(a, false, false))
	require.NotZero(t, m.PlaySource(b, false, false))

	out := make([]byte, 8*4)
	m.mix(out, 8)

	want := att(8000+4000, 255)
	for f := 0; f < 8; f++ {
		assert.Equal(t, want, i16ToI16(out[f*4:]))
		assert.Equal(t, want, i16ToI16(out[f*4+2:]))
	}
}

func TestMixVolumeScalesLinearly(t *testing.T) {
	m := newTestMixer(t, 44100, true, 16, 2)
	require.True(t, m.SetMixerBufferParameters(5, 4))

	src := m.RegisterSource(pcmSourceFromFrames(t, 44100, 16, 2, []int{
		16000, 16000, 16000, 16000, 16000, 16000, 16000, 16000,
	}))

	out := make([]byte, 4*4)
	for _, vol := range []int{0, 64, 128, 255} {
		m.SetMasterVolume(vol)
		play := m.PlaySource(src, false, false)
		require.NotZero(t, play)
		m.mix(out, 4)
		assert.Equal(t, att(16000, vol), i16ToI16(out[0:]), "volume %d", vol)
		m.StopPlayback(0)
	}
}

func TestMixLoopContinuity(t *testing.T) {
	m := newTestMixer(t, 44100, false, 16, 2)
	require.True(t, m.SetMixerBufferParameters(5, 8))
	m.SetMasterVolume(255)

	src := m.RegisterSource(pcmSourceFromFrames(t, 44100, 16, 1, []int{1000, 2000, 3000}))
	play := m.PlaySource(src, true, false)
	require.NotZero(t, play)

	out := make([]byte, 8*2)
	m.mix(out, 8)

	pattern := []int{1000, 2000, 3000}
	for f := 0; f < 8; f++ {
		want := att(pattern[f%3], 255)
		assert.Equalf(t, want, i16ToI16(out[f*2:]), "frame %d", f)
	}

	// the voice survives the wrap
	v := m.voices[voiceIndex(play)-1]
	assert.True(t, v.active.Load())
}

func TestMixShortSourceDeactivates(t *testing.T) {
	m := newTestMixer(t, 44100, true, 16, 2)
	require.True(t, m.SetMixerBufferParameters(5, 8))

	src := m.RegisterSource(pcmSourceFromFrames(t, 44100, 16, 2, []int{100, 100, 100, 100}))
	play := m.PlaySource(src, false, false)
	require.NotZero(t, play)

	out := make([]byte, 8*4)
	m.mix(out, 8)
	assert.False(t, m.voices[voiceIndex(play)-1].active.Load(),
		"voice should be released after the source ran dry")
}

func TestVoiceConservation(t *testing.T) {
	m := newTestMixer(t, 44100, true, 16, 2)
	src := m.RegisterSource(pcmSourceFromFrames(t, 44100, 16, 2, []int{1, 1, 1, 1}))

	require.NotZero(t, m.PlaySource(src, true, false))
	require.NotZero(t, m.PlaySource(src, true, false))
	assert.Zero(t, m.PlaySource(src, true, false), "no third voice exists")
}

func TestStopAllLeavesSilence(t *testing.T) {
	m := newTestMixer(t, 44100, true, 16, 4)
	require.True(t, m.SetMixerBufferParameters(5, 8))
	m.SetMasterVolume(255)

	src := m.RegisterSource(pcmSourceFromFrames(t, 44100, 16, 2, []int{5000, 5000, 5000, 5000}))
	for i := 0; i < 3; i++ {
		require.NotZero(t, m.PlaySource(src, true, false))
	}

	m.StopPlayback(0)
	out := make([]byte, 8*4)
	m.mix(out, 8)
	for i, b := range out {
		require.Equalf(t, byte(0), b, "byte %d", i)
	}
	for i, v := range m.voices {
		assert.Falsef(t, v.active.Load(), "voice %d still active", i)
	}
}

func TestStopSingleVoiceKeepsOthers(t *testing.T) {
	m := newTestMixer(t, 44100, true, 16, 4)
	src := m.RegisterSource(pcmSourceFromFrames(t, 44100, 16, 2, []int{1, 1, 1, 1}))

	p1 := m.PlaySource(src, true, false)
	p2 := m.PlaySource(src, true, false)
	require.NotZero(t, p1)
	require.NotZero(t, p2)

	m.StopPlayback(p1)
	assert.False(t, m.voices[voiceIndex(p1)-1].active.Load())
	assert.True(t, m.voices[voiceIndex(p2)-1].active.Load())
}

func TestPauseResumeVoice(t *testing.T) {
	m := newTestMixer(t, 44100, true, 16, 2)
	require.True(t, m.SetMixerBufferParameters(5, 4))
	m.SetMasterVolume(255)

	src := m.RegisterSource(pcmSourceFromFrames(t, 44100, 16, 2, constantFrames(3000, 64)))
	play := m.PlaySource(src, true, false)
	require.NotZero(t, play)

	m.PausePlayback(play)
	out := make([]byte, 4*4)
	m.mix(out, 4)
	assert.Equal(t, int32(0), i16ToI16(out[0:]), "paused voice contributes silence")
	assert.True(t, m.voices[voiceIndex(play)-1].active.Load(), "paused voice stays active")

	m.ResumePlayback(play)
	m.mix(out, 4)
	assert.Equal(t, att(3000, 255), i16ToI16(out[0:]))
}

func TestPlayPausedStartsSilent(t *testing.T) {
	m := newTestMixer(t, 44100, true, 16, 2)
	require.True(t, m.SetMixerBufferParameters(5, 4))

	src := m.RegisterSource(pcmSourceFromFrames(t, 44100, 16, 2, constantFrames(3000, 64)))
	play := m.PlaySource(src, false, true)
	require.NotZero(t, play)

	out := make([]byte, 4*4)
	m.mix(out, 4)
	assert.Equal(t, int32(0), i16ToI16(out[0:]))
	assert.True(t, m.voices[voiceIndex(play)-1].active.Load())
}

func TestSetLoopReleasesVoiceAtEnd(t *testing.T) {
	m := newTestMixer(t, 44100, true, 16, 2)
	require.True(t, m.SetMixerBufferParameters(5, 4))

	src := m.RegisterSource(pcmSourceFromFrames(t, 44100, 16, 2, constantFrames(100, 6)))
	play := m.PlaySource(src, true, false)
	require.NotZero(t, play)

	m.SetLoop(play, false)
	out := make([]byte, 4*4)
	m.mix(out, 4) // 3 remaining frames, short read
	assert.False(t, m.voices[voiceIndex(play)-1].active.Load())
}

func TestDropSourceInvalidatesHandle(t *testing.T) {
	m := newTestMixer(t, 44100, true, 16, 2)
	src := m.RegisterSource(pcmSourceFromFrames(t, 44100, 16, 2, []int{1, 1, 1, 1}))
	play := m.PlaySource(src, true, false)
	require.NotZero(t, play)

	require.True(t, m.DropSource(src))
	assert.Zero(t, m.PlaySource(src, false, false), "handle must be dead")
	for _, v := range m.voices {
		assert.False(t, v.active.Load())
		assert.Nil(t, v.sample)
	}
	assert.False(t, m.DropSource(src), "second drop is a no-op")
}

func TestDropAllResets(t *testing.T) {
	m := newTestMixer(t, 44100, true, 16, 2)
	a := m.RegisterSource(pcmSourceFromFrames(t, 44100, 16, 2, []int{1, 1}))
	b := m.RegisterSource(pcmSourceFromFrames(t, 44100, 16, 2, []int{2, 2}))
	m.PlaySource(a, true, false)

	require.True(t, m.DropSource(0))
	assert.Zero(t, m.PlaySource(a, false, false))
	assert.Zero(t, m.PlaySource(b, false, false))

	// slots are reusable afterwards
	c := m.RegisterSource(pcmSourceFromFrames(t, 44100, 16, 2, []int{3, 3}))
	assert.Equal(t, 1, sourceSlot(c), "freed slot 1 is reused first")
}

func TestVoiceCachesSampleOfSameSource(t *testing.T) {
	m := newTestMixer(t, 44100, true, 16, 1)
	src := m.RegisterSource(pcmSourceFromFrames(t, 44100, 16, 2, constantFrames(5, 16)))

	p1 := m.PlaySource(src, false, false)
	require.NotZero(t, p1)
	cached := m.voices[0].sample
	m.StopPlayback(p1)

	p2 := m.PlaySource(src, false, false)
	require.NotZero(t, p2)
	assert.Same(t, cached, m.voices[0].sample, "same source reuses the cached sample")
}

func TestStaleVoiceHandleNoOps(t *testing.T) {
	m := newTestMixer(t, 44100, true, 16, 2)
	a := m.RegisterSource(pcmSourceFromFrames(t, 44100, 16, 2, []int{1, 1, 1, 1}))
	b := m.RegisterSource(pcmSourceFromFrames(t, 44100, 16, 2, []int{2, 2, 2, 2}))

	playA := m.PlaySource(a, true, false)
	require.NotZero(t, playA)
	m.StopPlayback(playA)

	playB := m.PlaySource(b, true, false)
	require.Equal(t, voiceIndex(playA), voiceIndex(playB), "voice got recycled")

	// the stale handle for source a must not touch b's playback
	m.StopPlayback(playA)
	assert.True(t, m.voices[voiceIndex(playB)-1].active.Load())
	m.PauseResumePlayback(playA, true)
	assert.False(t, m.voices[voiceIndex(playB)-1].paused.Load())
}

func TestMix24BitEncoding(t *testing.T) {
	m := New(NullBackend{})
	require.True(t, m.SetFormat(44100, true, 24, 2))
	require.True(t, m.SetMixerBufferParameters(5, 4))
	m.SetMasterVolume(255)

	src := m.RegisterSource(pcmSourceFromFrames(t, 44100, 16, 2, constantFrames(0x1234, 64)))
	require.NotZero(t, m.PlaySource(src, false, false))

	out := make([]byte, 4*6)
	m.mix(out, 4)

	want := att(0x1234<<8, 255)
	got := int32(out[0]) | int32(out[1])<<8 | int32(int8(out[2]))<<16
	assert.Equal(t, want, got)
}

func TestMixerLifecycle(t *testing.T) {
	m := newTestMixer(t, 44100, true, 16, 2)
	assert.Equal(t, MixerStopped, m.MixerStatus())

	require.True(t, m.StartMixer())
	assert.Equal(t, MixerRunning, m.MixerStatus())
	assert.False(t, m.StartMixer(), "double start must fail")

	require.True(t, m.PauseMixer())
	assert.Equal(t, MixerPaused, m.MixerStatus())
	require.True(t, m.PauseMixer(), "pausing twice is a no-op")

	require.True(t, m.ResumeMixer())
	assert.Equal(t, MixerRunning, m.MixerStatus())

	require.True(t, m.StopMixer())
	assert.Equal(t, MixerStopped, m.MixerStatus())
	assert.False(t, m.producer.Started())
}

func TestMixerEndToEndThroughBackend(t *testing.T) {
	m := newTestMixer(t, 44100, true, 16, 2)
	require.True(t, m.SetMixerBufferParameters(4, 16))
	m.SetMasterVolume(255)

	src := m.RegisterSource(pcmSourceFromFrames(t, 44100, 16, 2, constantFrames(1234, 44100)))
	require.True(t, m.StartMixer())
	defer m.StopMixer()

	require.NotZero(t, m.PlaySource(src, true, false))

	stream := m.stream.(*nullStream)
	want := att(1234, 255)
	waitFor(t, func() bool {
		out := stream.Pump(16)
		return i16ToI16(out) == want
	})
}

func constantFrames(v, n int) []int {
	f := make([]int, n)
	for i := range f {
		f[i] = v
	}
	return f
}
