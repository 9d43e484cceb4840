package polymix

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestNewSourceVorbisRejectsNonVorbis(t *testing.T) {
	_, err := NewSourceVorbis(writeTemp(t, "x.ogg", []byte("definitely not an ogg stream")))
	assert.ErrorIs(t, err, ErrBadFormat)

	_, err = NewSourceVorbis(filepath.Join(t.TempDir(), "missing.ogg"))
	assert.ErrorIs(t, err, ErrBadFormat)
}

func TestNewSourceMP3RejectsGarbage(t *testing.T) {
	_, err := NewSourceMP3(writeTemp(t, "x.mp3", []byte{0x00, 0x01, 0x02, 0x03}))
	assert.ErrorIs(t, err, ErrBadFormat)

	_, err = NewSourceMP3(filepath.Join(t.TempDir(), "missing.mp3"))
	assert.ErrorIs(t, err, ErrBadFormat)
}

func TestAddSourceWav(t *testing.T) {
	m := newTestMixer(t, 44100, true, 16, 2)

	path := writeTemp(t, "tone.wav", encodeWav(t, 44100, 16, 2, []int{100, -100, 200, -200}))
	h := m.AddSource(path)
	require.NotZero(t, h)
	assert.Equal(t, kindPCM, handleKind(h))

	play := m.PlaySource(h, false, false)
	assert.NotZero(t, play)
}

func TestAddSourceUnknownFileFails(t *testing.T) {
	m := newTestMixer(t, 44100, true, 16, 2)
	assert.Zero(t, m.AddSource(writeTemp(t, "noise.bin", []byte("neither wav nor ogg nor mp3 data"))))
	assert.Zero(t, m.AddSource(filepath.Join(t.TempDir(), "missing.wav")))
}

func TestRegisterSourceSlotNumberingAndReuse(t *testing.T) {
	m := newTestMixer(t, 44100, true, 16, 1)

	a := m.RegisterSource(pcmSourceFromFrames(t, 44100, 16, 2, []int{1, 1}))
	b := m.RegisterSource(pcmSourceFromFrames(t, 44100, 16, 2, []int{2, 2}))
	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)

	m.DropSource(a)
	c := m.RegisterSource(pcmSourceFromFrames(t, 44100, 16, 2, []int{3, 3}))
	assert.Equal(t, 1, c)
}

// Registered sources must follow mixer reconfiguration.
func TestRegisteredSourceTracksFormatChanges(t *testing.T) {
	m := newTestMixer(t, 44100, true, 16, 2)
	src := pcmSourceFromFrames(t, 44100, 16, 2, constantFrames(1000, 64))
	h := m.RegisterSource(src)
	require.NotZero(t, h)
	assert.Equal(t, 44100, src.mixerRate)

	require.True(t, m.SetFormat(48000, false, 24, 2))
	assert.Equal(t, 48000, src.mixerRate)
	assert.Equal(t, 1, src.mixerChannels)
	assert.Equal(t, 24, src.mixerBits)
}
