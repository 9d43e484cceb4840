package sfx

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polymix/go-polymix"
)

func fixtureWav(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blip.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	e := wav.NewEncoder(f, 44100, 16, 2, 1)
	data := make([]int, 512)
	for i := range data {
		data[i] = 2000
	}
	require.NoError(t, e.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 2, SampleRate: 44100},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, e.Close())
	require.NoError(t, f.Close())
	return path
}

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	m := polymix.New(polymix.NullBackend{})
	require.True(t, m.SetFormat(44100, true, 16, 4))
	return NewRegistry(m)
}

func TestRegisterAndPlay(t *testing.T) {
	r := newRegistry(t)
	require.True(t, r.Register("blip", fixtureWav(t), 0))
	assert.True(t, r.Play("blip"))
	assert.False(t, r.Play("unknown"))
}

func TestRegisterBadFileFails(t *testing.T) {
	r := newRegistry(t)
	assert.False(t, r.Register("broken", filepath.Join(t.TempDir(), "nope.wav"), 0))
}

func TestThrottling(t *testing.T) {
	r := newRegistry(t)
	require.True(t, r.Register("blip", fixtureWav(t), 10000))

	assert.True(t, r.Play("blip"))
	assert.False(t, r.Play("blip"), "second trigger inside the throttle window")
}

func TestThrottleExpires(t *testing.T) {
	r := newRegistry(t)
	require.True(t, r.Register("blip", fixtureWav(t), 1))

	assert.True(t, r.Play("blip"))
	time.Sleep(5 * time.Millisecond)
	assert.True(t, r.Play("blip"))
}

func TestDrop(t *testing.T) {
	r := newRegistry(t)
	require.True(t, r.Register("blip", fixtureWav(t), 0))
	r.Drop("blip")
	assert.False(t, r.Play("blip"))
}
