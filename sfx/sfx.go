// Package sfx is a small convenience layer for one-shot sound effects: it
// maps string ids to mixer sources and throttles rapid re-triggers so a
// machine-gun of identical effects does not eat every mixer voice.
package sfx

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/polymix/go-polymix"
)

// Sfx is one registered effect.
type Sfx struct {
	Id           Id
	ThrottlingMs int

	handle     int
	lastPlayed time.Time
}

// Id names a registered effect.
type Id string

// Registry holds effects for one mixer.
type Registry struct {
	mixer *polymix.Mixer

	m      sync.Mutex
	loaded map[Id]*Sfx
}

// NewRegistry creates an empty registry bound to the mixer.
func NewRegistry(m *polymix.Mixer) *Registry {
	return &Registry{
		mixer:  m,
		loaded: make(map[Id]*Sfx),
	}
}

// Register loads the file as a mixer source under the id. throttlingMs is
// the minimum spacing between two plays of this effect; 0 disables
// throttling.
func (r *Registry) Register(id Id, path string, throttlingMs int) bool {
	handle := r.mixer.AddSource(path)
	if handle == 0 {
		logrus.Warnf("sfx: %s: could not load %s", id, path)
		return false
	}
	r.m.Lock()
	r.loaded[id] = &Sfx{Id: id, ThrottlingMs: throttlingMs, handle: handle}
	r.m.Unlock()
	return true
}

// Play triggers the effect on a free mixer voice. Returns false when the
// id is unknown, the effect is throttled, or no voice is free.
func (r *Registry) Play(id Id) bool {
	r.m.Lock()
	e, ok := r.loaded[id]
	if !ok {
		r.m.Unlock()
		return false
	}
	if e.ThrottlingMs > 0 && time.Since(e.lastPlayed) <= time.Duration(e.ThrottlingMs)*time.Millisecond {
		r.m.Unlock()
		return false
	}
	e.lastPlayed = time.Now()
	handle := e.handle
	r.m.Unlock()

	return r.mixer.PlaySource(handle, false, false) != 0
}

// StopAll stops every playing instance of the effect.
func (r *Registry) StopAll(id Id) {
	r.m.Lock()
	e, ok := r.loaded[id]
	r.m.Unlock()
	if ok {
		r.mixer.StopPlayback(e.handle)
	}
}

// Drop removes the effect and its mixer source.
func (r *Registry) Drop(id Id) {
	r.m.Lock()
	e, ok := r.loaded[id]
	delete(r.loaded, id)
	r.m.Unlock()
	if ok {
		r.mixer.DropSource(e.handle)
	}
}
