package polymix

import "sync/atomic"

// mixerVoice is one slot of the fixed voice table. The four flags and the
// source id are atomics: control threads write them while the producer
// reads them mid-packet. Everything else is guarded by the activation
// protocol — fields are written first and active is set true last, so the
// producer sees a fully formed voice once it observes active.
//
// While the device runs, only the producer clears active. Control may clear
// it directly only when the stream is down.
type mixerVoice struct {
	active  atomic.Bool
	stopped atomic.Bool
	paused  atomic.Bool
	loop    atomic.Bool

	sample Sample
	sid    atomic.Int32 // sourceID owning the cached sample, 0 = none
}

func newMixerVoice() *mixerVoice {
	v := &mixerVoice{}
	v.stopped.Store(true)
	return v
}

// release drops the cached sample and resets the slot to free. Caller must
// hold the quiescence guarantees (producer paused or stopped).
func (v *mixerVoice) release() {
	v.active.Store(false)
	v.paused.Store(false)
	v.loop.Store(false)
	if v.sample != nil {
		closeSample(v.sample)
		v.sample = nil
	}
	v.sid.Store(0)
}
