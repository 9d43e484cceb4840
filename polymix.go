// Package polymix is a polyphonic software mixer. It blends WAV, Ogg
// Vorbis, MP3 and chiptune (KSS) sources into a single interleaved PCM
// stream and feeds it to an audio backend through a lock-minimal packet
// ring, while a handle-based control API starts, stops, pauses and retunes
// individual voices with the device running.
//
// Three kinds of thread touch a Mixer:
//
//   - control threads: whatever goroutines call the public API
//   - the producer: one goroutine owned by the BufferedMixer, mixing one
//     packet at a time
//   - the device callback: the backend's realtime thread, which only ever
//     copies bytes out of published packets and must never block
//
// Voice flags are atomics; everything else that can race is mutated only
// while the producer is quiesced. Handles pack (kind, source slot, voice)
// into one int — see handle.go — and handle 0 addresses everything.
package polymix

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/polymix/go-polymix/kss"
)

// Mixer status values returned by MixerStatus.
const (
	MixerError   = -1
	MixerStopped = 0
	MixerPaused  = 1
	MixerRunning = 2
)

/* ---------------- start / pause / stop ---------------- */

// StartStopMixer opens (or closes) the device stream and starts (or joins)
// the producer. Returns false when the operation could not be completed;
// the mixer is left stopped in that case, except for a start request on a
// mixer that is already running, which keeps running.
func (m *Mixer) StartStopMixer(start bool) bool {
	m.cm.Lock()
	defer m.cm.Unlock()

	if start {
		if m.stream != nil || m.producer == nil {
			return false
		}
		stream, err := m.backend.OpenStream(m.rate, m.channels, m.bits, m.producer.Read)
		if err != nil {
			logrus.Warnf("polymix: opening stream: %v", err)
			return false
		}
		m.stream = stream
		m.producer.Start()
		if !m.producer.Started() {
			m.stream.Close()
			m.stream = nil
			return false
		}
		if err := m.stream.Start(); err != nil {
			logrus.Warnf("polymix: starting stream: %v", err)
			m.stream.Close()
			m.stream = nil
			m.producer.Stop()
			return false
		}
		return true
	}

	if m.stream != nil {
		m.stream.Pause()
		if err := m.stream.Close(); err != nil {
			logrus.Warnf("polymix: closing stream: %v", err)
		}
		m.stream = nil
	}
	if m.producer != nil {
		m.producer.Stop()
	}
	return true
}

// StartMixer is shorthand for StartStopMixer(true).
func (m *Mixer) StartMixer() bool { return m.StartStopMixer(true) }

// StopMixer is shorthand for StartStopMixer(false).
func (m *Mixer) StopMixer() bool { return m.StartStopMixer(false) }

// PauseResumeMixer toggles only the device stream; the producer keeps
// filling until the ring is full and then waits, which is harmless.
func (m *Mixer) PauseResumeMixer(pause bool) bool {
	m.cm.Lock()
	defer m.cm.Unlock()

	if m.stream == nil {
		// nothing to do: pausing a stopped mixer succeeds vacuously
		return pause
	}
	switch m.stream.Status() {
	case StreamError:
		return false
	case StreamPaused:
		if !pause {
			return m.stream.Start() == nil
		}
	case StreamActive:
		if pause {
			return m.stream.Pause() == nil
		}
	}
	return true
}

// PauseMixer is shorthand for PauseResumeMixer(true).
func (m *Mixer) PauseMixer() bool { return m.PauseResumeMixer(true) }

// ResumeMixer is shorthand for PauseResumeMixer(false).
func (m *Mixer) ResumeMixer() bool { return m.PauseResumeMixer(false) }

// MixerStatus returns MixerStopped, MixerPaused, MixerRunning or
// MixerError.
func (m *Mixer) MixerStatus() int {
	m.cm.Lock()
	defer m.cm.Unlock()

	if m.stream == nil {
		return MixerStopped
	}
	switch m.stream.Status() {
	case StreamError:
		return MixerError
	case StreamActive:
		return MixerRunning
	default:
		return MixerPaused
	}
}

/* ---------------- sources ---------------- */

// AddSource loads a WAV, Ogg Vorbis or MP3 file (recognized by content, in
// that order) and registers it. Returns the source handle, or 0 on any
// loading failure — no partial state is published.
func (m *Mixer) AddSource(path string) int {
	src, err := openSource(path)
	if err != nil {
		logrus.Warnf("polymix: %s: %v", path, err)
		return 0
	}
	return m.RegisterSource(src)
}

func openSource(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFormat, err)
	}

	prefix := make([]byte, 12)
	n, _ := f.Read(prefix)
	f.Seek(0, 0)
	if sniffWave(prefix[:n]) {
		defer f.Close()
		return NewSourcePCM(f)
	}
	f.Close()

	if src, err := NewSourceVorbis(path); err == nil {
		return src, nil
	}
	return NewSourceMP3(path)
}

// RegisterSource adds an already-built Source to the slot table and hands
// it the current output format. Returns the source handle, or 0 when the
// table is full.
func (m *Mixer) RegisterSource(src Source) int {
	m.cm.Lock()
	defer m.cm.Unlock()

	src.SetOutputFormat(m.rate, m.channels, m.bits)
	for i, s := range m.sources {
		if s == nil {
			m.sources[i] = src
			return i + 1
		}
	}
	if len(m.sources) >= 0xFFF {
		return 0
	}
	m.sources = append(m.sources, src)
	return len(m.sources)
}

// AddSourceKSS loads a chiptune program image and registers a cartridge of
// the given number of voices driven by the supplied engine. Returns the KSS
// source handle or 0.
func (m *Mixer) AddSourceKSS(engine kss.Engine, path string, lines, silentLimitMs int) int {
	data, err := os.ReadFile(path)
	if err != nil {
		logrus.Warnf("polymix: %s: %v", path, err)
		return 0
	}

	m.cm.Lock()
	defer m.cm.Unlock()

	cart, err := kss.NewCartridge(engine, data, lines, m.rate, m.channels, m.bits, silentLimitMs)
	if err != nil {
		logrus.Warnf("polymix: %s: %v", path, err)
		return 0
	}

	slot := 0
	m.withProducerPaused(func() {
		for i, c := range m.kssCartridges {
			if c == nil {
				m.kssCartridges[i] = cart
				slot = i + 1
				return
			}
		}
		if len(m.kssCartridges) < 0xFFF {
			m.kssCartridges = append(m.kssCartridges, cart)
			slot = len(m.kssCartridges)
		}
	})
	if slot == 0 {
		return 0
	}
	return kssSourceID(slot)
}

// DropSource stops every voice playing the source and removes it. Handle 0
// drops everything: all voices, all sources, all cartridges. Unknown
// handles return false without side effects.
func (m *Mixer) DropSource(handle int) bool {
	m.cm.Lock()
	defer m.cm.Unlock()

	dropped := false
	m.withProducerPaused(func() {
		switch {
		case handle == 0:
			for _, v := range m.voices {
				v.release()
			}
			for i := range m.sources {
				m.sources[i] = nil
			}
			for i, c := range m.kssCartridges {
				if c != nil {
					c.Close()
					m.kssCartridges[i] = nil
				}
			}
			dropped = true

		case handleKind(handle) == kindPCM:
			slot := sourceSlot(handle)
			if slot > 0 && slot <= len(m.sources) && m.sources[slot-1] != nil {
				sid := int32(sourceID(handle))
				for _, v := range m.voices {
					if v.sid.Load() == sid {
						v.release()
					}
				}
				m.sources[slot-1] = nil
				dropped = true
			}

		case handleKind(handle) == kindKSS:
			slot := sourceSlot(handle)
			if slot > 0 && slot <= len(m.kssCartridges) && m.kssCartridges[slot-1] != nil {
				m.kssCartridges[slot-1].Close()
				m.kssCartridges[slot-1] = nil
				dropped = true
			}
		}
	})
	return dropped
}

/* ---------------- playback ---------------- */

// PlaySource associates a free voice with the source and activates it.
// A voice that last played the same source reuses its cached sample after a
// rewind. Returns the play handle, or 0 when the handle is stale or no
// voice is free.
func (m *Mixer) PlaySource(sourceHandle int, loop, paused bool) int {
	m.cm.Lock()
	defer m.cm.Unlock()

	if handleKind(sourceHandle) != kindPCM {
		return 0
	}
	slot := sourceSlot(sourceHandle)
	if slot <= 0 || slot > len(m.sources) || m.sources[slot-1] == nil {
		return 0
	}
	sid := int32(sourceID(sourceHandle))

	for i, v := range m.voices {
		if v.active.Load() {
			continue
		}
		if v.sid.Load() != sid || v.sample == nil {
			if v.sample != nil {
				closeSample(v.sample)
			}
			v.sid.Store(sid)
			v.sample = m.sources[slot-1].CreateSample()
		} else {
			v.sample.Seek(0)
		}
		v.stopped.Store(false)
		v.loop.Store(loop)
		v.paused.Store(paused)
		v.active.Store(true) // last: publishes the voice to the producer
		return composeHandle(int(sid), i+1)
	}
	return 0
}

// StopPlayback stops one voice, every voice of a source, one cartridge
// line, every line of a cartridge, or — with handle 0 — everything.
// Stopped voices are released by the producer at the next packet; when the
// device is down they are released here.
func (m *Mixer) StopPlayback(handle int) {
	m.cm.Lock()
	defer m.cm.Unlock()

	deviceRunning := m.stream != nil

	if handle == 0 {
		for _, v := range m.voices {
			if v.active.Load() {
				v.stopped.Store(true)
				v.paused.Store(false)
				if !deviceRunning {
					v.loop.Store(false)
					v.active.Store(false)
				}
			}
		}
		for _, c := range m.kssCartridges {
			if c != nil {
				c.StopActive()
			}
		}
		return
	}

	if handleKind(handle) == kindKSS {
		cart, lineID, ok := m.kssLookup(handle, voiceIndex(handle) > 0)
		if !ok {
			return
		}
		if lineID > 0 {
			cart.Stop(lineID)
		} else {
			cart.StopActive()
		}
		return
	}

	sid := int32(sourceID(handle))
	if sid == 0 {
		return
	}
	stop := func(v *mixerVoice) {
		if v.active.Load() && v.sid.Load() == sid {
			v.stopped.Store(true)
			if !deviceRunning {
				v.active.Store(false)
			}
		}
	}
	if voice := voiceIndex(handle); voice > 0 {
		if voice <= len(m.voices) {
			stop(m.voices[voice-1])
		}
	} else {
		for _, v := range m.voices {
			stop(v)
		}
	}
}

// PauseResumePlayback pauses or resumes with the same handle routing as
// StopPlayback. Paused voices stay active and keep their position.
func (m *Mixer) PauseResumePlayback(handle int, pause bool) {
	m.cm.Lock()
	defer m.cm.Unlock()

	if handle == 0 {
		for _, v := range m.voices {
			if v.active.Load() {
				v.paused.Store(pause)
			}
		}
		for _, c := range m.kssCartridges {
			if c != nil {
				c.SetPauseActive(pause)
			}
		}
		return
	}

	if handleKind(handle) == kindKSS {
		cart, lineID, ok := m.kssLookup(handle, voiceIndex(handle) > 0)
		if !ok {
			return
		}
		if lineID > 0 {
			cart.SetPause(lineID, pause)
		} else {
			cart.SetPauseActive(pause)
		}
		return
	}

	sid := int32(sourceID(handle))
	if sid == 0 {
		return
	}
	if voice := voiceIndex(handle); voice > 0 {
		if voice <= len(m.voices) {
			v := m.voices[voice-1]
			if v.active.Load() && v.sid.Load() == sid {
				v.paused.Store(pause)
			}
		}
	} else {
		for _, v := range m.voices {
			if v.active.Load() && v.sid.Load() == sid {
				v.paused.Store(pause)
			}
		}
	}
}

// PausePlayback is shorthand for PauseResumePlayback(handle, true).
func (m *Mixer) PausePlayback(handle int) { m.PauseResumePlayback(handle, true) }

// ResumePlayback is shorthand for PauseResumePlayback(handle, false).
func (m *Mixer) ResumePlayback(handle int) { m.PauseResumePlayback(handle, false) }

// SetLoop switches a playing voice's loop mode.
func (m *Mixer) SetLoop(playHandle int, loop bool) {
	m.cm.Lock()
	defer m.cm.Unlock()

	sid := int32(sourceID(playHandle))
	voice := voiceIndex(playHandle)
	if sid == 0 || voice == 0 || voice > len(m.voices) || handleKind(playHandle) != kindPCM {
		return
	}
	v := m.voices[voice-1]
	if v.sid.Load() == sid {
		v.loop.Store(loop)
	}
}

// SetMasterVolume sets the output attenuation, 0 (mute) to 255 (unity
// minus one step). Values are masked to 8 bits.
func (m *Mixer) SetMasterVolume(v int) {
	m.masterVolume.Store(int32(v & 0xFF))
}

// MasterVolume returns the current master volume.
func (m *Mixer) MasterVolume() int { return int(m.masterVolume.Load()) }

/* ---------------- KSS control ---------------- */

// kssLookup resolves a KSS handle to its cartridge, and to a line index
// when the handle carries one. needLine additionally demands a valid line.
func (m *Mixer) kssLookup(handle int, needLine bool) (*kss.Cartridge, int, bool) {
	if handleKind(handle) != kindKSS {
		return nil, 0, false
	}
	slot := sourceSlot(handle)
	if slot <= 0 || slot > len(m.kssCartridges) || m.kssCartridges[slot-1] == nil {
		return nil, 0, false
	}
	cart := m.kssCartridges[slot-1]
	lineID := voiceIndex(handle)
	if needLine && (lineID <= 0 || lineID > cart.LineCount()) {
		return nil, 0, false
	}
	return cart, lineID, true
}

// PlayKSSTrack activates a free cartridge line for the track. When none is
// free and force is set, the oldest forcable line is preempted under
// producer quiescence. Returns the play handle or 0.
func (m *Mixer) PlayKSSTrack(kssHandle, track int, autostop, forcable, force bool) int {
	m.cm.Lock()
	defer m.cm.Unlock()

	cart, _, ok := m.kssLookup(kssHandle, false)
	if !ok {
		return 0
	}
	id := cart.ActiveLine(track, autostop, forcable)
	if id == 0 && force {
		m.withProducerPaused(func() {
			id = cart.ForceLine(track, autostop, forcable)
		})
	}
	if id == 0 {
		return 0
	}
	return composeHandle(sourceID(kssHandle), id)
}

// UpdateKSSTrack retargets an active line to a new track, optionally fading
// the old one out over fadeOutMs first. Runs under producer quiescence.
func (m *Mixer) UpdateKSSTrack(kssTrackHandle, newTrack int, autostop, forcable bool, fadeOutMs int) bool {
	m.cm.Lock()
	defer m.cm.Unlock()

	cart, lineID, ok := m.kssLookup(kssTrackHandle, true)
	if !ok {
		return false
	}
	m.withProducerPaused(func() {
		cart.UpdateLine(lineID, newTrack, autostop, forcable, fadeOutMs)
	})
	return true
}

// UpdateKSSVolume sets the volume (0..100) of one line, or of every line
// when the handle addresses the cartridge itself.
func (m *Mixer) UpdateKSSVolume(kssHandle, volume int) bool {
	m.cm.Lock()
	defer m.cm.Unlock()

	isLine := voiceIndex(kssHandle) > 0
	cart, lineID, ok := m.kssLookup(kssHandle, isLine)
	if !ok {
		return false
	}
	m.withProducerPaused(func() {
		if isLine {
			cart.SetLineVolume(lineID, volume)
		} else {
			cart.SetMasterVolume(volume)
		}
	})
	return true
}

// UpdateKSSFrequency changes the VSync frequency (50/60 Hz) of one line, of
// a cartridge, or — with handle 0 — of every cartridge. Active lines are
// repositioned so playback continues at the equivalent point.
func (m *Mixer) UpdateKSSFrequency(kssHandle, frequency int) bool {
	m.cm.Lock()
	defer m.cm.Unlock()

	if kssHandle == 0 {
		m.withProducerPaused(func() {
			for _, c := range m.kssCartridges {
				if c != nil {
					c.SetFrequency(frequency)
				}
			}
		})
		return true
	}

	isLine := voiceIndex(kssHandle) > 0
	cart, lineID, ok := m.kssLookup(kssHandle, isLine)
	if !ok {
		return false
	}
	m.withProducerPaused(func() {
		if isLine {
			cart.SetLineFrequency(lineID, frequency)
		} else {
			cart.SetFrequency(frequency)
		}
	})
	return true
}

// KSSActiveLines counts the currently active lines of a cartridge.
func (m *Mixer) KSSActiveLines(kssSourceHandle int) int {
	m.cm.Lock()
	defer m.cm.Unlock()

	cart, _, ok := m.kssLookup(kssSourceHandle, false)
	if !ok {
		return 0
	}
	return cart.ActiveCount()
}

// KSSPlaytimeMillis returns how long a line has been decoding, in
// milliseconds.
func (m *Mixer) KSSPlaytimeMillis(kssPlayHandle int) int {
	m.cm.Lock()
	defer m.cm.Unlock()

	cart, lineID, ok := m.kssLookup(kssPlayHandle, true)
	if !ok {
		return 0
	}
	return cart.PlaytimeMillis(lineID)
}
