package kss

import (
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Line is one cartridge voice: an emulator player plus its own copy of the
// program image and a small track state machine.
//
// active, pause and autostop are atomics because the mix thread reads them
// mid-packet. The track fields and the fadeout counter change only during
// activation, which happens either on a free line or under producer
// quiescence, so they stay plain.
type Line struct {
	// activation sequence number; the smallest id is the oldest line
	id int

	active   atomic.Bool
	pause    atomic.Bool
	autostop atomic.Bool
	forcable bool

	currentTrack int
	nextTrack    int

	// frames left of the fade between currentTrack and nextTrack;
	// 0 means track promotion happens immediately
	transitionFadeout int

	program Program
	player  Player

	volume  int
	vsyncHz int
}

// Active reports whether the line is currently playing.
func (l *Line) Active() bool { return l.active.Load() }

// Cartridge owns n parallel emulator voices sharing one program image.
// lines[0] holds the authoritative Program; the others own engine clones.
// Reading (the mix thread) and control methods synchronise exactly like the
// mixer voices: activation of a free line is safe anytime, everything that
// touches an active line wants the producer paused.
type Cartridge struct {
	engine Engine

	linesCount    int
	rate          int
	channels      int
	bits          int
	silentLimitMs int

	nextID       int
	masterVolume int

	lines   []*Line
	scratch []int16

	// add-mode line reader selected by output depth (16-bit add or
	// 16→24 shifted add)
	readLine func(out []int32, l *Line, nFrames int) int
}

// NewCartridge loads the program image and builds the voice bank in the
// given output format.
func NewCartridge(engine Engine, data []byte, lines, rate, channels, bits, silentLimitMs int) (*Cartridge, error) {
	if lines <= 0 {
		return nil, fmt.Errorf("kss: line count %d", lines)
	}
	program, err := engine.Load(data)
	if err != nil {
		return nil, fmt.Errorf("kss: loading program: %w", err)
	}

	c := &Cartridge{
		engine:        engine,
		linesCount:    lines,
		rate:          rate,
		channels:      channels,
		bits:          bits,
		silentLimitMs: silentLimitMs,
		masterVolume:  60,
	}
	for i := 0; i < lines; i++ {
		c.lines = append(c.lines, &Line{volume: c.masterVolume})
	}
	c.lines[0].program = program
	for _, l := range c.lines {
		c.initLine(program, l)
	}
	c.selectReader()

	logrus.Debugf("polymix: kss cartridge with %d lines at %d Hz", lines, rate)
	return c, nil
}

func (c *Cartridge) selectReader() {
	if c.bits == 16 {
		c.readLine = c.readLineAdd16
	} else {
		c.readLine = c.readLineAdd24
	}
}

// initLine (re)builds a line's player in the cartridge format, preserving
// its volume and VSync settings across the rebuild. The emulator always
// renders 16-bit; depth conversion happens in the read loops.
func (c *Cartridge) initLine(ref Program, l *Line) {
	l.active.Store(false)
	l.pause.Store(false)
	l.autostop.Store(false)
	l.forcable = true
	l.currentTrack = 0
	l.nextTrack = 0
	l.transitionFadeout = 0

	if l.program == nil {
		l.program = c.engine.Clone(ref)
	}
	if l.player != nil {
		l.player.Close()
	}
	l.player = c.engine.NewPlayer(c.rate, c.channels, 16)
	l.player.SetQuality(ChipPSG, 1)
	l.player.SetQuality(ChipSCC, 1)
	l.player.SetQuality(ChipOPL, 1)
	l.player.SetQuality(ChipOPLL, 1)
	l.player.Bind(l.program)

	if c.channels > 1 {
		// spread the chips a little: PSG right of center, SCC left,
		// OPLL voices alternating
		l.player.SetPanDevice(ChipPSG, -32)
		l.player.SetPanDevice(ChipSCC, 32)
		for ch := 0; ch < 6; ch++ {
			l.player.SetPanChannel(ChipOPLL, ch, 1+ch%2)
		}
	}

	l.player.SetSilentLimit(c.silentLimitMs)
	l.player.SetMasterVolume(l.volume)
	if l.vsyncHz != 0 {
		l.player.SetVSync(l.vsyncHz)
	}
}

// Close releases every player and program.
func (c *Cartridge) Close() {
	for _, l := range c.lines {
		l.active.Store(false)
		if l.player != nil {
			l.player.Close()
			l.player = nil
		}
		if l.program != nil {
			l.program.Close()
			l.program = nil
		}
	}
}

// SetOutputFormat reconfigures the cartridge. Call only under quiescence:
// every line is rebuilt and deactivated.
func (c *Cartridge) SetOutputFormat(rate, channels, bits int) bool {
	if rate < 8000 || rate > 96000 || (channels != 1 && channels != 2) || (bits != 16 && bits != 24) {
		return false
	}
	c.rate = rate
	c.channels = channels
	c.bits = bits
	c.selectReader()

	ref := c.lines[0].program
	for _, l := range c.lines {
		c.initLine(ref, l)
	}
	return true
}

// SetLineCount grows or shrinks the voice bank. Call only under quiescence.
func (c *Cartridge) SetLineCount(n int) bool {
	if n <= 0 {
		return false
	}
	if n < c.linesCount {
		for _, l := range c.lines[n:] {
			l.active.Store(false)
			if l.player != nil {
				l.player.Close()
			}
			if l.program != nil {
				l.program.Close()
			}
		}
		c.lines = c.lines[:n]
	} else {
		for i := c.linesCount; i < n; i++ {
			l := &Line{volume: c.masterVolume}
			c.lines = append(c.lines, l)
			c.initLine(c.lines[0].program, l)
		}
	}
	c.linesCount = len(c.lines)
	return true
}

// LineCount returns the number of lines.
func (c *Cartridge) LineCount() int { return c.linesCount }

// ActiveCount returns the number of active lines.
func (c *Cartridge) ActiveCount() int {
	n := 0
	for _, l := range c.lines {
		if l.active.Load() {
			n++
		}
	}
	return n
}

// activate arms a line and publishes it with active set last.
func (c *Cartridge) activate(l *Line, track int, autostop, forcable bool, fadeoutMs int) {
	l.autostop.Store(autostop)
	l.nextTrack = track
	l.pause.Store(false)
	l.forcable = forcable
	l.id = c.nextID
	c.nextID++

	if fadeoutMs > 0 {
		l.transitionFadeout = fadeoutMs * c.rate / 1000
		l.player.FadeStart(fadeoutMs)
	} else {
		l.transitionFadeout = 0
	}

	l.active.Store(true)
}

// ActiveLine finds a free line, activates it for the track and returns its
// 1-based index, or 0 when every line is busy. Safe without quiescing: the
// mix thread ignores the line until active flips true.
func (c *Cartridge) ActiveLine(track int, autostop, forcable bool) int {
	for i, l := range c.lines {
		if !l.active.Load() {
			c.activate(l, track, autostop, forcable, 0)
			return i + 1
		}
	}
	return 0
}

// ForceLine preempts the oldest forcable line for the track. Must be called
// under producer quiescence. Returns the 1-based index or 0.
func (c *Cartridge) ForceLine(track int, autostop, forcable bool) int {
	min := c.nextID
	idMin := 0
	for i, l := range c.lines {
		if l.forcable && l.id < min {
			min = l.id
			idMin = i + 1
		}
	}
	if idMin != 0 {
		c.activate(c.lines[idMin-1], track, autostop, forcable, 0)
	}
	return idMin
}

// UpdateLine retargets a line, fading the current track out over fadeOutMs
// before the new one starts. Must be called under producer quiescence.
func (c *Cartridge) UpdateLine(lineID, newTrack int, autostop, forcable bool, fadeOutMs int) bool {
	if lineID <= 0 || lineID > len(c.lines) {
		return false
	}
	c.activate(c.lines[lineID-1], newTrack, autostop, forcable, fadeOutMs)
	return true
}

// SetPause pauses or resumes one line.
func (c *Cartridge) SetPause(lineID int, pause bool) {
	if lineID > 0 && lineID <= len(c.lines) {
		c.lines[lineID-1].pause.Store(pause)
	}
}

// SetPauseActive pauses or resumes every active line.
func (c *Cartridge) SetPauseActive(pause bool) {
	for _, l := range c.lines {
		if l.active.Load() {
			l.pause.Store(pause)
		}
	}
}

// Stop deactivates one line.
func (c *Cartridge) Stop(lineID int) {
	if lineID > 0 && lineID <= len(c.lines) {
		c.lines[lineID-1].active.Store(false)
	}
}

// StopActive deactivates every active line.
func (c *Cartridge) StopActive() {
	for _, l := range c.lines {
		if l.active.Load() {
			l.active.Store(false)
		}
	}
}

// SetMasterVolume applies a volume (0..100) to every line.
func (c *Cartridge) SetMasterVolume(volume int) {
	c.masterVolume = volume
	for _, l := range c.lines {
		l.volume = volume
		l.player.SetMasterVolume(volume)
	}
}

// SetLineVolume applies a volume (0..100) to one line.
func (c *Cartridge) SetLineVolume(lineID, volume int) {
	if lineID > 0 && lineID <= len(c.lines) {
		l := c.lines[lineID-1]
		l.volume = volume
		l.player.SetMasterVolume(volume)
	}
}

// setLineFrequency retunes one line's VSync frequency. An active line is
// repositioned: the decoded position scales by oldHz/newHz, then the engine
// restarts the track and fast-forwards silently to that point.
func (c *Cartridge) setLineFrequency(l *Line, hz int) {
	if hz <= 0 {
		return
	}
	if !l.active.Load() {
		l.vsyncHz = hz
		l.player.SetVSync(hz)
		return
	}
	pos := l.player.DecodedFrames()
	if l.vsyncHz != 0 {
		pos = pos * uint64(l.vsyncHz) / uint64(hz)
	}
	l.vsyncHz = hz
	l.player.SetVSync(hz)
	l.player.Reset(l.currentTrack, 0)
	l.player.AdvanceSilently(pos)
}

// SetFrequency retunes every line. Must be called under producer
// quiescence when lines are active.
func (c *Cartridge) SetFrequency(hz int) {
	for _, l := range c.lines {
		c.setLineFrequency(l, hz)
	}
}

// SetLineFrequency retunes one line by index, under the same rules.
func (c *Cartridge) SetLineFrequency(lineID, hz int) {
	if lineID > 0 && lineID <= len(c.lines) {
		c.setLineFrequency(c.lines[lineID-1], hz)
	}
}

// PlaytimeMillis returns how long a line has been decoding.
func (c *Cartridge) PlaytimeMillis(lineID int) int {
	if c.rate == 0 || lineID <= 0 || lineID > len(c.lines) {
		return 0
	}
	return int(c.lines[lineID-1].player.DecodedFrames() * 1000 / uint64(c.rate))
}

// Read mixes every line additively into out, which holds nFrames frames of
// 32-bit accumulator values. Called by the mix thread once per packet.
func (c *Cartridge) Read(out []int32, nFrames int) int {
	for _, l := range c.lines {
		c.readLine(out, l, nFrames)
	}
	return nFrames
}

// ReadLine renders a single line into out, plain copy (out is overwritten,
// not summed). The line state machine runs exactly as in Read.
func (c *Cartridge) ReadLine(out []int32, lineID, nFrames int) int {
	if lineID <= 0 || lineID > len(c.lines) {
		return 0
	}
	for i := 0; i < nFrames*c.channels; i++ {
		out[i] = 0
	}
	return c.readLine(out, c.lines[lineID-1], nFrames)
}

// step runs the per-packet line state machine around the render: promote a
// pending track when no fade is running, render, check autostop, count the
// fade down. It returns the rendered scratch or nil when the line produced
// nothing this packet.
func (c *Cartridge) step(l *Line, nFrames int) []int16 {
	if !l.active.Load() || l.pause.Load() {
		return nil
	}

	if l.nextTrack != 0 && l.transitionFadeout == 0 {
		l.currentTrack = l.nextTrack
		l.nextTrack = 0
		l.player.Reset(l.currentTrack, 0)
	}

	dataCount := nFrames * c.channels
	if len(c.scratch) < dataCount {
		c.scratch = make([]int16, dataCount)
	}
	l.player.Render(c.scratch, nFrames)

	deactivate := l.autostop.Load() && l.player.StopFlag()

	if l.transitionFadeout > 0 {
		if l.transitionFadeout < nFrames {
			l.transitionFadeout = 0
			if l.nextTrack == 0 {
				deactivate = true
			}
		} else {
			l.transitionFadeout -= nFrames
		}
	}

	if deactivate {
		// producer-side deactivation, packet boundary
		l.active.Store(false)
	}
	return c.scratch[:dataCount]
}

func (c *Cartridge) readLineAdd16(out []int32, l *Line, nFrames int) int {
	data := c.step(l, nFrames)
	if data == nil {
		return 0
	}
	for i, v := range data {
		out[i] += int32(v)
	}
	return nFrames
}

func (c *Cartridge) readLineAdd24(out []int32, l *Line, nFrames int) int {
	data := c.step(l, nFrames)
	if data == nil {
		return 0
	}
	for i, v := range data {
		out[i] += int32(v) << 8
	}
	return nFrames
}
