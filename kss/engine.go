// Package kss drives banks of chiptune emulator voices for the polymix
// mixer. The emulator itself is opaque: anything satisfying Engine can be
// plugged in, and the package takes care of voice lifecycle, track
// transitions, fadeouts, autostop and the synchronisation rules the mix
// thread imposes.
package kss

// Program is a loaded chiptune image. Each cartridge line owns its own
// Program so the emulator voices never share mutable state; Close releases
// whatever the engine allocated for it.
type Program interface {
	Close()
}

// Player is one emulator voice bound to a Program. All methods are called
// with the cartridge suitably synchronised; implementations need no
// internal locking.
type Player interface {
	Bind(p Program)
	SetQuality(chip, quality int)
	SetPanDevice(chip, pan int)
	SetPanChannel(chip, channel, pan int)
	SetSilentLimit(ms int)
	SetMasterVolume(v int)
	SetVSync(hz int)

	// Reset restarts the program at the given track. cpuSpeed 0 means
	// auto.
	Reset(track, cpuSpeed int)

	// Render synthesizes nFrames frames of 16-bit interleaved PCM.
	Render(out []int16, nFrames int)

	// StopFlag reports that the track has ended (silence past the
	// configured limit, or an explicit stop in the program).
	StopFlag() bool

	// DecodedFrames is the running count of frames rendered since the
	// last Reset, including silently advanced ones.
	DecodedFrames() uint64

	// FadeStart begins a fade to silence over ms milliseconds.
	FadeStart(ms int)

	// AdvanceSilently renders and discards frames, used to reposition
	// after a VSync frequency change.
	AdvanceSilently(frames uint64)

	Close()
}

// Engine creates Programs and Players. Implementations wrap a concrete
// emulator library; the package never looks inside.
type Engine interface {
	Load(data []byte) (Program, error)
	Clone(p Program) Program
	NewPlayer(rate, channels, bits int) Player
}

// Chip identifiers passed to SetQuality / SetPanDevice / SetPanChannel.
// They mirror the device classes of MSX-era sound hardware; engines that
// emulate fewer devices ignore the rest.
const (
	ChipPSG = iota
	ChipSCC
	ChipOPL
	ChipOPLL
)
