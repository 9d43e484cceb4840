package polymix

import "errors"

// Error kinds surfaced at the API boundary. Loaders and the backend wrap
// these with context via fmt.Errorf("...: %w", ...).
var (
	// ErrBadFormat reports an unreadable or unsupported input: malformed
	// WAV header, unknown format tag or bit depth, a Vorbis or MP3 file
	// that fails to open, or an unloadable chiptune image.
	ErrBadFormat = errors.New("polymix: bad format")

	// ErrBadConfig reports an out-of-range mixer configuration or an
	// invalid handle.
	ErrBadConfig = errors.New("polymix: bad config")

	// ErrNotStarted and ErrAlreadyStarted report lifecycle misuse.
	ErrNotStarted     = errors.New("polymix: mixer not started")
	ErrAlreadyStarted = errors.New("polymix: mixer already started")

	// ErrDevice reports that the audio backend refused to open or start
	// a stream.
	ErrDevice = errors.New("polymix: device error")
)
