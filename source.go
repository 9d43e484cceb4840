package polymix

import "io"

// Source produces Samples in the mixer's output format. Implementations in
// this package cover WAV (in-memory PCM), Ogg Vorbis and MP3 (streaming);
// chiptune voice banks are handled separately by the kss package because
// they are read in bulk rather than through Samples.
type Source interface {
	// SetOutputFormat installs the mixer format the Samples must emit.
	// rate is in frames per second, channels is 1 or 2, bits 16 or 24.
	SetOutputFormat(rate, channels, bits int)

	// CreateSample returns a fresh playback cursor over this source, or
	// nil when the source is not ready (no data, or no format set).
	CreateSample() Sample
}

// Sample is a stateful cursor pulling frames from its Source, resampled and
// remixed to the mixer format.
//
// Read fills out with up to nFrames frames (nFrames * mixer channels int32
// values) and returns the number of frames written. A short count signals
// end of input; the Sample rewinds itself and the next Read starts over
// from the beginning. Looping policy is the mixer's business, not the
// Sample's.
type Sample interface {
	Read(out []int32, nFrames int) int

	// Seek positions the cursor at an absolute frame index. SamplePCM
	// clamps it to the valid range; the streaming samples pass it to
	// their decoder unchecked. SeekTime does the same with seconds.
	Seek(frame int64)
	SeekTime(seconds float64)
}

// closeSample releases any OS resources behind a sample. Streaming samples
// hold an open file; in-memory ones do not, so the Closer is optional.
func closeSample(s Sample) {
	if c, ok := s.(io.Closer); ok {
		c.Close()
	}
}
