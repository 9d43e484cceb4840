package polymix

import (
	"bytes"
	"fmt"
	"io"

	"github.com/go-audio/riff"
)

// WAV format tags this package understands. EXTENSIBLE carries the real tag
// in the first two bytes of its SubFormat GUID.
const (
	waveFormatPCM        = 0x0001
	waveFormatIEEEFloat  = 0x0003
	waveFormatALaw       = 0x0006
	waveFormatMuLaw      = 0x0007
	waveFormatExtensible = 0xFFFE
)

var factID = [4]byte{'f', 'a', 'c', 't'}

// pcmData is the result of walking a RIFF WAVE stream: the fmt fields plus
// the raw data chunk, untouched. Decoding to mixer samples happens later in
// SourcePCM, once the output format is known.
type pcmData struct {
	formatTag      uint16
	channels       uint16
	sampleRate     uint32
	avgBytesPerSec uint32
	blockAlign     uint16
	bitsPerSample  uint16

	// extensible extension
	validBits   uint16
	channelMask uint32
	subFormat   [16]byte

	// fact chunk
	sampleLength uint32

	data []byte
}

// effectiveTag resolves EXTENSIBLE containers to the tag embedded in the
// SubFormat GUID.
func (p *pcmData) effectiveTag() uint16 {
	if p.formatTag == waveFormatExtensible {
		return uint16(p.subFormat[0]) | uint16(p.subFormat[1])<<8
	}
	return p.formatTag
}

// decodeWave walks the RIFF chunks of a WAVE stream. Chunk order is free
// except that RIFF/WAVE leads; fmt, fact and data may come in any order and
// unknown chunks are skipped. Odd-sized chunks carry a pad byte, which is
// skipped and never becomes part of the chunk's data.
func decodeWave(r io.Reader) (*pcmData, error) {
	parser := riff.New(r)
	if err := parser.ParseHeaders(); err != nil {
		return nil, fmt.Errorf("wav: reading RIFF header: %w", ErrBadFormat)
	}
	if parser.Format != riff.WavFormatID {
		return nil, fmt.Errorf("wav: not a WAVE container: %w", ErrBadFormat)
	}

	pd := &pcmData{}
	var fmtLoaded, dataLoaded bool
	for {
		// the header is read by hand: NextChunk folds the pad byte of an
		// odd-sized chunk into Size, which would append it to the data
		id, size, err := parser.IDnSize()
		if err != nil {
			// end of chunks; a truncated file surfaces below as a
			// missing or short chunk
			break
		}
		chunk := &riff.Chunk{ID: id, Size: int(size + size%2), R: r}

		switch chunk.ID {
		case riff.FmtID:
			if err := readFmtChunk(chunk, pd); err != nil {
				return nil, err
			}
			fmtLoaded = true
		case factID:
			if err := chunk.ReadLE(&pd.sampleLength); err != nil {
				return nil, fmt.Errorf("wav: truncated fact chunk: %w", ErrBadFormat)
			}
		case riff.DataFormatID:
			pd.data = make([]byte, size)
			if _, err := io.ReadFull(chunk, pd.data); err != nil {
				return nil, fmt.Errorf("wav: truncated data chunk: %w", ErrBadFormat)
			}
			dataLoaded = true
		}
		chunk.Drain()
	}

	if !fmtLoaded || !dataLoaded {
		return nil, fmt.Errorf("wav: missing fmt or data chunk: %w", ErrBadFormat)
	}
	return pd, nil
}

func readFmtChunk(chunk *riff.Chunk, pd *pcmData) error {
	if chunk.Size < 16 {
		return fmt.Errorf("wav: fmt chunk too small (%d bytes): %w", chunk.Size, ErrBadFormat)
	}
	fields := []interface{}{
		&pd.formatTag, &pd.channels, &pd.sampleRate,
		&pd.avgBytesPerSec, &pd.blockAlign, &pd.bitsPerSample,
	}
	for _, f := range fields {
		if err := chunk.ReadLE(f); err != nil {
			return fmt.Errorf("wav: truncated fmt chunk: %w", ErrBadFormat)
		}
	}
	if chunk.Size <= 16 {
		return nil
	}
	var cbSize uint16
	if err := chunk.ReadLE(&cbSize); err != nil {
		return fmt.Errorf("wav: truncated fmt extension: %w", ErrBadFormat)
	}
	if cbSize >= 22 {
		ext := []interface{}{&pd.validBits, &pd.channelMask, &pd.subFormat}
		for _, f := range ext {
			if err := chunk.ReadLE(f); err != nil {
				return fmt.Errorf("wav: truncated fmt extension: %w", ErrBadFormat)
			}
		}
	}
	return nil
}

// sniffWave reports whether the byte prefix looks like a RIFF WAVE file.
func sniffWave(prefix []byte) bool {
	return len(prefix) >= 12 &&
		bytes.Equal(prefix[0:4], []byte("RIFF")) &&
		bytes.Equal(prefix[8:12], []byte("WAVE"))
}
