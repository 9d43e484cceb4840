package polymix

import (
	"encoding/binary"
	"math"

	"github.com/zaf/g711"
)

// decoder converts one channel's worth of input bytes to a signed 32-bit
// sample normalized to the mixer's bit depth (16 or 24). One decoder is
// selected per source when the output format is set; the hot loops call it
// through a single indirection per channel value.
type decoder func(b []byte) int32

/* ---------- decoders, 16-bit target ---------- */

func ui8ToI16(b []byte) int32 {
	return int32(b[0])<<8 - 0x8000
}

func i16ToI16(b []byte) int32 {
	return int32(int16(binary.LittleEndian.Uint16(b)))
}

func i24ToI16(b []byte) int32 {
	return i24ToI24(b) >> 8
}

func i32ToI16(b []byte) int32 {
	return int32(binary.LittleEndian.Uint32(b)) >> 16
}

// Float decoders assume IEEE little-endian data, which holds on every
// platform the bundled backends run on. Big-endian hosts are unsupported.
func f32ToI16(b []byte) int32 {
	v := math.Float32frombits(binary.LittleEndian.Uint32(b))
	return int32(v * 0x7FFF)
}

func f64ToI16(b []byte) int32 {
	v := math.Float64frombits(binary.LittleEndian.Uint64(b))
	return int32(v * 0x7FFF)
}

func alawToI16(b []byte) int32 {
	return int32(g711.DecodeAlawFrame(b[0]))
}

func ulawToI16(b []byte) int32 {
	return int32(g711.DecodeUlawFrame(b[0]))
}

/* ---------- decoders, 24-bit target ---------- */

func ui8ToI24(b []byte) int32 {
	return int32(b[0])<<16 - 0x800000
}

func i16ToI24(b []byte) int32 {
	return int32(int16(binary.LittleEndian.Uint16(b))) << 8
}

func i24ToI24(b []byte) int32 {
	return int32(b[0]) | int32(b[1])<<8 | int32(int8(b[2]))<<16
}

func i32ToI24(b []byte) int32 {
	return int32(binary.LittleEndian.Uint32(b)) >> 8
}

func f32ToI24(b []byte) int32 {
	v := math.Float32frombits(binary.LittleEndian.Uint32(b))
	return int32(v * 0x7FFFFF)
}

func f64ToI24(b []byte) int32 {
	v := math.Float64frombits(binary.LittleEndian.Uint64(b))
	return int32(v * 0x7FFFFF)
}

func alawToI24(b []byte) int32 {
	return int32(g711.DecodeAlawFrame(b[0])) << 8
}

func ulawToI24(b []byte) int32 {
	return int32(g711.DecodeUlawFrame(b[0])) << 8
}
