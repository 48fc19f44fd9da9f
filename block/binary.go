// Package block implements the fixed-endian binary codec and the block
// codec for the four block kinds the archive file is built from.
package block

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/archvfs/pvfs/common/werr"
)

// ReadU8 reads a single byte from r.
func ReadU8(r io.Reader) (uint8, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, ioErr(err)
	}
	return b[0], nil
}

// WriteU8 writes a single byte to w.
func WriteU8(w io.Writer, v uint8) error {
	_, err := w.Write([]byte{v})
	return ioErr(err)
}

// ReadI8 reads a signed byte from r.
func ReadI8(r io.Reader) (int8, error) {
	v, err := ReadU8(r)
	return int8(v), err
}

// WriteI8 writes a signed byte to w.
func WriteI8(w io.Writer, v int8) error {
	return WriteU8(w, uint8(v))
}

// ReadU16 reads a little-endian uint16 from r.
func ReadU16(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, ioErr(err)
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

// WriteU16 writes a little-endian uint16 to w.
func WriteU16(w io.Writer, v uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	_, err := w.Write(b[:])
	return ioErr(err)
}

// ReadI16 reads a little-endian int16 from r.
func ReadI16(r io.Reader) (int16, error) {
	v, err := ReadU16(r)
	return int16(v), err
}

// WriteI16 writes a little-endian int16 to w.
func WriteI16(w io.Writer, v int16) error {
	return WriteU16(w, uint16(v))
}

// ReadU32 reads a little-endian uint32 from r.
func ReadU32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, ioErr(err)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// WriteU32 writes a little-endian uint32 to w.
func WriteU32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return ioErr(err)
}

// ReadI32 reads a little-endian int32 from r.
func ReadI32(r io.Reader) (int32, error) {
	v, err := ReadU32(r)
	return int32(v), err
}

// WriteI32 writes a little-endian int32 to w.
func WriteI32(w io.Writer, v int32) error {
	return WriteU32(w, uint32(v))
}

// ReadI64 reads a little-endian int64 from r.
func ReadI64(r io.Reader) (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, ioErr(err)
	}
	return int64(binary.LittleEndian.Uint64(b[:])), nil
}

// WriteI64 writes a little-endian int64 to w.
func WriteI64(w io.Writer, v int64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	_, err := w.Write(b[:])
	return ioErr(err)
}

// ReadU64 reads a little-endian uint64 from r.
func ReadU64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, ioErr(err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// WriteU64 writes a little-endian uint64 to w.
func WriteU64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return ioErr(err)
}

// ReadF32 reads a little-endian IEEE-754 float32 from r.
func ReadF32(r io.Reader) (float32, error) {
	v, err := ReadU32(r)
	return math.Float32frombits(v), err
}

// WriteF32 writes a little-endian IEEE-754 float32 to w.
func WriteF32(w io.Writer, v float32) error {
	return WriteU32(w, math.Float32bits(v))
}

// ReadF64 reads a little-endian IEEE-754 float64 from r.
func ReadF64(r io.Reader) (float64, error) {
	v, err := ReadU64(r)
	return math.Float64frombits(v), err
}

// WriteF64 writes a little-endian IEEE-754 float64 to w.
func WriteF64(w io.Writer, v float64) error {
	return WriteU64(w, math.Float64bits(v))
}

func ioErr(err error) error {
	if err == nil {
		return nil
	}
	return werr.ErrIo.WithCauseErr(err)
}
