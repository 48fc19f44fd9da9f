package sample

import (
	"bytes"
	"io"

	"github.com/archvfs/pvfs/block"
	"github.com/archvfs/pvfs/checksum"
	"github.com/archvfs/pvfs/common/werr"
)

const (
	indexHeaderSize  = 1024
	indexMagic       = 0xFF01FF01
	indexVersion     = 1
	defaultInterval  = 10
	markerSize       = 8
	markerByte       = 0xA5
	indexRecordSize  = markerSize + 8 + 8 + 8 + 8 + 4 // marker, seconds, sub_seconds, reserved, data_offset, crc32
	chunkHeaderSize  = markerSize + 8 + 8 + 8          // marker, seconds, sub_seconds, reserved
	chunkTrailerSize = 4                                // crc32, written as the next chunk begins (or at close)
)

// marker returns the 8-byte 0xA5 unique marker written before every
// index record and data chunk.
func marker() []byte {
	m := make([]byte, markerSize)
	for i := range m {
		m[i] = markerByte
	}
	return m
}

// readMarker reads 8 bytes and reports whether all of them are the
// marker byte. Per spec.md §6, fewer than 8 matching bytes makes the
// record unreadable.
func readMarker(r io.Reader) (bool, error) {
	var m [markerSize]byte
	if _, err := io.ReadFull(r, m[:]); err != nil {
		return false, werr.ErrIo.WithCauseErr(err)
	}
	for _, b := range m {
		if b != markerByte {
			return false, nil
		}
	}
	return true, nil
}

// indexHeader is the 1024-byte header of a <channel>.index inner file.
type indexHeader struct {
	DataType uint32
	DataRate float32
	Start    Time
	End      Time
	Interval uint32
}

func defaultIndexHeader() indexHeader {
	return indexHeader{Interval: defaultInterval}
}

func (h indexHeader) encode() []byte {
	buf := make([]byte, 0, 52)
	w := bytes.NewBuffer(buf)
	_ = block.WriteU32(w, indexMagic)
	_ = block.WriteU32(w, indexVersion)
	_ = block.WriteU32(w, h.DataType)
	_ = block.WriteF32(w, h.DataRate)
	_ = block.WriteI64(w, h.Start.Seconds)
	_ = block.WriteF64(w, h.Start.SubSeconds)
	_ = block.WriteI64(w, h.End.Seconds)
	_ = block.WriteF64(w, h.End.SubSeconds)
	_ = block.WriteU32(w, h.Interval)
	out := make([]byte, indexHeaderSize)
	copy(out, w.Bytes())
	return out
}

func decodeIndexHeader(buf []byte) (indexHeader, error) {
	if len(buf) < indexHeaderSize {
		return indexHeader{}, werr.ErrIo.WithCauseErrMsg("short index header read")
	}
	r := bytes.NewReader(buf)
	magic, err := block.ReadU32(r)
	if err != nil {
		return indexHeader{}, err
	}
	if magic != indexMagic {
		return indexHeader{}, werr.ErrCorruption.WithCauseErrMsg("index header magic mismatch")
	}
	if _, err := block.ReadU32(r); err != nil { // version, not currently branched on
		return indexHeader{}, err
	}
	var h indexHeader
	if h.DataType, err = block.ReadU32(r); err != nil {
		return indexHeader{}, err
	}
	if h.DataRate, err = block.ReadF32(r); err != nil {
		return indexHeader{}, err
	}
	if h.Start.Seconds, err = block.ReadI64(r); err != nil {
		return indexHeader{}, err
	}
	if h.Start.SubSeconds, err = block.ReadF64(r); err != nil {
		return indexHeader{}, err
	}
	if h.End.Seconds, err = block.ReadI64(r); err != nil {
		return indexHeader{}, err
	}
	if h.End.SubSeconds, err = block.ReadF64(r); err != nil {
		return indexHeader{}, err
	}
	if h.Interval, err = block.ReadU32(r); err != nil {
		return indexHeader{}, err
	}
	if h.Interval == 0 {
		h.Interval = defaultInterval
	}
	return h, nil
}

// indexRecord is one 44-byte entry of the .index file.
type indexRecord struct {
	Time       Time
	DataOffset int64
}

// encode lays out the record's CRC-guarded body: seconds, sub_seconds,
// 8 bytes reserved, data_offset, in that exact byte order, per spec.md
// §3's "Index-file record" layout. The marker is written separately so
// callers can interleave WriteTimeStamp's "finalize previous chunk"
// step between the marker and the body if required.
func (r indexRecord) encode() []byte {
	buf := new(bytes.Buffer)
	_ = block.WriteI64(buf, r.Time.Seconds)
	_ = block.WriteF64(buf, r.Time.SubSeconds)
	_ = block.WriteI64(buf, 0) // reserved
	_ = block.WriteI64(buf, r.DataOffset)
	body := buf.Bytes()
	crc := checksum.IEEE(body)
	out := make([]byte, 0, indexRecordSize-markerSize+4)
	out = append(out, body...)
	crcBuf := new(bytes.Buffer)
	_ = block.WriteU32(crcBuf, crc)
	out = append(out, crcBuf.Bytes()...)
	return out
}

// decodeIndexRecord reads one full 44-byte record (marker included)
// from r and validates its CRC.
func decodeIndexRecord(r io.Reader) (indexRecord, error) {
	ok, err := readMarker(r)
	if err != nil {
		return indexRecord{}, err
	}
	if !ok {
		return indexRecord{}, werr.ErrCorruption.WithCauseErrMsg("index record unique marker mismatch")
	}
	body := make([]byte, indexRecordSize-markerSize-4)
	if _, err := io.ReadFull(r, body); err != nil {
		return indexRecord{}, werr.ErrIo.WithCauseErr(err)
	}
	wantCRC, err := block.ReadU32(r)
	if err != nil {
		return indexRecord{}, err
	}
	if gotCRC := checksum.IEEE(body); gotCRC != wantCRC {
		return indexRecord{}, werr.ErrCorruption.WithCauseErrMsg("index record crc mismatch")
	}
	br := bytes.NewReader(body)
	var rec indexRecord
	if rec.Time.Seconds, err = block.ReadI64(br); err != nil {
		return indexRecord{}, err
	}
	if rec.Time.SubSeconds, err = block.ReadF64(br); err != nil {
		return indexRecord{}, err
	}
	if _, err = block.ReadI64(br); err != nil { // reserved
		return indexRecord{}, err
	}
	if rec.DataOffset, err = block.ReadI64(br); err != nil {
		return indexRecord{}, err
	}
	return rec, nil
}

// chunkHeader is the 24-byte body of a data-file chunk's 32-byte header:
// the fields after the marker. The trailing CRC is not part of it.
type chunkHeader struct {
	Time Time
}

func (h chunkHeader) encode() []byte {
	buf := new(bytes.Buffer)
	_ = block.WriteI64(buf, h.Time.Seconds)
	_ = block.WriteF64(buf, h.Time.SubSeconds)
	_ = block.WriteI64(buf, 0) // reserved
	return buf.Bytes()
}

