package block

import (
	"encoding/binary"

	"github.com/archvfs/pvfs/common/werr"
)

// ArchiveHeaderSize is the fixed size of the archive header at offset 0.
const ArchiveHeaderSize = 1024

// ArchiveMagic is the 4-byte ASCII magic stamped at the start of every
// archive file.
var ArchiveMagic = [4]byte{'P', 'V', 'F', 'S'}

// DefaultBlockSize keeps block+header aligned to a 16 KiB page.
const DefaultBlockSize int32 = 0x4000 - HeaderSize

// TableOffset is where the first file-table block always sits, immediately
// after the archive header.
const TableOffset int64 = ArchiveHeaderSize

// ArchiveHeader is the fixed 1024-byte prefix of the host file.
type ArchiveHeader struct {
	VersionMajor uint8
	VersionMinor uint8
	Revision     uint16
	BlockSize    int32
	TableLoc     int64
}

// Encode serializes h to its 1024-byte, zero-padded on-disk form.
func (h ArchiveHeader) Encode() []byte {
	buf := make([]byte, ArchiveHeaderSize)
	copy(buf[0:4], ArchiveMagic[:])
	buf[4] = h.VersionMajor
	buf[5] = h.VersionMinor
	binary.LittleEndian.PutUint16(buf[6:8], h.Revision)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.BlockSize))
	binary.LittleEndian.PutUint64(buf[12:20], uint64(h.TableLoc))
	return buf
}

// DecodeArchiveHeader validates the magic and parses the archive header.
func DecodeArchiveHeader(buf []byte) (ArchiveHeader, error) {
	if len(buf) < ArchiveHeaderSize {
		return ArchiveHeader{}, werr.ErrCorruption.WithCauseErrMsg("short archive header")
	}
	if [4]byte(buf[0:4]) != ArchiveMagic {
		return ArchiveHeader{}, werr.ErrCorruption.WithCauseErrMsg("archive magic mismatch")
	}
	return ArchiveHeader{
		VersionMajor: buf[4],
		VersionMinor: buf[5],
		Revision:     binary.LittleEndian.Uint16(buf[6:8]),
		BlockSize:    int32(binary.LittleEndian.Uint32(buf[8:12])),
		TableLoc:     int64(binary.LittleEndian.Uint64(buf[12:20])),
	}, nil
}
