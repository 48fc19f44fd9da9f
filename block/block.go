package block

import (
	"bytes"
	"encoding/binary"

	"github.com/archvfs/pvfs/common/werr"
)

// Type tags a block's payload interpretation.
type Type uint8

const (
	Unknown Type = 0
	Data    Type = 1
	Tree    Type = 2
	File    Type = 3
	EOF     Type = 0xFF
)

// HeaderSize is the on-disk size of a Header: Type(1) + Prev(8) + Self(8) +
// Next(8) + Count(4).
const HeaderSize = 29

// NoLink is the sentinel value meaning "no link" for Prev/Next/Up.
const NoLink int64 = -1

// Header is the fixed 29-byte prefix of every block.
type Header struct {
	Type  Type
	Prev  int64
	Self  int64
	Next  int64
	Count int32
}

// Encode serializes h to its 29-byte on-disk form.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = byte(h.Type)
	binary.LittleEndian.PutUint64(buf[1:9], uint64(h.Prev))
	binary.LittleEndian.PutUint64(buf[9:17], uint64(h.Self))
	binary.LittleEndian.PutUint64(buf[17:25], uint64(h.Next))
	binary.LittleEndian.PutUint32(buf[25:29], uint32(h.Count))
	return buf
}

// DecodeHeader parses the first HeaderSize bytes of buf.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, werr.ErrCorruption.WithCauseErrMsg("short block header")
	}
	h := Header{
		Type:  Type(buf[0]),
		Prev:  int64(binary.LittleEndian.Uint64(buf[1:9])),
		Self:  int64(binary.LittleEndian.Uint64(buf[9:17])),
		Next:  int64(binary.LittleEndian.Uint64(buf[17:25])),
		Count: int32(binary.LittleEndian.Uint32(buf[25:29])),
	}
	switch h.Type {
	case Unknown, Data, Tree, File, EOF:
	default:
		return Header{}, werr.ErrCorruption.WithCauseErrMsg("unrecognized block type tag")
	}
	return h, nil
}

// FileEntrySize is the on-disk size of a FileEntry: StartBlock(8) + Size(8)
// + Filename(256).
const FileEntrySize = 272

// FilenameSize is the fixed width of the filename field within a FileEntry.
const FilenameSize = 256

// FileEntry describes one inner file reached from the file-table chain.
type FileEntry struct {
	StartBlock int64
	Size       int64
	Filename   [FilenameSize]byte
}

// Name returns the entry's filename as a Go string, trimmed at the first
// NUL byte.
func (e FileEntry) Name() string {
	n := bytes.IndexByte(e.Filename[:], 0)
	if n < 0 {
		n = len(e.Filename)
	}
	return string(e.Filename[:n])
}

// Empty reports whether the entry's filename has been zeroed (tombstoned).
func (e FileEntry) Empty() bool {
	return e.Filename[0] == 0
}

// SetName stores name into the entry's fixed filename field.
func (e *FileEntry) SetName(name string) {
	for i := range e.Filename {
		e.Filename[i] = 0
	}
	copy(e.Filename[:], name)
}

func encodeFileEntry(e FileEntry) []byte {
	buf := make([]byte, FileEntrySize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(e.StartBlock))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(e.Size))
	copy(buf[16:16+FilenameSize], e.Filename[:])
	return buf
}

func decodeFileEntry(buf []byte) FileEntry {
	var e FileEntry
	e.StartBlock = int64(binary.LittleEndian.Uint64(buf[0:8]))
	e.Size = int64(binary.LittleEndian.Uint64(buf[8:16]))
	copy(e.Filename[:], buf[16:16+FilenameSize])
	return e
}

// MappingSize is the on-disk size of one tree mapping: VirtualAddr(8) +
// BlockLoc(8).
const MappingSize = 16

// Mapping is one (virtual offset, child block) pair within a tree block.
type Mapping struct {
	VirtualAddr int64
	BlockLoc    int64
}

// DataBlock is the payload of a Data block: a back-pointer to the owning
// tree block followed by up to (blockSize - 8) raw user bytes.
type DataBlock struct {
	Tree  int64
	Bytes []byte // capacity blockSize-8; only the first Count bytes (from the header) are valid
}

// MaxDataBytes returns the number of raw payload bytes a Data block of
// blockSize can hold.
func MaxDataBytes(blockSize int32) int32 {
	return blockSize - 8
}

// Encode serializes d to a blockSize-byte payload.
func (d DataBlock) Encode(blockSize int32) []byte {
	buf := make([]byte, blockSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(d.Tree))
	copy(buf[8:], d.Bytes)
	return buf
}

// DecodeDataBlock parses a Data block's payload. count is the valid byte
// count taken from the block's Header.
func DecodeDataBlock(payload []byte, blockSize int32, count int32) (*DataBlock, error) {
	if int32(len(payload)) < blockSize || count < 0 || count > MaxDataBytes(blockSize) {
		return nil, werr.ErrCorruption.WithCauseErrMsg("malformed data block")
	}
	d := &DataBlock{
		Tree:  int64(binary.LittleEndian.Uint64(payload[0:8])),
		Bytes: make([]byte, blockSize-8),
	}
	copy(d.Bytes, payload[8:blockSize])
	return d, nil
}

// TreeBlock is the payload of a Tree block: a parent back-pointer followed
// by a dense, virtual-address-sorted array of child mappings.
type TreeBlock struct {
	Up       int64
	Mappings []Mapping
}

// MaxMappings returns the fan-out of a Tree block of blockSize. Reserves
// two int64 words of overhead (the Up back-pointer plus 8 bytes left
// unused; the mapping count itself lives in the block Header), matching
// spec.md's max_mappings = (block_size - 16) / 16.
func MaxMappings(blockSize int32) int32 {
	return (blockSize - 16) / MappingSize
}

// Encode serializes t to a blockSize-byte payload.
func (t TreeBlock) Encode(blockSize int32) []byte {
	buf := make([]byte, blockSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(t.Up))
	off := 8
	for _, m := range t.Mappings {
		binary.LittleEndian.PutUint64(buf[off:off+8], uint64(m.VirtualAddr))
		binary.LittleEndian.PutUint64(buf[off+8:off+16], uint64(m.BlockLoc))
		off += MappingSize
	}
	return buf
}

// DecodeTreeBlock parses a Tree block's payload. count is the valid
// mapping count taken from the block's Header.
func DecodeTreeBlock(payload []byte, blockSize int32, count int32) (*TreeBlock, error) {
	if int32(len(payload)) < blockSize || count < 0 || count > MaxMappings(blockSize) {
		return nil, werr.ErrCorruption.WithCauseErrMsg("malformed tree block")
	}
	t := &TreeBlock{
		Up:       int64(binary.LittleEndian.Uint64(payload[0:8])),
		Mappings: make([]Mapping, count),
	}
	off := 8
	for i := int32(0); i < count; i++ {
		t.Mappings[i] = Mapping{
			VirtualAddr: int64(binary.LittleEndian.Uint64(payload[off : off+8])),
			BlockLoc:    int64(binary.LittleEndian.Uint64(payload[off+8 : off+16])),
		}
		off += MappingSize
	}
	return t, nil
}

// FileBlock is the payload of a File-table block: a dense array of
// FileEntry records.
type FileBlock struct {
	Entries []FileEntry
}

// MaxFiles returns the fan-out of a File-table block of blockSize.
func MaxFiles(blockSize int32) int32 {
	return blockSize / FileEntrySize
}

// Encode serializes f to a blockSize-byte payload.
func (f FileBlock) Encode(blockSize int32) []byte {
	buf := make([]byte, blockSize)
	off := 0
	for _, e := range f.Entries {
		copy(buf[off:off+FileEntrySize], encodeFileEntry(e))
		off += FileEntrySize
	}
	return buf
}

// DecodeFileBlock parses a File-table block's payload. count is the valid
// entry count taken from the block's Header; count > MaxFiles is
// Corruption per spec.md §4.B.
func DecodeFileBlock(payload []byte, blockSize int32, count int32) (*FileBlock, error) {
	if int32(len(payload)) < blockSize || count < 0 || count > MaxFiles(blockSize) {
		return nil, werr.ErrCorruption.WithCauseErrMsg("file block count exceeds max_files")
	}
	f := &FileBlock{Entries: make([]FileEntry, count)}
	off := 0
	for i := int32(0); i < count; i++ {
		f.Entries[i] = decodeFileEntry(payload[off : off+FileEntrySize])
		off += FileEntrySize
	}
	return f, nil
}

// EncodeBlock concatenates a header with a blockSize-length payload into
// the full on-disk block representation.
func EncodeBlock(header Header, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	copy(buf, header.Encode())
	copy(buf[HeaderSize:], payload)
	return buf
}

// DecodeBlock splits a raw HeaderSize+blockSize buffer into its header and
// raw payload; callers then decode the payload per header.Type.
func DecodeBlock(buf []byte, blockSize int32) (Header, []byte, error) {
	if int32(len(buf)) < HeaderSize+blockSize {
		return Header{}, nil, werr.ErrCorruption.WithCauseErrMsg("short block read")
	}
	h, err := DecodeHeader(buf[:HeaderSize])
	if err != nil {
		return Header{}, nil, err
	}
	return h, buf[HeaderSize : HeaderSize+blockSize], nil
}
