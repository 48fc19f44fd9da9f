package block

import (
	"bytes"
	"testing"
)

const testBlockSize = DefaultBlockSize

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{Type: Data, Prev: NoLink, Self: 1024, Next: 17408, Count: 42}
	decoded, err := DecodeHeader(h.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if decoded != h {
		t.Fatalf("decoded header = %+v, want %+v", decoded, h)
	}
}

func TestHeaderRejectsUnknownType(t *testing.T) {
	buf := Header{Type: Data}.Encode()
	buf[0] = 0x07
	if _, err := DecodeHeader(buf); err == nil {
		t.Fatal("expected unrecognized type tag to fail")
	}
}

func TestHeaderEveryBlockHasSelfOffsetAndTypeTag(t *testing.T) {
	for _, typ := range []Type{Unknown, Data, Tree, File, EOF} {
		h := Header{Type: typ, Self: 4096}
		buf := h.Encode()
		if buf[0] != byte(typ) {
			t.Fatalf("type %v: first byte = %x", typ, buf[0])
		}
		decoded, err := DecodeHeader(buf)
		if err != nil {
			t.Fatal(err)
		}
		if decoded.Self != h.Self {
			t.Fatalf("Self round trip: got %d, want %d", decoded.Self, h.Self)
		}
	}
}

func TestDataBlockRoundTrip(t *testing.T) {
	d := DataBlock{Tree: 1024, Bytes: make([]byte, testBlockSize-8)}
	copy(d.Bytes, []byte("hello block"))
	payload := d.Encode(testBlockSize)

	decoded, err := DecodeDataBlock(payload, testBlockSize, int32(len("hello block")))
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Tree != d.Tree {
		t.Fatalf("Tree = %d, want %d", decoded.Tree, d.Tree)
	}
	if !bytes.Equal(decoded.Bytes[:11], []byte("hello block")) {
		t.Fatalf("Bytes = %q", decoded.Bytes[:11])
	}
}

func TestTreeBlockRoundTrip(t *testing.T) {
	tb := TreeBlock{
		Up: NoLink,
		Mappings: []Mapping{
			{VirtualAddr: 0, BlockLoc: 1024},
			{VirtualAddr: 16327, BlockLoc: 17408},
		},
	}
	payload := tb.Encode(testBlockSize)

	decoded, err := DecodeTreeBlock(payload, testBlockSize, int32(len(tb.Mappings)))
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Up != tb.Up {
		t.Fatalf("Up = %d, want %d", decoded.Up, tb.Up)
	}
	if len(decoded.Mappings) != 2 || decoded.Mappings[1].VirtualAddr != 16327 {
		t.Fatalf("Mappings = %+v", decoded.Mappings)
	}
}

func TestFileBlockRoundTrip(t *testing.T) {
	var e1, e2 FileEntry
	e1.SetName("channel-a.index")
	e1.StartBlock = 1024
	e2.SetName("channel-a.idat")
	e2.StartBlock = 17408

	fb := FileBlock{Entries: []FileEntry{e1, e2}}
	payload := fb.Encode(testBlockSize)

	decoded, err := DecodeFileBlock(payload, testBlockSize, 2)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Entries[0].Name() != "channel-a.index" {
		t.Fatalf("Entries[0].Name() = %q", decoded.Entries[0].Name())
	}
	if decoded.Entries[1].StartBlock != 17408 {
		t.Fatalf("Entries[1].StartBlock = %d", decoded.Entries[1].StartBlock)
	}
}

func TestFileBlockCountOverMaxFilesIsCorruption(t *testing.T) {
	fb := FileBlock{}
	payload := fb.Encode(testBlockSize)
	if _, err := DecodeFileBlock(payload, testBlockSize, MaxFiles(testBlockSize)+1); err == nil {
		t.Fatal("expected count > max_files to fail with Corruption")
	}
}

func TestFileEntryTombstone(t *testing.T) {
	var e FileEntry
	e.SetName("stream")
	if e.Empty() {
		t.Fatal("freshly named entry should not be empty")
	}
	e.SetName("")
	if !e.Empty() {
		t.Fatal("zeroed filename should be Empty")
	}
}

func TestEncodeDecodeBlockGeneric(t *testing.T) {
	tb := TreeBlock{Up: NoLink, Mappings: []Mapping{{VirtualAddr: 0, BlockLoc: 2048}}}
	header := Header{Type: Tree, Prev: NoLink, Self: 1024, Next: NoLink, Count: int32(len(tb.Mappings))}
	full := EncodeBlock(header, tb.Encode(testBlockSize))

	decodedHeader, payload, err := DecodeBlock(full, testBlockSize)
	if err != nil {
		t.Fatal(err)
	}
	if decodedHeader.Self != header.Self || decodedHeader.Type != Tree {
		t.Fatalf("decoded header = %+v", decodedHeader)
	}
	decodedTree, err := DecodeTreeBlock(payload, testBlockSize, decodedHeader.Count)
	if err != nil {
		t.Fatal(err)
	}
	if decodedTree.Mappings[0].BlockLoc != 2048 {
		t.Fatalf("Mappings[0].BlockLoc = %d", decodedTree.Mappings[0].BlockLoc)
	}
}

func TestArchiveHeaderRoundTrip(t *testing.T) {
	h := ArchiveHeader{VersionMajor: 1, VersionMinor: 0, Revision: 0, BlockSize: DefaultBlockSize, TableLoc: TableOffset}
	buf := h.Encode()
	if len(buf) != ArchiveHeaderSize {
		t.Fatalf("archive header length = %d, want %d", len(buf), ArchiveHeaderSize)
	}
	if !bytes.Equal(buf[0:4], ArchiveMagic[:]) {
		t.Fatalf("magic = %x", buf[0:4])
	}
	decoded, err := DecodeArchiveHeader(buf)
	if err != nil {
		t.Fatal(err)
	}
	if decoded != h {
		t.Fatalf("decoded = %+v, want %+v", decoded, h)
	}
}

func TestArchiveHeaderRejectsBadMagic(t *testing.T) {
	h := ArchiveHeader{BlockSize: DefaultBlockSize, TableLoc: TableOffset}
	buf := h.Encode()
	buf[0] = 'X'
	if _, err := DecodeArchiveHeader(buf); err == nil {
		t.Fatal("expected magic mismatch to fail")
	}
}
