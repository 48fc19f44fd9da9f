package vfs

import (
	"context"

	"go.uber.org/zap"

	"github.com/archvfs/pvfs/block"
	"github.com/archvfs/pvfs/common/metrics"
	"github.com/archvfs/pvfs/common/werr"
)

// Handle is a per-caller cursor onto one inner file: the currently loaded
// leaf (data) and ancestor (tree) blocks, the file-table location of its
// FileEntry, and a dirty bit. A Handle is not safe for concurrent use by
// more than one goroutine (see spec's per-file exclusivity non-goal).
type Handle struct {
	archive *Archive

	info       block.FileEntry
	tableBlock int64
	tableIndex int32

	currentOffset int64
	dataHeader    block.Header
	data          *block.DataBlock
	dataOffset    int32
	treeHeader    block.Header
	tree          *block.TreeBlock

	dirty  bool
	closed bool
}

// Tell returns the handle's current logical offset.
func (h *Handle) Tell() int64 { return h.currentOffset }

// Size returns the inner file's current logical size.
func (h *Handle) Size() int64 { return h.info.Size }

// Name returns the inner file's name.
func (h *Handle) Name() string { return h.info.Name() }

func (h *Handle) log(ctx context.Context) *zap.Logger {
	return h.archive.log(ctx).With(zap.String("inner_file", h.info.Name()))
}

// Seek repositions the handle's cursor to a, descending the tree from the
// file's root. 0 <= a <= Size() is required.
func (h *Handle) Seek(a int64) error {
	h.archive.mu.Lock()
	defer h.archive.mu.Unlock()
	return h.seekLocked(a)
}

func (h *Handle) seekLocked(a int64) error {
	if a < 0 || a > h.info.Size {
		return werr.ErrArgNull.WithCauseErrMsg("seek offset out of range")
	}
	if h.data != nil && a == h.currentOffset {
		return nil
	}
	if h.dirty {
		if err := h.flushLocked(false); err != nil {
			return err
		}
	}
	return h.descendTo(a)
}

// descendTo walks the tree from the file's root to the data block owning
// offset a, loading it and its owning tree node into the handle's cursor
// state. Used by both Seek and by rollDataBlock when rolling onto a
// pre-existing data block, so the handle's cached tree node never goes
// stale relative to the data block it is about to extend.
func (h *Handle) descendTo(a int64) error {
	offset := h.info.StartBlock
	var parentHeader block.Header
	var parentTree *block.TreeBlock
	var baseAddr int64
	for {
		header, payload, err := h.archive.readBlock(offset)
		if err != nil {
			return err
		}
		switch header.Type {
		case block.Tree:
			tb, err := block.DecodeTreeBlock(payload, h.archive.blockSize, header.Count)
			if err != nil {
				return err
			}
			mi, ok := floorMapping(tb.Mappings, a)
			if !ok {
				return werr.ErrCorruption.WithCauseErrMsg("no candidate mapping for offset")
			}
			parentHeader, parentTree = header, tb
			baseAddr = tb.Mappings[mi].VirtualAddr
			offset = tb.Mappings[mi].BlockLoc
		case block.Data:
			db, err := block.DecodeDataBlock(payload, h.archive.blockSize, header.Count)
			if err != nil {
				return err
			}
			h.treeHeader = parentHeader
			h.tree = parentTree
			h.dataHeader = header
			h.data = db
			h.dataOffset = int32(a - baseAddr)
			h.currentOffset = a
			return nil
		default:
			return werr.ErrCorruption.WithCauseErrMsg("tree descent hit a non-tree/non-data block")
		}
	}
}

// floorMapping returns the index of the mapping with the largest
// VirtualAddr <= a, linear-scanning the (sorted) mappings array.
func floorMapping(mappings []block.Mapping, a int64) (int, bool) {
	best := -1
	for i, m := range mappings {
		if m.VirtualAddr <= a {
			best = i
		} else {
			break
		}
	}
	if best < 0 && len(mappings) > 0 {
		best = 0
	}
	return best, best >= 0
}

// Read copies up to len(buf) bytes starting at the cursor into buf,
// traversing data-block links across block boundaries. Returns the
// number of bytes actually read; 0 with werr.ErrEof at end of file.
func (h *Handle) Read(buf []byte) (int, error) {
	h.archive.mu.Lock()
	defer h.archive.mu.Unlock()

	remaining := h.info.Size - h.currentOffset
	if remaining <= 0 {
		return 0, werr.ErrEof
	}
	want := int64(len(buf))
	if want > remaining {
		want = remaining
	}

	var n int64
	for n < want {
		avail := int64(h.dataHeader.Count) - int64(h.dataOffset)
		if avail <= 0 {
			if h.dataHeader.Next == block.NoLink {
				break
			}
			header, payload, err := h.archive.readBlock(h.dataHeader.Next)
			if err != nil {
				return int(n), err
			}
			db, err := block.DecodeDataBlock(payload, h.archive.blockSize, header.Count)
			if err != nil {
				return int(n), err
			}
			h.dataHeader = header
			h.data = db
			h.dataOffset = 0
			continue
		}
		take := want - n
		if take > avail {
			take = avail
		}
		copy(buf[n:n+take], h.data.Bytes[h.dataOffset:h.dataOffset+int32(take)])
		h.dataOffset += int32(take)
		h.currentOffset += take
		n += take
	}
	return int(n), nil
}

// Archive returns the archive this handle was opened against. Every
// Handle method takes the archive's lock itself, so none of them may be
// called while Archive.Lock is held. The write cache's background worker
// gets its seek+write+flush under one hold of the lock through WriteAtEnd.
func (h *Handle) Archive() *Archive { return h.archive }

// Write copies buf into the inner file starting at the cursor, allocating
// new data blocks (and growing the tree) as the current block fills.
func (h *Handle) Write(buf []byte) (int, error) {
	h.archive.mu.Lock()
	defer h.archive.mu.Unlock()
	return h.writeLocked(buf)
}

// WriteAtEnd seeks to the inner file's current size when seekToEnd is
// true, writes buf, and flushes, all under a single hold of the
// archive's lock. This is the write-cache background worker's atomic
// unit: spec.md §4.F describes the worker as acquiring the archive lock
// once for seek+write+flush rather than once per call.
func (h *Handle) WriteAtEnd(buf []byte, seekToEnd bool) error {
	h.archive.mu.Lock()
	defer h.archive.mu.Unlock()
	if seekToEnd {
		if err := h.seekLocked(h.info.Size); err != nil {
			return err
		}
	}
	if _, err := h.writeLocked(buf); err != nil {
		return err
	}
	return h.flushLocked(false)
}

func (h *Handle) writeLocked(buf []byte) (int, error) {
	if h.archive.readOnly {
		return 0, werr.ErrIo.WithCauseErrMsg("archive is read-only")
	}
	var n int
	for n < len(buf) {
		room := int32(h.archive.blockSize-8) - h.dataOffset
		if room <= 0 {
			if err := h.rollDataBlock(); err != nil {
				return n, err
			}
			continue
		}
		take := int32(len(buf) - n)
		if take > room {
			take = room
		}
		copy(h.data.Bytes[h.dataOffset:h.dataOffset+take], buf[n:n+int(take)])
		h.dataOffset += take
		if h.dataOffset > int32(h.dataHeader.Count) {
			h.dataHeader.Count = h.dataOffset
		}
		h.currentOffset += int64(take)
		n += int(take)
		if h.currentOffset > h.info.Size {
			h.info.Size = h.currentOffset
		}
	}
	h.dirty = true
	return n, nil
}

// rollDataBlock flushes the current data block, then either follows an
// existing next link or allocates a fresh data block and registers it in
// the tree.
func (h *Handle) rollDataBlock() error {
	if h.dataHeader.Next != block.NoLink {
		if err := h.archive.writeBlock(h.dataHeader.Self, h.dataHeader, h.data.Encode(h.archive.blockSize)); err != nil {
			return err
		}
		return h.descendTo(h.currentOffset)
	}

	newSelf, err := h.archive.allocateBlock(block.Data)
	if err != nil {
		return err
	}
	newHeader := block.Header{Type: block.Data, Prev: h.dataHeader.Self, Self: newSelf, Next: block.NoLink, Count: 0}
	newData := &block.DataBlock{Tree: h.data.Tree, Bytes: make([]byte, h.archive.blockSize-8)}

	h.dataHeader.Next = newSelf
	if err := h.archive.writeBlock(h.dataHeader.Self, h.dataHeader, h.data.Encode(h.archive.blockSize)); err != nil {
		return err
	}

	if err := h.treeAddData(newData, newHeader, block.Mapping{VirtualAddr: h.currentOffset, BlockLoc: newSelf}); err != nil {
		return err
	}

	h.dataHeader = newHeader
	h.data = newData
	h.dataOffset = 0
	return nil
}

// treeAddData inserts m into a tree block, splitting by root promotion
// when the node is full. When newData is non-nil (the write-path variant
// of tree-add), its Tree back-pointer is stamped to whichever tree block
// ends up owning m before anything is written. target overrides which
// tree node receives the insert; omitted, it defaults to the handle's
// currently loaded tree.
func (h *Handle) treeAddData(newData *block.DataBlock, newDataHeader block.Header, m block.Mapping, target ...targetNode) error {
	treeHeader, tree := h.treeHeader, h.tree
	if len(target) > 0 {
		treeHeader, tree = target[0].header, target[0].tree
	}

	if int32(len(tree.Mappings)) < block.MaxMappings(h.archive.blockSize) {
		tree.Mappings = append(tree.Mappings, m)
		treeHeader.Count = int32(len(tree.Mappings))
		if newData != nil {
			newData.Tree = treeHeader.Self
			if err := h.archive.writeBlock(newDataHeader.Self, newDataHeader, newData.Encode(h.archive.blockSize)); err != nil {
				return err
			}
		}
		if err := h.archive.writeBlock(treeHeader.Self, treeHeader, tree.Encode(h.archive.blockSize)); err != nil {
			return err
		}
		if treeHeader.Self == h.treeHeader.Self {
			h.treeHeader, h.tree = treeHeader, tree
		}
		return nil
	}

	return h.promoteAndInsert(treeHeader, tree, m, newData, newDataHeader)
}

type targetNode struct {
	header block.Header
	tree   *block.TreeBlock
}

// promoteAndInsert implements tree growth by root promotion: allocate a
// sibling carrying m, then either link it into the parent (recursively
// growing the parent if needed) or, if tree is the root, allocate a brand
// new root over both.
func (h *Handle) promoteAndInsert(treeHeader block.Header, tree *block.TreeBlock, m block.Mapping, newData *block.DataBlock, newDataHeader block.Header) error {
	t2Self, err := h.archive.allocateBlock(block.Tree)
	if err != nil {
		return err
	}
	t2Header := block.Header{Type: block.Tree, Prev: block.NoLink, Self: t2Self, Next: block.NoLink, Count: 1}
	t2 := &block.TreeBlock{Up: tree.Up, Mappings: []block.Mapping{m}}

	if newData != nil {
		newData.Tree = t2Self
		if err := h.archive.writeBlock(newDataHeader.Self, newDataHeader, newData.Encode(h.archive.blockSize)); err != nil {
			return err
		}
	}
	if err := h.archive.writeBlock(t2Self, t2Header, t2.Encode(h.archive.blockSize)); err != nil {
		return err
	}

	if treeHeader.Self == h.treeHeader.Self {
		h.treeHeader = t2Header
		h.tree = t2
	}

	if tree.Up != block.NoLink {
		parentHeader, parentPayload, err := h.archive.readBlock(tree.Up)
		if err != nil {
			return err
		}
		parent, err := block.DecodeTreeBlock(parentPayload, h.archive.blockSize, parentHeader.Count)
		if err != nil {
			return err
		}
		return h.treeAddData(nil, block.Header{}, block.Mapping{VirtualAddr: h.currentOffset, BlockLoc: t2Self}, targetNode{header: parentHeader, tree: parent})
	}

	rootSelf, err := h.archive.allocateBlock(block.Tree)
	if err != nil {
		return err
	}
	rootHeader := block.Header{Type: block.Tree, Prev: block.NoLink, Self: rootSelf, Next: block.NoLink, Count: 0}
	root := &block.TreeBlock{Up: block.NoLink}

	tree.Up = rootSelf
	oldFirst := block.NoLink
	if len(tree.Mappings) > 0 {
		oldFirst = tree.Mappings[0].VirtualAddr
	}
	root.Mappings = append(root.Mappings, block.Mapping{VirtualAddr: oldFirst, BlockLoc: treeHeader.Self})
	root.Mappings = append(root.Mappings, block.Mapping{VirtualAddr: h.currentOffset, BlockLoc: t2Self})
	rootHeader.Count = int32(len(root.Mappings))
	t2.Up = rootSelf

	if err := h.archive.writeBlock(treeHeader.Self, treeHeader, tree.Encode(h.archive.blockSize)); err != nil {
		return err
	}
	if err := h.archive.writeBlock(t2Self, t2Header, t2.Encode(h.archive.blockSize)); err != nil {
		return err
	}
	if err := h.archive.writeBlock(rootSelf, rootHeader, root.Encode(h.archive.blockSize)); err != nil {
		return err
	}

	h.info.StartBlock = rootSelf
	return h.writeTableEntry()
}

func (h *Handle) writeTableEntry() error {
	header, payload, err := h.archive.readBlock(h.tableBlock)
	if err != nil {
		return err
	}
	fb, err := block.DecodeFileBlock(payload, h.archive.blockSize, header.Count)
	if err != nil {
		return err
	}
	fb.Entries[h.tableIndex] = h.info
	return h.archive.writeBlock(h.tableBlock, header, fb.Encode(h.archive.blockSize))
}

// Flush persists dirty state: the file-table entry, then the current data
// and tree blocks. If commit is true it additionally fsyncs the host
// descriptor.
func (h *Handle) Flush(commit bool) error {
	h.archive.mu.Lock()
	defer h.archive.mu.Unlock()
	return h.flushLocked(commit)
}

func (h *Handle) flushLocked(commit bool) error {
	if !h.dirty {
		if commit {
			return h.archive.Sync()
		}
		return nil
	}
	if err := h.writeTableEntry(); err != nil {
		return err
	}
	if err := h.archive.writeBlock(h.dataHeader.Self, h.dataHeader, h.data.Encode(h.archive.blockSize)); err != nil {
		return err
	}
	if h.tree != nil {
		if err := h.archive.writeBlock(h.treeHeader.Self, h.treeHeader, h.tree.Encode(h.archive.blockSize)); err != nil {
			return err
		}
	}
	h.dirty = false
	if commit {
		return h.archive.Sync()
	}
	return nil
}

// Close flushes any dirty state and releases the handle's bookkeeping.
// Close does not release any archive-level resource.
func (h *Handle) Close() error {
	if h.closed {
		return nil
	}
	if err := h.Flush(false); err != nil {
		return err
	}
	h.closed = true
	metrics.InnerFilesOpenGauge.Dec()
	h.log(context.Background()).Debug("inner file closed", zap.Int64("size", h.info.Size))
	return nil
}
