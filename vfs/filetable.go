package vfs

import (
	"github.com/archvfs/pvfs/block"
	"github.com/archvfs/pvfs/common/metrics"
	"github.com/archvfs/pvfs/common/werr"
)

// tableEntry locates one FileEntry within the file-table chain.
type tableEntry struct {
	blockOffset int64
	index       int32
	entry       block.FileEntry
}

// findEntry linear-scans the file-table chain for the first entry whose
// name exactly matches name.
func (a *Archive) findEntry(name string) (tableEntry, bool, error) {
	offset := a.tableLoc
	for offset != block.NoLink {
		header, payload, err := a.readBlock(offset)
		if err != nil {
			return tableEntry{}, false, err
		}
		fb, err := block.DecodeFileBlock(payload, a.blockSize, header.Count)
		if err != nil {
			return tableEntry{}, false, err
		}
		for i, e := range fb.Entries {
			if !e.Empty() && e.Name() == name {
				return tableEntry{blockOffset: offset, index: int32(i), entry: e}, true, nil
			}
		}
		offset = header.Next
	}
	return tableEntry{}, false, nil
}

// appendEntry inserts entry into the last file-table block, allocating a
// new table block first if the last one is full.
func (a *Archive) appendEntry(entry block.FileEntry) (tableEntry, error) {
	offset := a.tableLoc
	var lastHeader block.Header
	var lastFile *block.FileBlock
	for {
		header, payload, err := a.readBlock(offset)
		if err != nil {
			return tableEntry{}, err
		}
		fb, err := block.DecodeFileBlock(payload, a.blockSize, header.Count)
		if err != nil {
			return tableEntry{}, err
		}
		if header.Next == block.NoLink {
			lastHeader, lastFile = header, fb
			break
		}
		offset = header.Next
	}

	if int32(len(lastFile.Entries)) >= block.MaxFiles(a.blockSize) {
		newSelf, err := a.allocateBlock(block.File)
		if err != nil {
			return tableEntry{}, err
		}
		newHeader := block.Header{Type: block.File, Prev: lastHeader.Self, Self: newSelf, Next: block.NoLink, Count: 1}
		newFile := &block.FileBlock{Entries: []block.FileEntry{entry}}
		if err := a.writeBlock(newSelf, newHeader, newFile.Encode(a.blockSize)); err != nil {
			return tableEntry{}, err
		}
		lastHeader.Next = newSelf
		if err := a.writeBlock(lastHeader.Self, lastHeader, lastFile.Encode(a.blockSize)); err != nil {
			return tableEntry{}, err
		}
		return tableEntry{blockOffset: newSelf, index: 0, entry: entry}, nil
	}

	lastFile.Entries = append(lastFile.Entries, entry)
	lastHeader.Count = int32(len(lastFile.Entries))
	if err := a.writeBlock(lastHeader.Self, lastHeader, lastFile.Encode(a.blockSize)); err != nil {
		return tableEntry{}, err
	}
	return tableEntry{blockOffset: lastHeader.Self, index: int32(len(lastFile.Entries)) - 1, entry: entry}, nil
}

// CreateInner creates a new inner file named name: an initial tree root
// wired to an initial empty data block, and a fresh FileEntry appended to
// the table chain.
func (a *Archive) CreateInner(name string) (*Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rootSelf, err := a.allocateBlock(block.Tree)
	if err != nil {
		return nil, err
	}
	dataSelf, err := a.allocateBlock(block.Data)
	if err != nil {
		return nil, err
	}

	root := block.TreeBlock{Up: block.NoLink, Mappings: []block.Mapping{{VirtualAddr: 0, BlockLoc: dataSelf}}}
	rootHeader := block.Header{Type: block.Tree, Prev: block.NoLink, Self: rootSelf, Next: block.NoLink, Count: 1}
	if err := a.writeBlock(rootSelf, rootHeader, root.Encode(a.blockSize)); err != nil {
		return nil, err
	}

	data := block.DataBlock{Tree: rootSelf, Bytes: make([]byte, a.blockSize-8)}
	dataHeader := block.Header{Type: block.Data, Prev: block.NoLink, Self: dataSelf, Next: block.NoLink, Count: 0}
	if err := a.writeBlock(dataSelf, dataHeader, data.Encode(a.blockSize)); err != nil {
		return nil, err
	}

	var entry block.FileEntry
	entry.SetName(name)
	entry.StartBlock = rootSelf
	entry.Size = 0

	te, err := a.appendEntry(entry)
	if err != nil {
		return nil, err
	}

	metrics.InnerFilesOpenGauge.Inc()
	return &Handle{
		archive:       a,
		info:          te.entry,
		tableBlock:    te.blockOffset,
		tableIndex:    te.index,
		currentOffset: 0,
		dataHeader:    dataHeader,
		data:          &data,
		treeHeader:    rootHeader,
		tree:          &root,
	}, nil
}

// OpenInner finds and opens the first inner file whose name matches name.
func (a *Archive) OpenInner(name string) (*Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	te, ok, err := a.findEntry(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, werr.ErrFileNotOpened.WithCauseErrMsg("no inner file named " + name)
	}

	h := &Handle{
		archive:    a,
		info:       te.entry,
		tableBlock: te.blockOffset,
		tableIndex: te.index,
	}
	if err := h.seekLocked(0); err != nil {
		return nil, err
	}
	metrics.InnerFilesOpenGauge.Inc()
	return h, nil
}

// DeleteInner tombstones every table entry whose name matches name. It
// does not reclaim the blocks those entries referenced.
func (a *Archive) DeleteInner(name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	offset := a.tableLoc
	deleted := false
	for offset != block.NoLink {
		header, payload, err := a.readBlock(offset)
		if err != nil {
			return err
		}
		fb, err := block.DecodeFileBlock(payload, a.blockSize, header.Count)
		if err != nil {
			return err
		}
		changed := false
		for i := range fb.Entries {
			if !fb.Entries[i].Empty() && fb.Entries[i].Name() == name {
				fb.Entries[i].SetName("")
				changed = true
				deleted = true
			}
		}
		if changed {
			if err := a.writeBlock(header.Self, header, fb.Encode(a.blockSize)); err != nil {
				return err
			}
		}
		offset = header.Next
	}
	if !deleted {
		return werr.ErrFileNotOpened.WithCauseErrMsg("no inner file named " + name)
	}
	return nil
}

// List returns every non-tombstoned inner-file name.
func (a *Archive) List() ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var names []string
	offset := a.tableLoc
	for offset != block.NoLink {
		header, payload, err := a.readBlock(offset)
		if err != nil {
			return nil, err
		}
		fb, err := block.DecodeFileBlock(payload, a.blockSize, header.Count)
		if err != nil {
			return nil, err
		}
		for _, e := range fb.Entries {
			if !e.Empty() {
				names = append(names, e.Name())
			}
		}
		offset = header.Next
	}
	return names, nil
}

// HasFile reports whether an inner file named name exists.
func (a *Archive) HasFile(name string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, ok, err := a.findEntry(name)
	if err != nil {
		return false, err
	}
	return ok, nil
}
