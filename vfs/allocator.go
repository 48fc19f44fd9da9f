package vfs

import (
	"github.com/archvfs/pvfs/block"
	"github.com/archvfs/pvfs/common/metrics"
)

// allocateBlock appends a new block of typ at the tail of the host file:
// it assigns self at the current allocation cursor, advances the cursor
// past the new block, and rewrites the EOF sentinel one byte past it.
// Not thread-safe; callers hold a.mu.
func (a *Archive) allocateBlock(typ block.Type) (int64, error) {
	self := a.nextBlock
	next := self + int64(block.HeaderSize) + int64(a.blockSize)
	if err := a.writeRaw(next, []byte{byte(block.EOF)}); err != nil {
		return 0, err
	}
	a.nextBlock = next
	metrics.BlocksAllocatedTotal.WithLabelValues(blockTypeLabel(typ)).Inc()
	return self, nil
}

func blockTypeLabel(typ block.Type) string {
	switch typ {
	case block.Data:
		return "data"
	case block.Tree:
		return "tree"
	case block.File:
		return "file"
	default:
		return "unknown"
	}
}
