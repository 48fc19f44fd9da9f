package cache

import (
	"github.com/archvfs/pvfs/common/werr"
	"github.com/archvfs/pvfs/vfs"
)

// ReadCache is a single-buffer read-through cache per inner file, sized
// to one block: a refill covers any offset the cache doesn't currently
// hold, per spec.md §4.G.
type ReadCache struct {
	handle *vfs.Handle
	buf    []byte
	base   int64 // logical offset the buffer starts at; -1 when empty
	size   int   // valid bytes in buf, starting at base
}

// NewReadCache builds a read cache over handle with a buffer blockSize
// bytes wide.
func NewReadCache(handle *vfs.Handle, blockSize int32) *ReadCache {
	return &ReadCache{handle: handle, buf: make([]byte, blockSize), base: -1}
}

func (c *ReadCache) covers(offset int64, n int) bool {
	return c.base >= 0 && offset >= c.base && offset+int64(n) <= c.base+int64(c.size)
}

func (c *ReadCache) refill(offset int64) error {
	if err := c.handle.Seek(offset); err != nil {
		return err
	}
	n, err := c.handle.Read(c.buf)
	if err != nil && n == 0 {
		return err
	}
	c.base = offset
	c.size = n
	return nil
}

// ReadItem copies itemSize bytes at offset into out, refilling the cache
// from the inner file when offset falls outside the cached range.
// Returns the number of bytes copied (itemSize on success, fewer on a
// short read at end of file).
func (c *ReadCache) ReadItem(offset int64, itemSize int, out []byte) (int, error) {
	if len(out) < itemSize {
		return 0, werr.ErrArgNull.WithCauseErrMsg("output buffer smaller than item size")
	}
	if !c.covers(offset, itemSize) {
		if err := c.refill(offset); err != nil {
			return 0, err
		}
	}
	if !c.covers(offset, itemSize) {
		// Short read at end of file: copy what the cache actually has.
		avail := int(c.base + int64(c.size) - offset)
		if avail < 0 {
			avail = 0
		}
		copy(out[:avail], c.buf[offset-c.base:offset-c.base+int64(avail)])
		return avail, werr.ErrEof
	}
	rel := offset - c.base
	copy(out[:itemSize], c.buf[rel:rel+int64(itemSize)])
	return itemSize, nil
}

// ReadMultiple appends n consecutive itemSize-sized items starting at
// offset into out, which must be at least n*itemSize long. Returns the
// number of bytes consumed.
func (c *ReadCache) ReadMultiple(offset int64, itemSize int, n int, out []byte) (int, error) {
	var total int
	for i := 0; i < n; i++ {
		got, err := c.ReadItem(offset+int64(total), itemSize, out[total:])
		total += got
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Invalidate drops any cached range, forcing the next read to refill.
func (c *ReadCache) Invalidate() {
	c.base = -1
	c.size = 0
}
