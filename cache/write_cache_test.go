package cache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/archvfs/pvfs/common/config"
	"github.com/archvfs/pvfs/vfs"
)

func newTestHandle(t *testing.T) (*vfs.Archive, *vfs.Handle) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.vfs")
	a, err := vfs.Create(path, 4096)
	assert.NoError(t, err)
	h, err := a.CreateInner("stream")
	assert.NoError(t, err)
	return a, h
}

// TestWriteCacheAsyncFlushDrains covers testable property 13: producing a
// large number of small writes with async enabled and flushing once with
// wait=true yields a file whose readable byte count equals what was
// written.
func TestWriteCacheAsyncFlushDrains(t *testing.T) {
	a, h := newTestHandle(t)
	defer a.Close()
	defer h.Close()

	pool, err := NewFlushPool(4)
	assert.NoError(t, err)
	defer pool.Release()

	cfg := config.WriteCacheConfig{FlushSize: config.NewByteSize(2048), AsyncEnabled: true, MaxRetry: 1}
	wc := NewWriteCache(h, cfg, pool)

	const n = 5000
	record := []byte("0123456789") // 10 bytes
	for i := 0; i < n; i++ {
		assert.NoError(t, wc.Write(record))
	}
	assert.NoError(t, wc.Flush(true))

	assert.Equal(t, int64(n*len(record)), h.Size())

	readBack := make([]byte, len(record))
	assert.NoError(t, h.Seek(0))
	for i := 0; i < n; i++ {
		got, err := h.Read(readBack)
		assert.NoError(t, err)
		assert.Equal(t, len(record), got)
		assert.Equal(t, record, readBack)
	}
}

// TestWriteCacheBackpressurePreservesOrder covers testable property 14:
// writes larger than the buffer force the retry-depth-1 Wait/flush path,
// and the resulting file content is exactly the concatenation of every
// write, in order, with nothing lost.
func TestWriteCacheBackpressurePreservesOrder(t *testing.T) {
	a, h := newTestHandle(t)
	defer a.Close()
	defer h.Close()

	pool, err := NewFlushPool(1)
	assert.NoError(t, err)
	defer pool.Release()

	// A tiny flush_size forces WriteCacheToFile on almost every write,
	// and the single-worker pool means some of those calls race the
	// worker that is still draining the other buffer.
	cfg := config.WriteCacheConfig{FlushSize: config.NewByteSize(64), AsyncEnabled: true, MaxRetry: 1}
	wc := NewWriteCache(h, cfg, pool)

	var want []byte
	for i := 0; i < 2000; i++ {
		chunk := []byte{byte(i), byte(i >> 8), byte(i % 7), byte(i % 251)}
		assert.NoError(t, wc.Write(chunk))
		want = append(want, chunk...)
	}
	assert.NoError(t, wc.Flush(true))

	assert.Equal(t, int64(len(want)), h.Size())
	got := make([]byte, len(want))
	assert.NoError(t, h.Seek(0))
	n, err := h.Read(got)
	assert.NoError(t, err)
	assert.Equal(t, len(want), n)
	assert.Equal(t, want, got)
}

// TestWriteCacheSyncPath covers the non-async configuration: every Full
// outcome runs the worker inline on the producer, so Flush(false) alone
// (no explicit Wait) always observes a drained cache.
func TestWriteCacheSyncPath(t *testing.T) {
	a, h := newTestHandle(t)
	defer a.Close()
	defer h.Close()

	cfg := config.WriteCacheConfig{FlushSize: config.NewByteSize(32), AsyncEnabled: false, MaxRetry: 1}
	wc := NewWriteCache(h, cfg, nil)

	assert.NoError(t, wc.Write([]byte("hello cache")))
	assert.False(t, wc.IsWriting())
	assert.NoError(t, wc.Flush(false))
	assert.Equal(t, int64(len("hello cache")), h.Size())
}

// TestWriteCacheSecondFailIsFatal covers the spec's "retry depth is 1"
// contract: a value that cannot possibly fit even after a successful
// drain is reported as an error, not retried forever.
func TestWriteCacheSecondFailIsFatal(t *testing.T) {
	a, h := newTestHandle(t)
	defer a.Close()
	defer h.Close()

	cfg := config.WriteCacheConfig{FlushSize: config.NewByteSize(16), AsyncEnabled: false, MaxRetry: 1}
	wc := NewWriteCache(h, cfg, nil)

	oversized := make([]byte, 64) // buf capacity is 2*flushSize = 32
	err := wc.Write(oversized)
	assert.Error(t, err)
}

func TestWriteCacheTellAndIsWriting(t *testing.T) {
	a, h := newTestHandle(t)
	defer a.Close()
	defer h.Close()

	cfg := config.WriteCacheConfig{FlushSize: config.NewByteSize(1024), AsyncEnabled: false, MaxRetry: 1}
	wc := NewWriteCache(h, cfg, nil)
	assert.Equal(t, 0, wc.Tell())
	assert.NoError(t, wc.Write([]byte("abc")))
	assert.Equal(t, 3, wc.Tell())
	assert.False(t, wc.IsWriting())
}
