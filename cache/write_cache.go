// Package cache implements the archive's double-buffered asynchronous
// write cache and the inner-file read-through cache, grounded on the
// teacher's background-flush-pool pattern in server/storage/disk and its
// bounded sequential buffer in server/storage/cache.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/archvfs/pvfs/common/config"
	"github.com/archvfs/pvfs/common/logger"
	"github.com/archvfs/pvfs/common/metrics"
	"github.com/archvfs/pvfs/common/werr"
	"github.com/archvfs/pvfs/vfs"
)

// NewFlushPool builds the process-wide goroutine pool write caches submit
// their background flushes to, sized by Configuration.writeCache.maxFlushWorkers.
// Bounding it process-wide (rather than one goroutine per cache) matters
// because an archive commonly backs several channels, each with its own
// index and data cache.
func NewFlushPool(size int) (*ants.Pool, error) {
	if size <= 0 {
		size = 1
	}
	return ants.NewPool(size)
}

type addOutcome int

const (
	outcomeSuccess addOutcome = iota
	outcomeFull
	outcomeFail
)

// WriteCache is the double-buffered asynchronous writer of spec.md §4.F:
// the producer fills buf[active] under mu while a background worker
// drains the other buffer to the backing inner file.
type WriteCache struct {
	mu sync.Mutex

	buf    [2][]byte
	active int
	cur    int

	flushSize    int
	maxRetry     int
	asyncEnabled bool
	seekToEnd    bool

	handle *vfs.Handle
	pool   *ants.Pool

	writing atomic.Bool
	done    chan struct{}
}

// NewWriteCache builds a write cache over handle using cfg's flush policy.
// pool is the shared background-flush pool; nil disables async flushing
// even if cfg.AsyncEnabled is true.
func NewWriteCache(handle *vfs.Handle, cfg config.WriteCacheConfig, pool *ants.Pool) *WriteCache {
	flushSize := int(cfg.FlushSize.Int64())
	if flushSize <= 0 {
		flushSize = 1
	}
	bufSize := flushSize * 2
	return &WriteCache{
		buf:          [2][]byte{make([]byte, bufSize), make([]byte, bufSize)},
		flushSize:    flushSize,
		maxRetry:     cfg.MaxRetry,
		asyncEnabled: cfg.AsyncEnabled && pool != nil,
		seekToEnd:    true,
		handle:       handle,
		pool:         pool,
	}
}

// Write runs the AddValue/Full/Fail state machine: a value that fits is
// buffered; a buffer that reaches flush_size triggers a flush attempt; a
// value that would overflow the buffer blocks on Wait, flushes, and
// retries exactly once.
func (c *WriteCache) Write(p []byte) error {
	return c.writeRetry(p, 0)
}

func (c *WriteCache) writeRetry(p []byte, depth int) error {
	switch c.addValue(p) {
	case outcomeSuccess:
		return nil
	case outcomeFull:
		if err := c.WriteCacheToFile(); err != nil && !werr.ErrWouldBlock.Is(err) {
			return err
		}
		return nil
	default: // outcomeFail
		if depth > 0 {
			return werr.ErrArgNull.WithCauseErrMsg("write cache overflowed twice in a row for one value")
		}
		metrics.WriteCacheBackpressureWaitsTotal.Inc()
		c.Wait()
		if err := c.WriteCacheToFile(); err != nil && !werr.ErrWouldBlock.Is(err) {
			return err
		}
		return c.writeRetry(p, depth+1)
	}
}

func (c *WriteCache) addValue(p []byte) addOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := c.buf[c.active]
	if c.cur+len(p) >= len(buf) {
		return outcomeFail
	}
	copy(buf[c.cur:c.cur+len(p)], p)
	c.cur += len(p)
	if c.cur >= c.flushSize {
		return outcomeFull
	}
	return outcomeSuccess
}

// WriteCacheToFile snapshots the active buffer and hands it to the
// background worker (or runs the worker inline when async is disabled).
// Returns werr.ErrWouldBlock if a background write is already in flight
// or no handle is attached, matching the spec's "Fail" outcome for this
// call.
func (c *WriteCache) WriteCacheToFile() error {
	c.mu.Lock()
	if c.writing.Load() || c.handle == nil {
		c.mu.Unlock()
		return werr.ErrWouldBlock
	}
	size := c.cur
	if size == 0 {
		c.mu.Unlock()
		return nil
	}
	snapshot := c.buf[c.active][:size]
	c.cur = 0

	if !c.asyncEnabled {
		c.mu.Unlock()
		c.writing.Store(true)
		c.runWorker(snapshot, nil)
		return nil
	}

	c.writing.Store(true)
	done := make(chan struct{})
	c.done = done
	c.active = 1 - c.active
	c.mu.Unlock()

	if err := c.pool.Submit(func() { c.runWorker(snapshot, done) }); err != nil {
		c.runWorker(snapshot, done)
	}
	return nil
}

func (c *WriteCache) runWorker(buf []byte, done chan struct{}) {
	defer func() {
		c.writing.Store(false)
		if done != nil {
			close(done)
		}
	}()

	start := time.Now()
	err := c.handle.WriteAtEnd(buf, c.seekToEnd)
	metrics.WriteCacheFlushLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.WriteCacheFlushTotal.WithLabelValues("error").Inc()
		logger.Ctx(context.Background()).Error("write cache background flush failed", zap.Error(err), zap.Int("bytes", len(buf)))
		return
	}
	metrics.WriteCacheFlushTotal.WithLabelValues("success").Inc()
	metrics.WriteCacheFlushBytes.Add(float64(len(buf)))
}

// Wait blocks until any in-flight background write completes. A no-op
// when nothing is in flight.
func (c *WriteCache) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil || !c.writing.Load() {
		return
	}
	<-done
}

// Flush drains the cache: it waits for any prior background write, then
// issues one more WriteCacheToFile, optionally waiting for that one too.
func (c *WriteCache) Flush(wait bool) error {
	c.mu.Lock()
	cur := c.cur
	c.mu.Unlock()
	if cur == 0 {
		if wait {
			c.Wait()
		}
		return nil
	}
	c.Wait()
	if err := c.WriteCacheToFile(); err != nil && !werr.ErrWouldBlock.Is(err) {
		return err
	}
	if wait {
		c.Wait()
	}
	return nil
}

// Tell returns the number of bytes currently buffered in the active
// buffer, not yet handed to a flush.
func (c *WriteCache) Tell() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

// SpaceBeforeFlush returns how many more bytes can be buffered before the
// next AddValue reaches flush_size and triggers a flush. Callers that
// need to know in advance whether a fixed-size record will itself force
// a flush (the sample store's index records, spec.md §4.H) check this
// rather than just calling Write and reacting to the outcome.
func (c *WriteCache) SpaceBeforeFlush() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushSize - c.cur
}

// IsWriting reports whether a background write is currently in flight.
func (c *WriteCache) IsWriting() bool { return c.writing.Load() }
