// Package vfs implements the archive virtual file system: the allocator,
// the archive/handle core, and inner-file seek/read/write/flush.
package vfs

import (
	"context"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/archvfs/pvfs/block"
	"github.com/archvfs/pvfs/common/logger"
	"github.com/archvfs/pvfs/common/werr"
)

// Archive is an open handle onto the host-OS file backing the VFS. It owns
// the host file descriptor, the allocation cursor, and a single mutex that
// every Archive and Handle method takes for the duration of the call. The
// mutex is not reentrant: a sequence of several operations cannot be made
// atomic by holding it, because each operation locks it again.
type Archive struct {
	mu sync.Mutex

	path      string
	file      *os.File
	blockSize int32
	tableLoc  int64
	nextBlock int64
	readOnly  bool

	lock    *flock.Flock
	mapped  mmap.MMap
	session uuid.UUID
}

// Lock acquires the archive-wide mutex. No Archive or Handle method may be
// called while it is held, since each of them acquires it as well.
func (a *Archive) Lock() { a.mu.Lock() }

// Unlock releases the archive-wide mutex.
func (a *Archive) Unlock() { a.mu.Unlock() }

// Session returns the archive's correlation id, attached to every log line
// this archive or its handles emit.
func (a *Archive) Session() uuid.UUID { return a.session }

// BlockSize returns the archive's data block size, the natural buffer
// width for a read-through cache over one of its inner files.
func (a *Archive) BlockSize() int32 { return a.blockSize }

func (a *Archive) log(ctx context.Context) *zap.Logger {
	return logger.Ctx(ctx).With(zap.String("session", a.session.String()), zap.String("archive", a.path))
}

// Create truncates/creates the host file at path, writes the archive
// header, and allocates the initial, empty file-table block.
func Create(path string, blockSize int32) (*Archive, error) {
	if blockSize <= 0 {
		blockSize = block.DefaultBlockSize
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, werr.ErrIo.WithCauseErr(err)
	}

	a := &Archive{
		path:      path,
		file:      f,
		blockSize: blockSize,
		tableLoc:  block.TableOffset,
		session:   uuid.New(),
	}

	if err := a.acquireLock(); err != nil {
		f.Close()
		return nil, err
	}

	header := block.ArchiveHeader{VersionMajor: 1, VersionMinor: 0, BlockSize: blockSize, TableLoc: block.TableOffset}
	if err := a.writeRaw(0, header.Encode()); err != nil {
		a.Close()
		return nil, err
	}

	a.nextBlock = block.TableOffset
	tableSelf, err := a.allocateBlock(block.File)
	if err != nil {
		a.Close()
		return nil, err
	}
	fb := block.FileBlock{}
	th := block.Header{Type: block.File, Prev: block.NoLink, Self: tableSelf, Next: block.NoLink, Count: 0}
	if err := a.writeRaw(tableSelf, block.EncodeBlock(th, fb.Encode(blockSize))); err != nil {
		a.Close()
		return nil, err
	}

	a.log(context.Background()).Debug("archive created")
	return a, nil
}

// Open validates the archive header and opens the host file for
// read/write, acquiring an exclusive advisory lock.
func Open(path string) (*Archive, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, werr.ErrIo.WithCauseErr(err)
	}
	a, err := openCommon(f, path, false)
	if err != nil {
		return nil, err
	}
	if err := a.acquireLock(); err != nil {
		a.file.Close()
		return nil, err
	}
	return a, nil
}

// OpenReadOnly validates the archive header and memory-maps the host file
// for read-only access; no advisory lock is taken.
func OpenReadOnly(path string) (*Archive, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0o644)
	if err != nil {
		return nil, werr.ErrIo.WithCauseErr(err)
	}
	a, err := openCommon(f, path, true)
	if err != nil {
		return nil, err
	}
	mapped, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, werr.ErrIo.WithCauseErr(err)
	}
	a.mapped = mapped
	return a, nil
}

func openCommon(f *os.File, path string, readOnly bool) (*Archive, error) {
	hdrBuf := make([]byte, block.ArchiveHeaderSize)
	if _, err := f.ReadAt(hdrBuf, 0); err != nil {
		f.Close()
		return nil, werr.ErrIo.WithCauseErr(err)
	}
	hdr, err := block.DecodeArchiveHeader(hdrBuf)
	if err != nil {
		f.Close()
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, werr.ErrIo.WithCauseErr(err)
	}
	a := &Archive{
		path:      path,
		file:      f,
		blockSize: hdr.BlockSize,
		tableLoc:  hdr.TableLoc,
		nextBlock: info.Size() - 1,
		readOnly:  readOnly,
		session:   uuid.New(),
	}
	return a, nil
}

func (a *Archive) acquireLock() error {
	a.lock = flock.New(a.path + ".lock")
	ok, err := a.lock.TryLock()
	if err != nil {
		return werr.ErrIo.WithCauseErr(err)
	}
	if !ok {
		return werr.ErrIo.WithCauseErrMsg("archive is locked by another process")
	}
	return nil
}

// Close releases the advisory lock (if held), unmaps a read-only mapping
// (if any), and closes the host descriptor. It does not flush any open
// Handle; callers own flushing their handles before Close.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	if a.mapped != nil {
		if err := a.mapped.Unmap(); err != nil {
			errs = append(errs, werr.ErrIo.WithCauseErr(err))
		}
		a.mapped = nil
	}
	if a.lock != nil {
		if err := a.lock.Unlock(); err != nil {
			errs = append(errs, werr.ErrIo.WithCauseErr(err))
		}
		a.lock = nil
	}
	if err := a.file.Close(); err != nil {
		errs = append(errs, werr.ErrIo.WithCauseErr(err))
	}
	return werr.Combine(errs...)
}

// readRaw reads length bytes at offset, from the mmap region when open
// read-only, otherwise via a positioned read against the host descriptor.
func (a *Archive) readRaw(offset int64, length int32) ([]byte, error) {
	if a.mapped != nil {
		if offset < 0 || offset+int64(length) > int64(len(a.mapped)) {
			return nil, werr.ErrIo.WithCauseErrMsg("read past end of archive")
		}
		out := make([]byte, length)
		copy(out, a.mapped[offset:offset+int64(length)])
		return out, nil
	}
	buf := make([]byte, length)
	if _, err := a.file.ReadAt(buf, offset); err != nil {
		return nil, werr.ErrIo.WithCauseErr(err)
	}
	return buf, nil
}

func (a *Archive) writeRaw(offset int64, buf []byte) error {
	if a.readOnly {
		return werr.ErrIo.WithCauseErrMsg("archive is read-only")
	}
	if _, err := a.file.WriteAt(buf, offset); err != nil {
		return werr.ErrIo.WithCauseErr(err)
	}
	return nil
}

func (a *Archive) fullBlockSize() int32 {
	return block.HeaderSize + a.blockSize
}

// readBlock reads and decodes the header and raw payload of the block at
// offset.
func (a *Archive) readBlock(offset int64) (block.Header, []byte, error) {
	buf, err := a.readRaw(offset, a.fullBlockSize())
	if err != nil {
		return block.Header{}, nil, err
	}
	return block.DecodeBlock(buf, a.blockSize)
}

func (a *Archive) writeBlock(offset int64, header block.Header, payload []byte) error {
	return a.writeRaw(offset, block.EncodeBlock(header, payload))
}

// Sync issues a host-OS fsync on the underlying descriptor.
func (a *Archive) Sync() error {
	if a.readOnly {
		return nil
	}
	if err := a.file.Sync(); err != nil {
		return werr.ErrIo.WithCauseErr(err)
	}
	return nil
}
