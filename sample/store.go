// Package sample implements the indexed time-series sample store layered
// on top of two inner files of an archive: <channel>.index and
// <channel>.idat.
package sample

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/archvfs/pvfs/cache"
	"github.com/archvfs/pvfs/checksum"
	"github.com/archvfs/pvfs/common/config"
	"github.com/archvfs/pvfs/common/logger"
	"github.com/archvfs/pvfs/common/metrics"
	"github.com/archvfs/pvfs/common/werr"
	"github.com/archvfs/pvfs/vfs"
)

// AllPoints tells GetData to apply no decimation.
const AllPoints = -1

// IndexEntry is one window of the in-memory index built by scanning the
// index file: StartTime/EndTime bound the window, MyLocation is the
// window's own record offset in the index file, DataLocation is the
// offset in the data file where the window's chunk begins.
type IndexEntry struct {
	StartTime    Time
	EndTime      Time
	MyLocation   int64
	DataLocation int64
}

// Store is one channel's indexed sample store: an append-only data file
// of CRC-guarded chunks, fronted by an index file of time-stamped
// pointers into it, plus an in-memory Index built by scanning the index
// file on open.
type Store struct {
	mu sync.Mutex

	name string

	indexHandle *vfs.Handle
	dataHandle  *vfs.Handle
	indexWrite  *cache.WriteCache
	dataWrite   *cache.WriteCache
	indexRead   *cache.ReadCache
	dataRead    *cache.ReadCache

	header    indexHeader
	datarate  float64
	interval  float64
	deltaTime float64

	index        []IndexEntry
	currentIndex int

	previousTime  Time
	previousNaN   bool
	needsFirst    bool
	startTimeSet  bool
	dataFileIndex int64
	dataChunkCRC  *checksum.CRC32
	nextTimeStamp Time
	blockLog      bool
	modified      bool

	// sequential traversal cursor (Start/GetNextChunk/GetNextPoint)
	seqEntryIndex         int
	curTimeInSequence     Time
	dataFileSequenceIndex int64
	numPointsInSequence   int
	curPointInSequence    int
	sequenceDeltaTime     float64
	nextTimeStampTime     Time
	nextTimeStampIndex    int64

	// updateChannelEndTime is the annotation collaborator's hook
	// (update_channel_end_time); the annotation store itself is out of
	// scope, so this module never assigns or invokes it.
	updateChannelEndTime func(name string, t Time)
}

// Create allocates a brand-new channel (<name>.index and <name>.idat
// inner files) inside a.
func Create(a *vfs.Archive, name string, datarate float32, sampleCfg config.SampleConfig, wcCfg config.WriteCacheConfig, pool *ants.Pool) (*Store, error) {
	indexHandle, err := a.CreateInner(name + ".index")
	if err != nil {
		return nil, err
	}
	dataHandle, err := a.CreateInner(name + ".idat")
	if err != nil {
		return nil, err
	}

	hdr := defaultIndexHeader()
	hdr.DataRate = datarate
	if seconds := sampleCfg.TimeStampInterval.Seconds(); seconds != 0 {
		hdr.Interval = uint32(seconds)
	}

	if _, err := indexHandle.Write(hdr.encode()); err != nil {
		return nil, err
	}
	if err := indexHandle.Flush(false); err != nil {
		return nil, err
	}

	s := newStore(name, indexHandle, dataHandle, hdr, wcCfg, pool, a.BlockSize())
	s.needsFirst = true
	return s, nil
}

// Open reopens an existing channel, rebuilding the in-memory Index by
// scanning the index file.
func Open(a *vfs.Archive, name string, wcCfg config.WriteCacheConfig, pool *ants.Pool) (*Store, error) {
	indexHandle, err := a.OpenInner(name + ".index")
	if err != nil {
		return nil, err
	}
	dataHandle, err := a.OpenInner(name + ".idat")
	if err != nil {
		return nil, err
	}

	hdrBuf := make([]byte, indexHeaderSize)
	if _, err := indexHandle.Read(hdrBuf); err != nil {
		return nil, err
	}
	hdr, err := decodeIndexHeader(hdrBuf)
	if err != nil {
		return nil, err
	}

	s := newStore(name, indexHandle, dataHandle, hdr, wcCfg, pool, a.BlockSize())
	if err := s.scanIndex(); err != nil {
		return nil, err
	}
	s.previousTime = hdr.End
	s.nextTimeStamp = hdr.End.Add(s.interval)
	s.startTimeSet = len(s.index) > 0
	s.dataFileIndex = dataHandle.Size()
	return s, nil
}

func newStore(name string, indexHandle, dataHandle *vfs.Handle, hdr indexHeader, wcCfg config.WriteCacheConfig, pool *ants.Pool, blockSize int32) *Store {
	return &Store{
		name:         name,
		indexHandle:  indexHandle,
		dataHandle:   dataHandle,
		indexWrite:   cache.NewWriteCache(indexHandle, wcCfg, pool),
		dataWrite:    cache.NewWriteCache(dataHandle, wcCfg, pool),
		indexRead:    cache.NewReadCache(indexHandle, blockSize),
		dataRead:     cache.NewReadCache(dataHandle, blockSize),
		header:       hdr,
		datarate:     float64(hdr.DataRate),
		interval:     float64(hdr.Interval),
		deltaTime:    1 / float64(hdr.DataRate),
		dataChunkCRC: checksum.New(),
	}
}

// scanIndex rebuilds s.index by reading every record in the index file.
// A CRC mismatch or short marker stops the scan at the last known-good
// record (spec.md §7's recovery policy); the file itself is not rewritten.
func (s *Store) scanIndex() error {
	if err := s.indexHandle.Seek(indexHeaderSize); err != nil {
		return err
	}
	var records []indexRecord
	for {
		buf := make([]byte, indexRecordSize)
		n, err := s.indexHandle.Read(buf)
		if err == werr.ErrEof || n < indexRecordSize {
			break
		}
		if err != nil {
			return err
		}
		rec, err := decodeIndexRecordBytes(buf)
		if err != nil {
			metrics.CRCMismatchTotal.Inc()
			logger.Ctx(context.Background()).Warn("sample store index scan stopped at corrupt record",
				zap.String("channel", s.name), zap.Error(err))
			break
		}
		records = append(records, rec)
	}

	s.index = make([]IndexEntry, len(records))
	for i, rec := range records {
		end := s.header.End
		if i+1 < len(records) {
			end = records[i+1].Time
		}
		s.index[i] = IndexEntry{
			StartTime:    rec.Time,
			EndTime:      end,
			MyLocation:   indexHeaderSize + int64(i)*indexRecordSize,
			DataLocation: rec.DataOffset,
		}
	}
	return nil
}

func decodeIndexRecordBytes(buf []byte) (indexRecord, error) {
	return decodeIndexRecord(bytes.NewReader(buf))
}

// Append drives the append state machine (spec.md §4.H): out-of-order
// timestamps are dropped, NaN gaps get a boundary time-stamp, and large
// forward jumps get an inserted NaN before the real sample.
func (s *Store) Append(t Time, v float64, consolidate bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(t, v, consolidate)
}

// pidSettlingTimeSeconds mirrors the upstream PID_SETTLING_TIME constant,
// which is always 0 — the branch that once used it collapses to
// needsFirst alone, kept here only so the condition still reads the way
// the original did.
const pidSettlingTimeSeconds = 0

func (s *Store) appendLocked(t Time, v float64, consolidate bool) error {
	if t.Less(s.previousTime) {
		metrics.SampleAppendsDroppedTotal.Inc()
		return nil
	}

	data := float32(v)

	switch {
	case s.needsFirst || t.Sub(s.header.Start) < pidSettlingTimeSeconds:
		if err := s.writeTimeStampAndData(t, data); err != nil {
			return err
		}
		s.needsFirst = false

	case math.IsNaN(v) && !consolidate:
		if !s.previousNaN {
			s.previousNaN = true
			if !s.blockLog {
				logger.Ctx(context.Background()).Error("sample store append: writing a NaN",
					zap.String("channel", s.name), zap.Int64("seconds", t.Seconds))
			}
			boundary := s.previousTime.Add(s.deltaTime)
			if boundary.Less(t) {
				if err := s.writeTimeStampAndData(boundary, float32(math.NaN())); err != nil {
					return err
				}
			}
			if err := s.writeTimeStampAndData(t, float32(math.NaN())); err != nil {
				return err
			}
		}
		// previousNaN already true: consecutive NaNs need only one
		// boundary stamp, so this one is dropped.

	default:
		if !consolidate && t.Sub(s.previousTime) > 2*s.deltaTime {
			if !s.blockLog {
				logger.Ctx(context.Background()).Error("sample store append: gap exceeds two sample periods, writing a NaN",
					zap.String("channel", s.name), zap.Int64("seconds", t.Seconds))
			}
			if err := s.writeTimeStampAndData(s.previousTime.Add(s.deltaTime), float32(math.NaN())); err != nil {
				return err
			}
			if err := s.writeTimeStampAndData(t, data); err != nil {
				return err
			}
		} else if s.previousNaN || !t.Less(s.nextTimeStamp) {
			if err := s.writeTimeStampAndData(t, data); err != nil {
				return err
			}
		} else {
			if err := s.writeSample(data); err != nil {
				return err
			}
		}
		s.previousNaN = false
	}

	s.previousTime = t
	s.modified = true
	metrics.SampleAppendsTotal.Inc()
	return nil
}

// writeTimeStampAndData finalizes the previous chunk's CRC, writes an
// index record pointing at the data file's current write offset, and
// opens a new data chunk starting with v.
func (s *Store) writeTimeStampAndData(t Time, v float32) error {
	if s.dataFileIndex > 0 {
		if err := s.closeChunkCRC(); err != nil {
			return err
		}
	}

	flush := s.indexWrite.SpaceBeforeFlush() < indexRecordSize

	rec := indexRecord{Time: t, DataOffset: s.dataFileIndex}
	if err := s.indexWrite.Write(append(marker(), rec.encode()...)); err != nil {
		return err
	}

	if flush {
		if err := ignoreWouldBlock(s.dataWrite.WriteCacheToFile()); err != nil {
			return err
		}
		if err := ignoreWouldBlock(s.indexWrite.WriteCacheToFile()); err != nil {
			return err
		}
		s.dataWrite.Wait()
	}

	if !s.startTimeSet {
		s.startTimeSet = true
		s.header.Start = t
	}
	s.header.End = t
	s.previousTime = t
	s.nextTimeStamp = t.Add(s.interval)

	hdr := chunkHeader{Time: t}
	if err := s.appendDataBytes(append(marker(), hdr.encode()...)); err != nil {
		return err
	}
	s.dataChunkCRC.Reset()
	return s.writeSample(v)
}

func (s *Store) writeSample(v float32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
	s.dataChunkCRC.Append(buf[:])
	return s.appendDataBytes(buf[:])
}

func (s *Store) closeChunkCRC() error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], s.dataChunkCRC.Get())
	return s.appendDataBytes(buf[:])
}

// appendDataBytes writes p to the data cache and advances the running
// data-file offset counter the index records are stamped with.
func (s *Store) appendDataBytes(p []byte) error {
	if err := s.dataWrite.Write(p); err != nil {
		return err
	}
	s.dataFileIndex += int64(len(p))
	return nil
}

func ignoreWouldBlock(err error) error {
	if err != nil && !werr.ErrWouldBlock.Is(err) {
		return err
	}
	return nil
}

// finalizeLocked writes the closing NaN record spec.md §9 requires before
// a modified file is closed, then flushes the now-final chunk's CRC,
// which would otherwise never be written (there is no following chunk
// to trigger it).
func (s *Store) finalizeLocked() error {
	last := s.previousTime.Add(s.deltaTime)
	prevBlockLog := s.blockLog
	s.blockLog = true
	err := s.appendLocked(last, math.NaN(), false)
	s.blockLog = prevBlockLog
	if err != nil {
		return err
	}
	if s.dataFileIndex > 0 {
		return s.closeChunkCRC()
	}
	return nil
}

// Close finalizes a modified store (closing NaN record, final chunk CRC,
// updated header) and flushes both caches before releasing the inner
// file handles.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.modified {
		if err := s.finalizeLocked(); err != nil {
			return err
		}

		var eg errgroup.Group
		eg.Go(func() error { return s.dataWrite.Flush(true) })
		eg.Go(func() error { return s.indexWrite.Flush(true) })
		if err := eg.Wait(); err != nil {
			return err
		}

		if err := s.indexHandle.Seek(0); err != nil {
			return err
		}
		if _, err := s.indexHandle.Write(s.header.encode()); err != nil {
			return err
		}
		if err := s.indexHandle.Flush(true); err != nil {
			return err
		}
	}

	if err := s.indexHandle.Close(); err != nil {
		return err
	}
	return s.dataHandle.Close()
}
