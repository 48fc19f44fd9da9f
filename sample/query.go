package sample

import (
	"encoding/binary"
	"math"

	"github.com/archvfs/pvfs/common/werr"
)

// Find performs a binary search over the in-memory Index for the window
// containing t, positioning the sequential-read cursor at that window.
// Returns the window's own index-file location, or -1 if t falls outside
// every window (including when the store holds no data at all).
func (s *Store) Find(t Time) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findLocked(t)
}

func (s *Store) findLocked(t Time) int64 {
	if len(s.index) == 0 {
		return -1
	}
	first, last := s.index[0], s.index[len(s.index)-1]
	if t.Less(first.StartTime) || last.EndTime.Less(t) {
		return -1
	}
	lo, hi := 0, len(s.index)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		e := s.index[mid]
		if t.IsBetween(e.StartTime, e.EndTime) {
			s.currentIndex = mid
			return e.MyLocation
		}
		if t.Less(e.StartTime) {
			hi = mid - 1
		} else {
			lo = mid + 1
		}
	}
	return -1
}

// nextTimeStampEntry pulls the next window from Index in sequential
// traversal order, advancing the cursor.
func (s *Store) nextTimeStampEntry() (IndexEntry, bool) {
	if s.seqEntryIndex >= len(s.index) {
		return IndexEntry{}, false
	}
	e := s.index[s.seqEntryIndex]
	s.seqEntryIndex++
	return e, true
}

// startNextSequence advances the sequential cursor to the next window,
// computing how many samples it holds and the per-sample time delta, per
// spec.md §4.H's "Sequential traversal" description.
func (s *Store) startNextSequence() bool {
	e, ok := s.nextTimeStampEntry()
	if !ok {
		return false
	}
	chunkOverhead := int64(chunkHeaderSize + chunkTrailerSize)
	if e.DataLocation > chunkOverhead+s.nextTimeStampIndex {
		s.numPointsInSequence = int((e.DataLocation - s.nextTimeStampIndex - chunkOverhead) / 4)
	} else {
		s.numPointsInSequence = 0
	}
	s.curPointInSequence = 0
	if s.numPointsInSequence > 0 {
		s.sequenceDeltaTime = e.StartTime.Sub(s.nextTimeStampTime) / float64(s.numPointsInSequence)
	} else {
		s.sequenceDeltaTime = 0
	}
	s.curTimeInSequence = s.nextTimeStampTime
	s.dataFileSequenceIndex = s.nextTimeStampIndex + int64(chunkHeaderSize)
	s.nextTimeStampTime = e.StartTime
	s.nextTimeStampIndex = e.DataLocation
	return true
}

// Start positions the sequential cursor at the window containing t, then
// fast-forwards within that window's samples to the first one at or
// after t.
func (s *Store) Start(t Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(t)
}

func (s *Store) startLocked(t Time) bool {
	if s.findLocked(t) == -1 {
		return false
	}
	s.seqEntryIndex = s.currentIndex
	e, ok := s.nextTimeStampEntry()
	if !ok {
		return false
	}
	s.nextTimeStampTime = e.StartTime
	s.nextTimeStampIndex = e.DataLocation
	if !s.startNextSequence() {
		return false
	}
	if s.numPointsInSequence > 0 && s.curTimeInSequence.Less(t) {
		offset := int(math.Ceil(t.Sub(s.curTimeInSequence) / s.sequenceDeltaTime))
		s.curPointInSequence = offset
		s.curTimeInSequence = s.curTimeInSequence.Add(s.sequenceDeltaTime * float64(offset))
		s.dataFileSequenceIndex += int64(offset) * 4
	}
	return true
}

// GetNextPoint returns the next single sample in sequential order,
// advancing the cursor. ok is false once traversal runs out of windows.
func (s *Store) GetNextPoint() (t Time, v float32, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.curPointInSequence >= s.numPointsInSequence {
		if !s.startNextSequence() {
			return Time{}, 0, false, nil
		}
	}
	s.curPointInSequence++

	buf := make([]byte, 4)
	n, rerr := s.dataRead.ReadItem(s.dataFileSequenceIndex, 4, buf)
	if rerr != nil && n < 4 {
		return Time{}, 0, false, rerr
	}
	v = math.Float32frombits(binary.LittleEndian.Uint32(buf))
	t = s.curTimeInSequence
	s.curTimeInSequence = s.curTimeInSequence.Add(s.sequenceDeltaTime)
	s.dataFileSequenceIndex += 4
	return t, v, true, nil
}

// GetNextChunk reads every remaining sample of the current window as one
// flat vector, then advances to the next window.
func (s *Store) GetNextChunk() (start, end Time, samples []float32, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextChunkLocked()
}

func (s *Store) nextChunkLocked() (Time, Time, []float32, bool, error) {
	if s.curPointInSequence >= s.numPointsInSequence {
		if !s.startNextSequence() {
			return Time{}, Time{}, nil, false, nil
		}
	}

	numPoints := s.numPointsInSequence - s.curPointInSequence
	raw := make([]byte, numPoints*4)
	n, err := s.dataRead.ReadMultiple(s.dataFileSequenceIndex, 4, numPoints, raw)
	if err != nil && n < len(raw) {
		return Time{}, Time{}, nil, false, err
	}

	samples := make([]float32, numPoints)
	for i := 0; i < numPoints; i++ {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}

	start := s.curTimeInSequence
	end := start
	if numPoints > 1 {
		end = start.Add(s.sequenceDeltaTime * float64(numPoints-1))
	}
	s.curPointInSequence = s.numPointsInSequence
	return start, end, samples, true, nil
}

// GetData returns a decimated range read: times relative to the clamped
// start of [start, end], paired with their samples. Unless maxPoints is
// AllPoints, samples are strided by round(span*datarate/maxPoints) (at
// least 1), which gives about maxPoints entries; rounding of the stride
// and emitted single-point chunks can make it a few more.
func (s *Store) GetData(start, end Time, maxPoints int) ([]float64, []float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if end.Less(start) {
		return nil, nil, werr.ErrArgNull.WithCauseErrMsg("start must not be after end")
	}
	if len(s.index) == 0 {
		return nil, nil, werr.ErrArgNull.WithCauseErrMsg("store has no data")
	}
	if maxPoints == 0 {
		return nil, nil, werr.ErrArgNull.WithCauseErrMsg("max_points must not be zero")
	}

	fileStart, fileEnd := s.index[0].StartTime, s.index[len(s.index)-1].EndTime
	if fileEnd.Less(start) || end.Less(fileStart) {
		return nil, nil, werr.ErrArgNull.WithCauseErrMsg("requested range does not overlap the store")
	}

	actualStart, actualEnd := start, end
	if actualStart.Less(fileStart) {
		actualStart = fileStart
	}
	if fileEnd.Less(actualEnd) {
		actualEnd = fileEnd
	}

	di := 1.0
	if maxPoints != AllPoints {
		span := actualEnd.Sub(actualStart)
		want := span * s.datarate / float64(maxPoints)
		if want >= 1 {
			di = math.Floor(want + 0.5)
		}
	}
	idi := int(di)
	if idi < 1 {
		idi = 1
	}

	if !s.startLocked(actualStart) {
		return nil, nil, werr.ErrArgNull.WithCauseErrMsg("could not position to start time")
	}

	chunkStart, chunkEnd, samples, ok, err := s.nextChunkLocked()
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, werr.ErrArgNull.WithCauseErrMsg("no data at start time")
	}

	var tOut []float64
	var yOut []float32
	singlePointRun := 0
	endRelative := actualEnd.Sub(actualStart)

	for chunkStart.Less(actualEnd) {
		chunkSize := len(samples)
		var dt float64
		if chunkSize > 1 {
			dt = chunkEnd.Sub(chunkStart) / float64(chunkSize-1) * di
		} else {
			singlePointRun++
			if singlePointRun < idi {
				chunkStart, chunkEnd, samples, ok, err = s.nextChunkLocked()
				if err != nil {
					return nil, nil, err
				}
				if !ok {
					break
				}
				continue
			}
			singlePointRun = 0
		}

		curTime := chunkStart.Sub(actualStart)
		for i := 0; i < chunkSize; i += idi {
			if curTime >= endRelative {
				break
			}
			tOut = append(tOut, curTime)
			yOut = append(yOut, samples[i])
			curTime += dt
		}

		chunkStart, chunkEnd, samples, ok, err = s.nextChunkLocked()
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			break
		}
	}
	return tOut, yOut, nil
}
