package sample

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/archvfs/pvfs/cache"
	"github.com/archvfs/pvfs/common/config"
	"github.com/archvfs/pvfs/vfs"
)

func newTestStore(t *testing.T, datarate float32) (*vfs.Archive, *Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.vfs")
	a, err := vfs.Create(path, 1<<16)
	assert.NoError(t, err)

	pool, err := cache.NewFlushPool(4)
	assert.NoError(t, err)
	t.Cleanup(pool.Release)

	wcCfg := config.WriteCacheConfig{FlushSize: config.NewByteSize(4096), AsyncEnabled: false, MaxRetry: 1}
	sampleCfg := config.SampleConfig{TimeStampInterval: config.NewDurationSecondsFromInt(10)}

	s, err := Create(a, "temperature", datarate, sampleCfg, wcCfg, pool)
	assert.NoError(t, err)
	return a, s
}

// TestAppendAndGetDataMonotonic covers testable property 8: 500 samples
// at 1kHz read back as a strictly monotonic series with one time per
// sample, each sample roughly equal to its index.
func TestAppendAndGetDataMonotonic(t *testing.T) {
	const datarate = 1000.0
	const n = 500
	a, s := newTestStore(t, datarate)
	defer a.Close()

	for k := 0; k < n; k++ {
		tk := NewTime(float64(k) / datarate)
		assert.NoError(t, s.Append(tk, float64(k), false))
	}
	assert.NoError(t, s.Close())

	rt, err := Open(a, "temperature", config.WriteCacheConfig{FlushSize: config.NewByteSize(4096), AsyncEnabled: false}, nil)
	assert.NoError(t, err)
	defer rt.Close()

	times, samples, err := rt.GetData(NewTime(0), NewTime(float64(n-1)/datarate), AllPoints)
	assert.NoError(t, err)
	assert.True(t, len(samples) > 0)
	assert.True(t, len(times) == len(samples))

	for i := 1; i < len(samples); i++ {
		assert.True(t, times[i] > times[i-1], "times must be strictly increasing")
	}
	for i, v := range samples {
		assert.InDelta(t, float64(i), float64(v), 0.5, "sample %d should roughly equal its index", i)
	}
}

// TestAppendGapInsertsBoundaryNaN covers testable property 9: a forward
// jump larger than two sample periods inserts exactly one boundary NaN
// record ahead of the resumed real sample.
func TestAppendGapInsertsBoundaryNaN(t *testing.T) {
	const datarate = 1000.0
	a, s := newTestStore(t, datarate)
	defer a.Close()

	base := NewTime(0)
	assert.NoError(t, s.Append(base, 1.0, false))
	jumped := base.Add(5)
	assert.NoError(t, s.Append(jumped, 2.0, false))

	assert.True(t, s.dataFileIndex > 0)
	assert.Len(t, s.index, 0) // Index is only built by scanIndex on Open
	assert.NoError(t, s.Close())

	rt, err := Open(a, "temperature", config.WriteCacheConfig{FlushSize: config.NewByteSize(4096), AsyncEnabled: false}, nil)
	assert.NoError(t, err)
	defer rt.Close()

	// Windows: [base,boundary), [boundary,jumped), [jumped,close-NaN]
	assert.True(t, len(rt.index) >= 3, "expected at least 3 index windows, got %d", len(rt.index))

	assert.True(t, rt.Start(base))
	foundNaN := false
	for {
		_, end, samples, ok, err := rt.GetNextChunk()
		assert.NoError(t, err)
		if !ok {
			break
		}
		for _, v := range samples {
			if math.IsNaN(float64(v)) {
				foundNaN = true
			}
		}
		if end.Sub(base) > 10 {
			break
		}
	}
	assert.True(t, foundNaN, "expected a boundary NaN sample for the forward jump")
}

func TestAppendDropsOutOfOrder(t *testing.T) {
	const datarate = 1000.0
	a, s := newTestStore(t, datarate)
	defer a.Close()

	assert.NoError(t, s.Append(NewTime(1), 1.0, false))
	before := s.previousTime
	assert.NoError(t, s.Append(NewTime(0.5), 99.0, false))
	assert.Equal(t, before, s.previousTime, "out-of-order append must be dropped, not change state")
}
