package sample

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/archvfs/pvfs/cache"
	"github.com/archvfs/pvfs/common/config"
	"github.com/archvfs/pvfs/vfs"
)

// writeFilledStore appends n samples at datarate starting at t=0, closes,
// and reopens the store read-side so its Index has been rebuilt from the
// index file (Index is a scan-on-Open structure, never updated live).
func writeFilledStore(t *testing.T, datarate float64, n int) (*vfs.Archive, *Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.vfs")
	a, err := vfs.Create(path, 1<<16)
	assert.NoError(t, err)

	pool, err := cache.NewFlushPool(4)
	assert.NoError(t, err)
	t.Cleanup(pool.Release)

	wcCfg := config.WriteCacheConfig{FlushSize: config.NewByteSize(4096), AsyncEnabled: false, MaxRetry: 1}
	sampleCfg := config.SampleConfig{TimeStampInterval: config.NewDurationSecondsFromInt(10)}

	s, err := Create(a, "pressure", float32(datarate), sampleCfg, wcCfg, pool)
	assert.NoError(t, err)
	for k := 0; k < n; k++ {
		assert.NoError(t, s.Append(NewTime(float64(k)/datarate), float64(k), false))
	}
	assert.NoError(t, s.Close())

	rt, err := Open(a, "pressure", wcCfg, pool)
	assert.NoError(t, err)
	return a, rt
}

// TestFindBinarySearch covers testable property 11: Find locates the
// window containing a timestamp and returns -1 outside the file's range.
func TestFindBinarySearch(t *testing.T) {
	const datarate = 1000.0
	const n = 2000
	a, rt := writeFilledStore(t, datarate, n)
	defer a.Close()
	defer rt.Close()

	assert.True(t, len(rt.index) > 0)

	mid := rt.index[len(rt.index)/2].StartTime
	assert.NotEqual(t, int64(-1), rt.Find(mid))

	before := rt.index[0].StartTime.Add(-10)
	assert.Equal(t, int64(-1), rt.Find(before))

	after := rt.index[len(rt.index)-1].EndTime.Add(10)
	assert.Equal(t, int64(-1), rt.Find(after))
}

func TestFindEmptyStoreReturnsNegativeOne(t *testing.T) {
	s := &Store{}
	assert.Equal(t, int64(-1), s.Find(NewTime(0)))
}

// TestGetDataDecimation covers testable property 12: with max_points well
// below the raw sample count, GetData returns a decimated series no
// larger than max_points (plus any trailing single-point boundary chunks),
// strided by roughly datarate/max_points samples.
func TestGetDataDecimation(t *testing.T) {
	const datarate = 1000.0
	const n = 1000 // exactly one second of raw samples
	a, rt := writeFilledStore(t, datarate, n)
	defer a.Close()
	defer rt.Close()

	const maxPoints = 100
	times, samples, err := rt.GetData(NewTime(0), NewTime(float64(n-1)/datarate), maxPoints)
	assert.NoError(t, err)
	assert.True(t, len(samples) > 0)
	assert.True(t, len(samples) <= maxPoints+1, "decimated output should be close to max_points, got %d", len(samples))
	assert.Equal(t, len(times), len(samples))

	for i := 1; i < len(samples); i++ {
		assert.True(t, times[i] > times[i-1])
	}
}

func TestGetDataRejectsBadRange(t *testing.T) {
	const datarate = 1000.0
	a, rt := writeFilledStore(t, datarate, 100)
	defer a.Close()
	defer rt.Close()

	_, _, err := rt.GetData(NewTime(1), NewTime(0), AllPoints)
	assert.Error(t, err)

	_, _, err = rt.GetData(NewTime(0), NewTime(0.05), 0)
	assert.Error(t, err)
}
