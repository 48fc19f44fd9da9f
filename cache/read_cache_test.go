package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadCacheRefillsAcrossBoundary(t *testing.T) {
	a, h := newTestHandle(t)
	defer a.Close()
	defer h.Close()

	var payload []byte
	for i := 0; i < 500; i++ {
		payload = append(payload, byte(i))
	}
	_, err := h.Write(payload)
	assert.NoError(t, err)
	assert.NoError(t, h.Flush(false))

	rc := NewReadCache(h, 64)
	out := make([]byte, 8)

	n, err := rc.ReadItem(0, 8, out)
	assert.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, payload[0:8], out)

	// Offset well outside the first refill forces a second refill.
	n, err = rc.ReadItem(300, 8, out)
	assert.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, payload[300:308], out)

	// Re-reading the first offset after the cache has moved on refills
	// again rather than returning stale data.
	n, err = rc.ReadItem(0, 8, out)
	assert.NoError(t, err)
	assert.Equal(t, payload[0:8], out)
}

func TestReadCacheMultipleAndShortRead(t *testing.T) {
	a, h := newTestHandle(t)
	defer a.Close()
	defer h.Close()

	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	_, err := h.Write(payload)
	assert.NoError(t, err)
	assert.NoError(t, h.Flush(false))

	rc := NewReadCache(h, 64)
	out := make([]byte, 10)
	n, err := rc.ReadMultiple(0, 2, 5, out)
	assert.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, payload, out)

	short := make([]byte, 4)
	n, err = rc.ReadItem(8, 4, short)
	assert.Error(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, payload[8:10], short[:2])
}
