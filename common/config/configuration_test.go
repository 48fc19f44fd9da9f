package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewConfigurationDefaults(t *testing.T) {
	cfg, err := NewConfiguration()
	assert.NoError(t, err)

	assert.Equal(t, int32(1<<14-29), cfg.Archive.BlockSize)
	assert.Equal(t, int64(4<<20), cfg.WriteCache.FlushSize.Int64())
	assert.True(t, cfg.WriteCache.AsyncEnabled)
	assert.Equal(t, 8, cfg.WriteCache.MaxFlushWorkers)
	assert.Equal(t, 1, cfg.WriteCache.MaxRetry)
	assert.Equal(t, 10, cfg.Sample.TimeStampInterval.Seconds())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "pvfs", cfg.Metrics.Namespace)
}

func TestNewConfigurationOverlay(t *testing.T) {
	content := `archive:
  blockSize: 65507
writeCache:
  flushSize: 8MB
  asyncEnabled: false
  maxFlushWorkers: 2
sample:
  timeStampIntervalSeconds: 30
log:
  level: debug
  format: json
metrics:
  namespace: custom`

	f, err := os.CreateTemp("", "custom_*.yaml")
	assert.NoError(t, err)
	defer os.Remove(f.Name())
	_, err = f.WriteString(content)
	assert.NoError(t, err)
	assert.NoError(t, f.Close())

	cfg, err := NewConfiguration(f.Name())
	assert.NoError(t, err)

	assert.Equal(t, int32(65507), cfg.Archive.BlockSize)
	assert.Equal(t, int64(8<<20), cfg.WriteCache.FlushSize.Int64())
	assert.False(t, cfg.WriteCache.AsyncEnabled)
	assert.Equal(t, 2, cfg.WriteCache.MaxFlushWorkers)
	assert.Equal(t, 30, cfg.Sample.TimeStampInterval.Seconds())
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "custom", cfg.Metrics.Namespace)
}

func TestNewConfigurationMissingFile(t *testing.T) {
	_, err := NewConfiguration("/nonexistent/path.yaml")
	assert.Error(t, err)
}

func TestNewConfigurationLayering(t *testing.T) {
	base, err := os.CreateTemp("", "base_*.yaml")
	assert.NoError(t, err)
	defer os.Remove(base.Name())
	_, err = base.WriteString("sample:\n  timeStampIntervalSeconds: 5\n")
	assert.NoError(t, err)
	assert.NoError(t, base.Close())

	overlay, err := os.CreateTemp("", "overlay_*.yaml")
	assert.NoError(t, err)
	defer os.Remove(overlay.Name())
	_, err = overlay.WriteString("log:\n  level: warn\n")
	assert.NoError(t, err)
	assert.NoError(t, overlay.Close())

	cfg, err := NewConfiguration(base.Name(), overlay.Name())
	assert.NoError(t, err)
	assert.Equal(t, 5, cfg.Sample.TimeStampInterval.Seconds())
	assert.Equal(t, "warn", cfg.Log.Level)
}
