// Package config defines the YAML-driven Configuration surface, layered
// over built-in defaults the way the teacher's configuration.go does.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// ArchiveConfig controls block-level layout of the host file.
type ArchiveConfig struct {
	BlockSize int32 `yaml:"blockSize"`
}

// WriteCacheConfig controls the double-buffered async write cache shared
// by the sample store's index and data streams.
type WriteCacheConfig struct {
	FlushSize       ByteSize `yaml:"flushSize"`
	AsyncEnabled    bool     `yaml:"asyncEnabled"`
	MaxFlushWorkers int      `yaml:"maxFlushWorkers"`
	MaxRetry        int      `yaml:"maxRetry"`
}

// SampleConfig controls the indexed sample store.
type SampleConfig struct {
	TimeStampInterval DurationSeconds `yaml:"timeStampIntervalSeconds"`
}

// LogConfig stores the log configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig stores the Prometheus metrics configuration.
type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
}

// Configuration is the complete, layered configuration for the archive VFS
// and sample store.
type Configuration struct {
	Archive    ArchiveConfig    `yaml:"archive"`
	WriteCache WriteCacheConfig `yaml:"writeCache"`
	Sample     SampleConfig     `yaml:"sample"`
	Log        LogConfig        `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// NewConfiguration builds a Configuration from built-in defaults, then
// layers each YAML file over it in order.
func NewConfiguration(files ...string) (*Configuration, error) {
	cfg := &Configuration{
		Archive:    getDefaultArchiveConfig(),
		WriteCache: getDefaultWriteCacheConfig(),
		Sample:     getDefaultSampleConfig(),
		Log:        getDefaultLogConfig(),
		Metrics:    getDefaultMetricsConfig(),
	}
	if len(files) == 0 {
		return cfg, nil
	}

	for _, filePath := range files {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			continue
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func getDefaultArchiveConfig() ArchiveConfig {
	return ArchiveConfig{
		BlockSize: 1<<14 - 29,
	}
}

func getDefaultWriteCacheConfig() WriteCacheConfig {
	return WriteCacheConfig{
		FlushSize:       NewByteSize(4 << 20),
		AsyncEnabled:    true,
		MaxFlushWorkers: 8,
		MaxRetry:        1,
	}
}

func getDefaultSampleConfig() SampleConfig {
	return SampleConfig{
		TimeStampInterval: NewDurationSecondsFromInt(10),
	}
}

func getDefaultLogConfig() LogConfig {
	return LogConfig{
		Level:  "info",
		Format: "console",
	}
}

func getDefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "pvfs",
	}
}
