// Package logger provides the process-wide structured logger, built on
// zap and resolved per-call through a context.Context like the teacher's
// Ctx(ctx) pattern.
package logger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/archvfs/pvfs/common/config"
)

var (
	_globalLevelLogger sync.Map
	_globalLogger       atomic.Value
	initLogOnce         sync.Once
)

func init() {
	levels := []string{"debug", "info", "warn", "error"}
	for _, level := range levels {
		levelLogger, err := newLogger("console", level)
		if err != nil {
			continue
		}
		_globalLevelLogger.Store(level, levelLogger)
	}
}

// InitLogger builds the process-wide default logger from cfg. Safe to call
// more than once; only the first call takes effect.
func InitLogger(cfg *config.Configuration) {
	initLogOnce.Do(func() {
		logLevel := cfg.Log.Level
		if len(logLevel) == 0 {
			logLevel = "info"
		}
		format := cfg.Log.Format
		if len(format) == 0 {
			format = "console"
		}
		l, err := newLogger(format, logLevel)
		if err != nil {
			l, _ = newLogger("console", "info")
		}
		_globalLogger.Store(l)
	})
}

func debugLogger() *zap.Logger {
	v, _ := _globalLevelLogger.Load("debug")
	return v.(*zap.Logger)
}

func warnLogger() *zap.Logger {
	v, _ := _globalLevelLogger.Load("warn")
	return v.(*zap.Logger)
}

// Ctx resolves the logger to use for ctx: an explicitly attached logger
// first, then a level override, then the process-wide default, falling
// back to a bare warn-level logger before InitLogger has ever run.
func Ctx(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return debugLogger()
	}
	if logger := ctx.Value(loggerKey); logger != nil {
		return logger.(*zap.Logger)
	}
	if level := ctx.Value(levelKey); level != nil {
		if l, ok := _globalLevelLogger.Load(level); ok {
			return l.(*zap.Logger)
		}
	}
	if l := _globalLogger.Load(); l != nil {
		return l.(*zap.Logger)
	}
	return warnLogger()
}

type ctxKey string

const (
	loggerKey ctxKey = "__Logger__"
	levelKey  ctxKey = "__LogLevel__"
)

// WithLogger attaches logger to ctx so Ctx(ctx) returns it directly.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

func newLogger(format string, level string) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return nil, fmt.Errorf("invalid log level: %s", level)
	}

	if format == "json" {
		cfg.Encoding = "json"
	} else {
		cfg.Encoding = "console"
	}

	cfg.EncoderConfig.EncodeTime = customTimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	cfg.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder

	return cfg.Build()
}

func customTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006/01/02 15:04:05.000 -07:00"))
}
