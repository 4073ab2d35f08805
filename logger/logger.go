// Package logger - Process-wide structured logger.
package logger

import (
	"context"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	once   sync.Once
	core   zapcore.Core
	debug  atomic.Bool
	loaded atomic.Bool
)

// SetDebug switches the logger to development encoding with debug output.
//
// It must be called before the first call to GetZapLogger; later calls have no effect
// on an already built core.
//
// Arguments:
//   - enabled: Whether debug logging is enabled.
func SetDebug(enabled bool) {
	if loaded.Load() {
		return
	}
	debug.Store(enabled)
}

// GetZapLogger returns an instance of zap logger.
//
// The underlying core is built once: debug/info entries go to stdout and
// warn/error/fatal entries go to stderr, both JSON encoded.
//
// Arguments:
//   - ctx: The context the logger is requested for.
//
// Returns:
//   - *zap.Logger: The logger.
//   - error: Always nil; kept for call-site symmetry with other constructors.
func GetZapLogger(ctx context.Context) (*zap.Logger, error) {
	once.Do(func() {
		loaded.Store(true)

		// debug and info level enabler
		debugInfoLevel := zap.LevelEnablerFunc(func(level zapcore.Level) bool {
			return level == zapcore.DebugLevel || level == zapcore.InfoLevel
		})

		// info level enabler
		infoLevel := zap.LevelEnablerFunc(func(level zapcore.Level) bool {
			return level == zapcore.InfoLevel
		})

		// warn, error and fatal level enabler
		warnErrorFatalLevel := zap.LevelEnablerFunc(func(level zapcore.Level) bool {
			return level == zapcore.WarnLevel || level == zapcore.ErrorLevel || level == zapcore.FatalLevel
		})

		stdoutSyncer := zapcore.Lock(os.Stdout)
		stderrSyncer := zapcore.Lock(os.Stderr)

		if debug.Load() {
			core = zapcore.NewTee(
				zapcore.NewCore(
					zapcore.NewJSONEncoder(zap.NewDevelopmentEncoderConfig()),
					stdoutSyncer,
					debugInfoLevel,
				),
				zapcore.NewCore(
					zapcore.NewJSONEncoder(zap.NewDevelopmentEncoderConfig()),
					stderrSyncer,
					warnErrorFatalLevel,
				),
			)
		} else {
			core = zapcore.NewTee(
				zapcore.NewCore(
					zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
					stdoutSyncer,
					infoLevel,
				),
				zapcore.NewCore(
					zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
					stderrSyncer,
					warnErrorFatalLevel,
				),
			)
		}
	})

	return zap.New(core), nil
}
