// internal/logging/logging.go
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileName is the JSON log inside the cache directory.
const FileName = "lifelinetty.log"

const (
	maxSizeMB  = 1
	maxBackups = 1
)

type Options struct {
	Level    string // debug | info | warn | error
	CacheDir string // empty: console only
	Console  bool
}

// New builds the daemon logger: human console output on stderr and a
// size-bounded JSON file in the cache directory. The returned func
// flushes and closes the file sink.
func New(opts Options) (*zap.Logger, func(), error) {
	level, err := zapcore.ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("logging: %w", err)
	}

	var cores []zapcore.Core
	if opts.Console {
		enc := zap.NewDevelopmentEncoderConfig()
		enc.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(enc),
			zapcore.Lock(os.Stderr),
			level,
		))
	}

	var rotator *lumberjack.Logger
	if opts.CacheDir != "" {
		if err := os.MkdirAll(opts.CacheDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("logging: cache dir: %w", err)
		}
		rotator = &lumberjack.Logger{
			Filename:   filepath.Join(opts.CacheDir, FileName),
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(rotator),
			level,
		))
	}

	if len(cores) == 0 {
		return zap.NewNop(), func() {}, nil
	}

	log := zap.New(zapcore.NewTee(cores...))
	closeFn := func() {
		_ = log.Sync()
		if rotator != nil {
			_ = rotator.Close()
		}
	}
	return log, closeFn, nil
}
