// ABOUTME: zap logger construction for the talker binaries
// ABOUTME: Writes to a log file, optionally teed to stdout
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects where and how much to log
type Options struct {
	// Level is a zap level name; "info" when empty
	Level string
	// File is appended to when set
	File string
	// Console also writes to stdout
	Console bool
}

// New builds a logger and returns a func that flushes and closes its outputs
func New(opts Options) (*zap.Logger, func() error, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		var err error
		level, err = zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("bad log level: %w", err)
		}
	}

	var sinks []zapcore.WriteSyncer
	var file *os.File
	if opts.File != "" {
		var err error
		file, err = os.OpenFile(opts.File, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return nil, nil, fmt.Errorf("error opening log file: %w", err)
		}
		sinks = append(sinks, zapcore.AddSync(file))
	}
	if opts.Console {
		sinks = append(sinks, zapcore.Lock(os.Stdout))
	}
	if len(sinks) == 0 {
		return zap.NewNop(), func() error { return nil }, nil
	}

	encoderCfg := zap.NewDevelopmentEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.NewMultiWriteSyncer(sinks...),
		level,
	)
	logger := zap.New(core)

	closer := func() error {
		_ = logger.Sync()
		if file != nil {
			return file.Close()
		}
		return nil
	}
	return logger, closer, nil
}
