package logging

import (
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options controls where and how much is logged.
type Options struct {
	// Path of the JSON log file. Parent directories are created.
	Path string
	// Session name attached to every entry.
	Session string
	// Console receives human-readable output; nil disables it. The TUI
	// passes nil so log lines do not tear the screen.
	Console io.Writer
	// Debug lowers the level from Info to Debug.
	Debug bool
}

// New creates a zap logger that writes JSON to the log file and, optionally,
// console-encoded lines to opts.Console. Session name and PID are included as
// initial fields.
func New(opts Options) (*zap.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0700); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}

	level := zapcore.InfoLevel
	if opts.Debug {
		level = zapcore.DebugLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(file), level),
	}
	if opts.Console != nil {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.AddSync(opts.Console), level))
	}

	logger := zap.New(zapcore.NewTee(cores...),
		zap.Fields(
			zap.String("session", opts.Session),
			zap.Int("pid", os.Getpid()),
		),
	)

	return logger, nil
}
