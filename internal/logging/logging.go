// Package logging builds the process zap logger.
package logging

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures New.
type Options struct {
	// Level is debug, info, warn or error. Empty means info.
	Level string

	// Format is json or console. Empty means console.
	Format string

	// File, when set, sends output to a rotating log file instead of Writer.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// Writer receives output when File is empty. Defaults to stderr.
	Writer io.Writer
}

// New returns a logger for opts.
func New(opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		l, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		level = l
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	switch opts.Format {
	case "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	case "", "console":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, fmt.Errorf("log format %q: must be json or console", opts.Format)
	}

	return zap.New(zapcore.NewCore(enc, sink(opts), level)), nil
}

func sink(opts Options) zapcore.WriteSyncer {
	if opts.File != "" {
		return zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 10),
			MaxBackups: orDefault(opts.MaxBackups, 3),
			MaxAge:     orDefault(opts.MaxAgeDays, 28),
		})
	}
	if opts.Writer != nil {
		return zapcore.AddSync(opts.Writer)
	}
	return zapcore.Lock(os.Stderr)
}

func orDefault(v, d int) int {
	if v > 0 {
		return v
	}
	return d
}
