// Package logging builds the zap loggers used across GraphGenie.
//
// The terminal core writes console or JSON output at the configured level.
// When a file is configured, a second JSON core is teed in and written through
// a lumberjack rotating writer.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/orneryd/graphgenie/pkg/config"
)

var (
	global atomic.Pointer[zap.Logger]
	once   sync.Once
)

// New builds a logger writing to out and, if cfg.File is set, to a rotating
// JSON file.
func New(cfg config.LoggingConfig, out io.Writer) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(encoder(cfg.Format), zapcore.Lock(zapcore.AddSync(out)), level),
	}
	if cfg.File != "" {
		cores = append(cores, zapcore.NewCore(encoder("json"), zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddStacktrace(zap.ErrorLevel)), nil
}

func encoder(format string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	if format == "console" {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(ec)
	}
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewJSONEncoder(ec)
}

// Initialize builds the process logger on stderr once. Later calls are no-ops.
func Initialize(cfg config.LoggingConfig) error {
	var err error
	once.Do(func() {
		var l *zap.Logger
		l, err = New(cfg, os.Stderr)
		if err != nil {
			return
		}
		l = l.Named("graphgenie")
		global.Store(l)
		zap.ReplaceGlobals(l)
	})
	return err
}

// Get returns the process logger, or a no-op logger before Initialize.
func Get() *zap.Logger {
	if l := global.Load(); l != nil {
		return l
	}
	return zap.NewNop()
}

// Sync flushes buffered entries.
func Sync() {
	if l := global.Load(); l != nil {
		// stderr sync fails on some terminals
		_ = l.Sync()
	}
}
