// Package logging provides categorized structured logging for castlight.
// Every subsystem logs through a named zap logger so log output can be
// filtered per category. Console output goes to stderr; when a log file is
// configured, output is additionally written there with size-based rotation.
package logging

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Category names a logging subsystem.
type Category string

const (
	CategorySync        Category = "sync"
	CategoryStore       Category = "store"
	CategoryReplication Category = "replication"
	CategoryRetrieval   Category = "retrieval"
	CategoryEmbedding   Category = "embedding"
	CategoryBackfill    Category = "backfill"
	CategoryCLI         Category = "cli"
)

// Config controls log output.
type Config struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string `yaml:"level"`
	// File, when set, enables rotated file output alongside stderr.
	File string `yaml:"file"`
	// MaxSizeMB bounds a single log file before rotation. Zero means 100.
	MaxSizeMB int `yaml:"max_size_mb"`
	// MaxBackups bounds retained rotated files. Zero means 3.
	MaxBackups int `yaml:"max_backups"`
	// JSON switches file output to JSON encoding for ingestion tooling.
	JSON bool `yaml:"json"`
}

var (
	mu     sync.RWMutex
	root   *zap.Logger = zap.NewNop()
	cached             = make(map[Category]*zap.Logger)
)

// Initialize builds the process-wide root logger. Safe to call more than
// once; later calls replace the root and invalidate cached category loggers.
func Initialize(cfg Config) error {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(cfg.Level); err != nil {
			return err
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(encCfg),
			zapcore.Lock(os.Stderr),
			level,
		),
	}

	if cfg.File != "" {
		maxSize := cfg.MaxSizeMB
		if maxSize == 0 {
			maxSize = 100
		}
		maxBackups := cfg.MaxBackups
		if maxBackups == 0 {
			maxBackups = 3
		}
		sink := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
		})
		enc := zapcore.NewConsoleEncoder(encCfg)
		if cfg.JSON {
			enc = zapcore.NewJSONEncoder(encCfg)
		}
		cores = append(cores, zapcore.NewCore(enc, sink, level))
	}

	mu.Lock()
	defer mu.Unlock()
	root = zap.New(zapcore.NewTee(cores...))
	cached = make(map[Category]*zap.Logger)
	return nil
}

// Get returns the logger for a category. Before Initialize it returns a nop
// logger, so packages can log unconditionally.
func Get(cat Category) *zap.Logger {
	mu.RLock()
	if l, ok := cached[cat]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := cached[cat]; ok {
		return l
	}
	l := root.Named(string(cat))
	cached[cat] = l
	return l
}

// Sync flushes buffered log entries. Called before process exit.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}
