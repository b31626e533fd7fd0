package logger

import (
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects the level and encoding of the global logger.
type Options struct {
	Level  string
	Format string // "json" (default) or "console"
}

var (
	global atomic.Pointer[zap.Logger]
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

func init() {
	global.Store(zap.NewNop())
}

// Init builds the global logger from opts. An unknown format is an error; an unknown level
// falls back to info.
func Init(opts Options) error {
	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "json":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "time"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	case "console":
		cfg = zap.NewDevelopmentConfig()
	default:
		return fmt.Errorf("logger: unsupported format %q", opts.Format)
	}

	SetLevel(opts.Level)
	cfg.Level = level

	built, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("logger: build: %w", err)
	}
	Replace(built)
	return nil
}

// SetLevel changes the minimum level of loggers built by Init without rebuilding them.
func SetLevel(name string) {
	var parsed zapcore.Level
	if err := parsed.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		parsed = zapcore.InfoLevel
	}
	level.SetLevel(parsed)
}

// Level reports the current minimum level.
func Level() zapcore.Level {
	return level.Level()
}

// Replace swaps the global logger. Tests use it to capture entries.
func Replace(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	global.Store(l)
}

// L returns the global logger.
func L() *zap.Logger {
	return global.Load()
}

// Sync flushes buffered entries.
func Sync() error {
	return L().Sync()
}

// WithModule returns a child logger tagged with module.
func WithModule(module string) *zap.Logger {
	return L().With(zap.String("module", module))
}
