package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ric2b/Vivaldi-browser-sub011/internal/infrastructure/config"
)

// Logger is the root process logger. Components receive the embedded
// *zap.Logger and name it after themselves.
type Logger struct {
	*zap.Logger
}

// Config selects level, encoding and sinks.
type Config struct {
	Level       string
	Development bool
	OutputPaths []string
}

// ConfigFor derives a Config from the logging section. Without an explicit
// level, development logs at debug and production at info.
func ConfigFor(cfg config.LogConfig) Config {
	out := Config{
		Level:       "info",
		Development: cfg.Development,
		OutputPaths: []string{"stderr"},
	}
	if cfg.Development {
		out.Level = "debug"
	}
	if cfg.Level != "" {
		out.Level = cfg.Level
	}
	return out
}

// New opens the sinks in cfg and builds a logger writing to them.
// Development mode logs colored console lines with stack traces from warn up.
// Production mode logs one JSON object per line.
func New(cfg Config) (*Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	paths := cfg.OutputPaths
	if len(paths) == 0 {
		paths = []string{"stderr"}
	}
	sink, _, err := zap.Open(paths...)
	if err != nil {
		return nil, fmt.Errorf("open log outputs %v: %w", paths, err)
	}

	opts := []zap.Option{
		zap.AddCaller(),
		zap.ErrorOutput(zapcore.Lock(os.Stderr)),
	}
	var encoder zapcore.Encoder
	if cfg.Development {
		enc := zap.NewDevelopmentEncoderConfig()
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(enc)
		opts = append(opts, zap.Development(), zap.AddStacktrace(zapcore.WarnLevel))
	} else {
		enc := zap.NewProductionEncoderConfig()
		enc.TimeKey = "timestamp"
		enc.MessageKey = "message"
		enc.EncodeTime = zapcore.ISO8601TimeEncoder
		enc.EncodeDuration = zapcore.MillisDurationEncoder
		encoder = zapcore.NewJSONEncoder(enc)
	}

	core := zapcore.NewCore(encoder, sink, zap.NewAtomicLevelAt(level))
	return &Logger{Logger: zap.New(core, opts...)}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// ForProfile returns a child logger tagged with a profile.
func (l *Logger) ForProfile(profile string) *zap.Logger {
	return l.With(zap.String("profile", profile))
}

// ForBackend returns a child logger tagged with the backend transport.
func (l *Logger) ForBackend(transport string) *zap.Logger {
	return l.With(zap.String("transport", transport))
}

// Sync flushes buffered entries. Errors from syncing terminals are ignored.
func (l *Logger) Sync() {
	_ = l.Logger.Sync()
}

// ParseLevel converts a level name to zapcore.Level. Empty means info.
func ParseLevel(level string) (zapcore.Level, error) {
	if level == "" {
		return zapcore.InfoLevel, nil
	}
	l, err := zapcore.ParseLevel(level)
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return l, nil
}
