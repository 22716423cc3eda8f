// Package logger provides structured logging utilities.
//
// Records are emitted through slog and encoded by a zap core, so callers keep
// the slog API while output shares zap's encoders.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	slogzap "github.com/samber/slog-zap/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps slog.Logger with additional context.
type Logger struct {
	*slog.Logger
	zap *zap.Logger
}

// New creates a new logger with the specified level and format writing to
// stderr. Reports own stdout.
func New(level, format string) *Logger {
	return NewWithWriter(level, format, os.Stderr)
}

// NewWithWriter creates a logger writing to w.
func NewWithWriter(level, format string, w io.Writer) *Logger {
	zl := buildZap(level, format, w)

	handler := slogzap.Option{
		Level:  parseLevel(level),
		Logger: zl,
	}.NewZapHandler()

	return &Logger{
		Logger: slog.New(handler),
		zap:    zl,
	}
}

func buildZap(level, format string, w io.Writer) *zap.Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.TimeKey = "time"

	var encoder zapcore.Encoder
	if strings.EqualFold(format, "json") {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	} else {
		encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(w), parseZapLevel(level))
	return zap.New(core, zap.AddStacktrace(zapcore.ErrorLevel))
}

func (l *Logger) with(args ...any) *Logger {
	return &Logger{Logger: l.With(args...), zap: l.zap}
}

// WithIndex returns a logger with index context.
func (l *Logger) WithIndex(index string) *Logger {
	return l.with("index", index)
}

// WithStrategy returns a logger with retrieval strategy context.
func (l *Logger) WithStrategy(strategy string) *Logger {
	return l.with("strategy", strategy)
}

// WithRun returns a logger tagged with a benchmark run ID.
func (l *Logger) WithRun(runID string) *Logger {
	return l.with("run_id", runID)
}

// WithError returns a logger with error context.
func (l *Logger) WithError(err error) *Logger {
	return l.with("error", err.Error())
}

// Sync flushes buffered zap output.
func (l *Logger) Sync() {
	if l.zap != nil {
		_ = l.zap.Sync()
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func parseZapLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Default returns the default logger.
func Default() *Logger {
	return New("info", "text")
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return NewWithWriter("error", "text", io.Discard)
}
