package infrastructure

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"licenselock/internal/config"
)

// process-wide logger installed by InitializeLogger
var (
	initOnce   sync.Once
	procLogger *slog.Logger

	logFileMu sync.Mutex
	logFile   *os.File
)

type traceIDKey struct{}

// InitializeLogger builds the process logger from cfg and installs it as the
// slog default. Later calls return the first logger.
func InitializeLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	var err error
	initOnce.Do(func() {
		var w io.Writer
		if w, err = logOutput(cfg); err != nil {
			return
		}
		procLogger = NewLogger(cfg, w)
		slog.SetDefault(procLogger)
	})
	return procLogger, err
}

// NewLogger returns a logger writing JSON (or text) records to w. Records
// logged with a context carry its request trace id.
func NewLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	level := parseLogLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level, AddSource: level <= slog.LevelDebug}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(traceHandler{h})
}

// LoggerWithContext returns logger, or the process logger when nil, tagged
// with the trace id in ctx. Loggers from NewLogger tag records themselves.
func LoggerWithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = procLogger
	}
	if logger == nil {
		logger = slog.Default()
	}
	if _, ok := logger.Handler().(traceHandler); ok {
		return logger
	}
	if id := GetTraceID(ctx); id != "" {
		return logger.With(slog.String("trace_id", id))
	}
	return logger
}

// WithTraceID stores the request trace id in ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// GetTraceID returns the request trace id, falling back to the OpenTelemetry
// trace id of the active span.
func GetTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(traceIDKey{}).(string); ok && id != "" {
		return id
	}
	return TraceIDFromContext(ctx)
}

// CloseLogFile closes the log file opened for "file" or "both" output.
func CloseLogFile() error {
	logFileMu.Lock()
	defer logFileMu.Unlock()

	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}

// ResetLoggerForTesting forgets the process logger. Tests only.
func ResetLoggerForTesting() {
	_ = CloseLogFile()
	procLogger = nil
	initOnce = sync.Once{}
}

type traceHandler struct {
	slog.Handler
}

func (h traceHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := GetTraceID(ctx); id != "" {
		r.AddAttrs(slog.String("trace_id", id))
	}
	return h.Handler.Handle(ctx, r)
}

func (h traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return traceHandler{h.Handler.WithAttrs(attrs)}
}

func (h traceHandler) WithGroup(name string) slog.Handler {
	return traceHandler{h.Handler.WithGroup(name)}
}

func parseLogLevel(level string) slog.Level {
	var l slog.Level
	switch strings.ToLower(level) {
	case "warning":
		return slog.LevelWarn
	}
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func logOutput(cfg config.LoggingConfig) (io.Writer, error) {
	output := strings.ToLower(cfg.Output)
	switch output {
	case "stderr":
		return os.Stderr, nil
	case "file", "both":
	default:
		return os.Stdout, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", cfg.FilePath, err)
	}

	logFileMu.Lock()
	logFile = f
	logFileMu.Unlock()

	if output == "both" {
		return io.MultiWriter(os.Stdout, f), nil
	}
	return f, nil
}
