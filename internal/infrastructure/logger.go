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

	"stardust/internal/config"
	"stardust/pkg/contracts"
)

var (
	rootLogger     *slog.Logger
	rootLoggerOnce sync.Once

	logFileMu sync.Mutex
	logFile   *os.File
)

type contextKey string

// TraceIDContextKey carries the id that ties log lines of one request or
// one operation run together.
const TraceIDContextKey contextKey = "trace_id"

// InitializeLogger builds the process logger from cfg on the first call and
// installs it as the slog default. Later calls return the same logger.
func InitializeLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	var err error
	rootLoggerOnce.Do(func() {
		rootLogger, err = NewLogger(cfg)
		if rootLogger != nil {
			slog.SetDefault(rootLogger)
		}
	})
	return rootLogger, err
}

// GetLogger returns the process logger, or slog.Default before
// InitializeLogger ran.
func GetLogger() *slog.Logger {
	if rootLogger == nil {
		return slog.Default()
	}
	return rootLogger
}

// NewLogger creates a JSON logger tagged with the service name and version.
// It does not touch the process logger.
func NewLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	w, err := logOutput(cfg)
	if err != nil {
		return nil, err
	}

	logger := NewLoggerWithWriter(w, &slog.HandlerOptions{
		AddSource: cfg.Development,
		Level:     parseLogLevel(cfg.Level),
	})
	return logger.With(
		slog.String("service", ServiceName),
		slog.String("version", contracts.Version),
	), nil
}

// logOutput picks stdout, the log file, or both.
func logOutput(cfg config.LoggingConfig) (io.Writer, error) {
	output := strings.ToLower(cfg.Output)
	if output != "file" && output != "both" {
		return os.Stdout, nil
	}

	f, err := openLogFile(cfg.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	logFileMu.Lock()
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = f
	logFileMu.Unlock()

	if output == "both" {
		return io.MultiWriter(os.Stdout, f), nil
	}
	return f, nil
}

// NewLoggerWithWriter wraps a JSON handler on w with trace id injection.
func NewLoggerWithWriter(w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	return slog.New(traceHandler{next: slog.NewJSONHandler(w, opts)})
}

// traceHandler adds the context's trace id to every record.
type traceHandler struct {
	next slog.Handler
}

func (h traceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h traceHandler) Handle(ctx context.Context, r slog.Record) error {
	if traceID := GetTraceID(ctx); traceID != "" {
		r.AddAttrs(slog.String("trace_id", traceID))
	}
	return h.next.Handle(ctx, r)
}

func (h traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return traceHandler{next: h.next.WithAttrs(attrs)}
}

func (h traceHandler) WithGroup(name string) slog.Handler {
	return traceHandler{next: h.next.WithGroup(name)}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithTraceID returns ctx carrying traceID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDContextKey, traceID)
}

// GetTraceID returns the trace id in ctx, or "".
func GetTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	traceID, _ := ctx.Value(TraceIDContextKey).(string)
	return traceID
}

// CloseLogFile closes the log file opened by NewLogger, if any.
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
	rootLogger = nil
	rootLoggerOnce = sync.Once{}
}

func openLogFile(path string) (*os.File, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}
