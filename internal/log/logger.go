package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	once   sync.Once
	mu     sync.RWMutex
	logger *slog.Logger
	output io.Writer = os.Stdout
)

// ParseLevel maps a config level name onto a slog level. Unknown names map to INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup initializes the global logger. Only the first call has an effect.
func Setup(level string) {
	once.Do(func() {
		install(slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{
			Level: ParseLevel(level),
		})))
	})
}

// SetOutput redirects the handler created by Setup. Must be called before Setup.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
}

func install(l *slog.Logger) {
	mu.Lock()
	logger = l
	mu.Unlock()
	slog.SetDefault(l)
}

// Get returns the configured logger, or a default one if Setup hasn't been called.
func Get() *slog.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l == nil {
		Setup("INFO")
		mu.RLock()
		l = logger
		mu.RUnlock()
	}
	return l
}

// WithComponent returns a logger with the component field set.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// WithExecution returns a logger with the execution_id field set.
func WithExecution(id string) *slog.Logger {
	return Get().With(slog.String("execution_id", id))
}

// WithCapability returns a logger with the capability field set.
func WithCapability(name string) *slog.Logger {
	return Get().With(slog.String("capability", name))
}

// Info logs at INFO level.
func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

// Debug logs at DEBUG level.
func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}

// Warn logs at WARN level.
func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

// Error logs at ERROR level.
func Error(msg string, args ...any) {
	Get().Error(msg, args...)
}
