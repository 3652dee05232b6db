// Package logging provides structured logging for boltkit.
// It wraps Go's log/slog package to provide JSON-formatted logs with
// context propagation (stream, artifact, action, process) and can fan
// records out to a log file and stderr at the same time.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	slogmulti "github.com/samber/slog-multi"
	slogjournal "github.com/systemd/slog-journal"
)

// Log levels supported by the logger
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// LogFileName is the file created inside the log directory.
const LogFileName = "boltkit.log"

// Options controls where a Logger writes.
type Options struct {
	// Dir is the directory for boltkit.log. Empty disables the file sink.
	Dir string
	// Level is one of DEBUG, INFO, WARN, ERROR (case-insensitive).
	Level string
	// Stderr also writes records to stderr. Stderr is used as well when no
	// other sink is configured or available.
	Stderr bool
	// Writer, when set, receives records in addition to the other sinks.
	Writer io.Writer
	// Journal also sends records to the systemd journal. When the journal
	// socket is missing a warning is logged to the other sinks.
	Journal bool
}

// Logger provides structured logging with context propagation.
// It is safe for concurrent use.
type Logger struct {
	logger *slog.Logger
	file   **os.File // shared with children so Close releases it once
	mu     *sync.Mutex
}

// NewLogger creates a Logger that writes JSON-formatted logs to
// {dir}/boltkit.log. If dir is empty, logs go to stderr.
func NewLogger(dir string, level string) (*Logger, error) {
	return New(Options{Dir: dir, Level: level})
}

// New creates a Logger from opts, fanning out to every configured sink.
func New(opts Options) (*Logger, error) {
	var writers []io.Writer
	var file *os.File

	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		var err error
		file, err = os.OpenFile(filepath.Join(opts.Dir, LogFileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, file)
	}
	if opts.Stderr || (opts.Dir == "" && opts.Writer == nil && !opts.Journal) {
		writers = append(writers, os.Stderr)
	}
	if opts.Writer != nil {
		writers = append(writers, opts.Writer)
	}

	level := parseLevel(opts.Level)
	handlerOpts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redact,
	}

	handlers := make([]slog.Handler, 0, len(writers)+1)
	for _, w := range writers {
		handlers = append(handlers, slog.NewJSONHandler(w, handlerOpts))
	}

	var journalErr error
	if opts.Journal {
		jh, err := slogjournal.NewHandler(&slogjournal.Options{
			Level:        level,
			ReplaceGroup: journalKey,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				a = redact(groups, a)
				a.Key = journalKey(a.Key)
				return a
			},
		})
		if err != nil {
			journalErr = err
		} else {
			handlers = append(handlers, jh)
		}
	}

	if len(handlers) == 0 {
		handlers = append(handlers, slog.NewJSONHandler(os.Stderr, handlerOpts))
	}

	var handler slog.Handler
	if len(handlers) == 1 {
		handler = handlers[0]
	} else {
		handler = slogmulti.Fanout(handlers...)
	}

	l := &Logger{
		logger: slog.New(handler),
		file:   &file,
		mu:     &sync.Mutex{},
	}
	if journalErr != nil {
		l.Warn("systemd journal unavailable", "error", journalErr)
	}
	return l, nil
}

// journalKey maps an attribute key to a journal field name: upper case
// letters, digits and underscores.
func journalKey(key string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, strings.ToUpper(key))
}

// Redacted replaces the value of credential attributes.
const Redacted = "[redacted]"

// sensitiveKeys holds lower-cased attribute keys whose values never reach a sink.
var sensitiveKeys = map[string]bool{
	"api_key":       true,
	"apikey":        true,
	"x-api-key":     true,
	"authorization": true,
	"token":         true,
}

func redact(groups []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, Redacted)
	}
	return a
}

// levels maps the accepted level names to slog levels.
var levels = map[string]slog.Level{
	LevelDebug: slog.LevelDebug,
	LevelInfo:  slog.LevelInfo,
	LevelWarn:  slog.LevelWarn,
	LevelError: slog.LevelError,
}

// parseLevel returns the slog level for name, INFO when unrecognized.
func parseLevel(name string) slog.Level {
	if lvl, ok := levels[strings.ToUpper(name)]; ok {
		return lvl
	}
	return slog.LevelInfo
}

// WithStream returns a child Logger tagged with the parser stream ID.
func (l *Logger) WithStream(streamID string) *Logger {
	return l.With("stream_id", streamID)
}

// WithArtifact returns a child Logger tagged with the artifact ID.
func (l *Logger) WithArtifact(artifactID string) *Logger {
	return l.With("artifact_id", artifactID)
}

// WithProcess returns a child Logger tagged with the process ID.
func (l *Logger) WithProcess(processID string) *Logger {
	return l.With("process_id", processID)
}

// WithBackend returns a child Logger tagged with the backend kind.
func (l *Logger) WithBackend(kind string) *Logger {
	return l.With("backend", kind)
}

// With returns a child Logger carrying alternating key-value pairs on every
// record. The child shares the parent's sinks.
func (l *Logger) With(args ...any) *Logger {
	if len(args) == 0 {
		return l
	}
	child := *l
	child.logger = l.logger.With(args...)
	return &child
}

func (l *Logger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

// Close syncs and closes the log file, if any. Children share the file, so
// closing any of them closes it for all.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if *l.file == nil {
		return nil
	}
	f := *l.file
	*l.file = nil
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync log file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close log file: %w", err)
	}
	return nil
}

// NopLogger returns a Logger that discards all log output.
func NopLogger() *Logger {
	return &Logger{
		logger: slog.New(slog.DiscardHandler),
		file:   new(*os.File),
		mu:     &sync.Mutex{},
	}
}

// OrNop returns l, or a NopLogger when l is nil.
func OrNop(l *Logger) *Logger {
	if l == nil {
		return NopLogger()
	}
	return l
}

// ParseLevel normalizes a level name to one of the Level constants,
// LevelInfo when unrecognized.
func ParseLevel(name string) string {
	up := strings.ToUpper(name)
	if _, ok := levels[up]; ok {
		return up
	}
	return LevelInfo
}

// ValidLevels returns the accepted level names, most verbose first.
func ValidLevels() []string {
	return []string{LevelDebug, LevelInfo, LevelWarn, LevelError}
}
