// Package logger configures the process-wide zerolog logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logger configuration.
type Config struct {
	Level  string    // debug, info, warn, error
	Pretty bool      // human readable console output
	File   string    // optional log file, appended to
	Output io.Writer // console destination, defaults to stderr
}

// Logger wraps zerolog.Logger and owns the optional log file.
type Logger struct {
	logger zerolog.Logger
	file   *os.File
}

// New creates a logger and installs it as the global zerolog logger.
// An unknown level falls back to info.
func New(cfg Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var console io.Writer = cfg.Output
	if console == nil {
		console = os.Stderr
	}
	if cfg.Pretty {
		console = zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339}
	}

	writers := []io.Writer{console}

	var file *os.File
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err = os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, file)
	}

	var writer io.Writer = writers[0]
	if len(writers) > 1 {
		writer = io.MultiWriter(writers...)
	}

	logger := zerolog.New(redact(writer)).
		Level(level).
		With().
		Timestamp().
		Logger()

	log.Logger = logger

	return &Logger{logger: logger, file: file}, nil
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Zerolog returns the underlying zerolog.Logger.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.logger
}

// Component returns a child logger tagged with a component name.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.logger.With().Str("component", name).Logger()
}

// secretPatterns match credentials that must never reach a log line.
var secretPatterns = []*regexp.Regexp{
	// Google API keys
	regexp.MustCompile(`AIza[0-9A-Za-z_-]{30,}`),
	// OpenAI, DeepSeek and Anthropic keys
	regexp.MustCompile(`sk-(?:ant-)?[A-Za-z0-9_-]{20,}`),
	regexp.MustCompile(`Bearer\s+[A-Za-z0-9._-]+`),
	// Password in redis URLs, keeps the scheme and user
	regexp.MustCompile(`(rediss?://[^:/@\s]*:)[^@\s]+@`),
}

// Redact masks credentials in s.
func Redact(s string) string {
	for i, pattern := range secretPatterns {
		if i == len(secretPatterns)-1 {
			s = pattern.ReplaceAllString(s, "${1}[REDACTED]@")
			continue
		}
		s = pattern.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

func redact(w io.Writer) io.Writer {
	return &redactingWriter{writer: w}
}

type redactingWriter struct {
	writer io.Writer
}

func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.writer.Write([]byte(Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
