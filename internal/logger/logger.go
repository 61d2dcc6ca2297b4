package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logger configuration
type Config struct {
	Level     string // debug, info, warn, error
	File      string // log file path, empty disables the file sink
	Console   bool   // enable console output
	Pretty    bool   // human-readable console format
	Redaction bool   // scrub secret-shaped strings before writing
	MaxSizeMB int    // rotate the file sink after this many megabytes
	MaxAgeDay int    // delete rotated files older than this many days
	Compress  bool   // gzip rotated files
}

// DefaultConfig returns the logger configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Console:   true,
		Pretty:    true,
		Redaction: true,
		MaxSizeMB: 100,
		MaxAgeDay: 7,
		Compress:  true,
	}
}

// Logger owns the configured zerolog instance and its file sink, if any.
type Logger struct {
	logger   zerolog.Logger
	sink     io.Closer
	redactor *Redactor
}

// New builds a logger from cfg. The returned Logger must be closed when a
// file sink is configured.
func New(cfg Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var writers []io.Writer

	if cfg.Console {
		var console io.Writer = os.Stdout
		if cfg.Pretty {
			console = zerolog.ConsoleWriter{
				Out:        os.Stdout,
				TimeFormat: time.RFC3339,
			}
		}
		writers = append(writers, console)
	}

	var sink io.Closer
	if cfg.File != "" {
		rw, err := NewRotatingWriter(cfg.File, cfg.MaxSizeMB, cfg.MaxAgeDay, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		sink = rw
		writers = append(writers, rw)
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = os.Stdout
	case 1:
		writer = writers[0]
	default:
		writer = io.MultiWriter(writers...)
	}

	var redactor *Redactor
	if cfg.Redaction {
		redactor = NewRedactor()
		writer = redactor.Wrap(writer)
	}

	zl := zerolog.New(writer).
		Level(level).
		With().
		Timestamp().
		Logger()

	// Keep the package-global logger in sync for code that uses zerolog/log.
	log.Logger = zl

	return &Logger{
		logger:   zl,
		sink:     sink,
		redactor: redactor,
	}, nil
}

// Zerolog returns the underlying zerolog.Logger for injection into components.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.logger
}

// Close closes the file sink, if any.
func (l *Logger) Close() error {
	if l.sink != nil {
		return l.sink.Close()
	}
	return nil
}
