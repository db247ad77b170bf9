// Package logging configures the process-wide slog logger: a console
// handler chosen from the terminal capabilities plus an optional per-run JSON
// file.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/isseis/go-obfuhook/internal/safefileio"
	"github.com/isseis/go-obfuhook/internal/terminal"
	"github.com/muesli/termenv"
	"github.com/oklog/ulid/v2"
)

const (
	logDirPerm  os.FileMode = 0o750
	logFilePerm os.FileMode = 0o600

	// fileSchemaVersion is recorded on every JSON log line.
	fileSchemaVersion = 1
)

// ErrInvalidLevel indicates a log level name that is not recognised.
var ErrInvalidLevel = errors.New("invalid log level")

// Options configures Setup.
type Options struct {
	Level slog.Level

	// Console receives human-readable output. Defaults to os.Stderr.
	Console io.Writer

	// Terminal selects the console format: charmbracelet/log for interactive
	// sessions, slog's text format otherwise.
	Terminal terminal.Capabilities

	// LogDir, when set, receives one JSON log file per run.
	LogDir string

	// RunID identifies the run in file names and JSON records. Generated
	// when empty.
	RunID string
}

// Logger is the configured logger plus the resources it owns.
type Logger struct {
	*slog.Logger

	runID    string
	filePath string
	file     *os.File
}

// RunID returns the identifier of this run.
func (l *Logger) RunID() string {
	return l.runID
}

// FilePath returns the JSON log file path, or "" when file logging is off.
func (l *Logger) FilePath() string {
	return l.filePath
}

// Close flushes and closes the JSON log file.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// NewRunID returns a new lexically sortable run identifier.
func NewRunID() string {
	return ulid.Make().String()
}

// ParseLevel converts debug, info, warn or error to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("%w: %q", ErrInvalidLevel, name)
}

// Setup builds the logger described by opts. It does not touch
// slog.Default; callers install it with slog.SetDefault.
func Setup(opts Options) (*Logger, error) {
	if opts.RunID == "" {
		opts.RunID = NewRunID()
	}
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	l := &Logger{runID: opts.RunID}
	handlers := []slog.Handler{consoleHandler(console, opts)}

	if opts.LogDir != "" {
		file, path, err := openRunFile(opts.LogDir, opts.RunID)
		if err != nil {
			return nil, err
		}
		l.file, l.filePath = file, path

		host, err := os.Hostname()
		if err != nil {
			host = "unknown"
		}
		handlers = append(handlers, slog.NewJSONHandler(file, &slog.HandlerOptions{Level: opts.Level}).WithAttrs([]slog.Attr{
			slog.String("hostname", host),
			slog.Int("pid", os.Getpid()),
			slog.Int("schema_version", fileSchemaVersion),
			slog.String("run_id", opts.RunID),
		}))
	}

	l.Logger = slog.New(NewMultiHandler(handlers...))
	return l, nil
}

func consoleHandler(w io.Writer, opts Options) slog.Handler {
	if !opts.Terminal.Interactive {
		return slog.NewTextHandler(w, &slog.HandlerOptions{Level: opts.Level})
	}

	lg := log.NewWithOptions(w, log.Options{
		Level:           log.Level(opts.Level),
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		Prefix:          "obfuhook",
	})
	if opts.Terminal.Color {
		lg.SetColorProfile(termenv.ANSI256)
	} else {
		lg.SetColorProfile(termenv.Ascii)
	}
	return lg
}

// openRunFile creates <dir>/<host>_<timestamp>_<run id>.json.
func openRunFile(dir, runID string) (*os.File, string, error) {
	if err := os.MkdirAll(dir, logDirPerm); err != nil {
		return nil, "", fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}

	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	name := fmt.Sprintf("%s_%s_%s.json", host, time.Now().UTC().Format("20060102T150405Z"), runID)
	path := filepath.Join(dir, name)

	f, err := safefileio.CreateExclusive(path, logFilePerm)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open log file: %w", err)
	}
	return f, path, nil
}
