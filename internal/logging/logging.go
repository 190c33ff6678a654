package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const permission = 0o664

type Options struct {
	Level  string
	Format string
	// File, when set, receives log lines in append mode instead of Output.
	File   string
	Output io.Writer
}

// Logger is the built logger plus the file it writes to, if any.
type Logger struct {
	zerolog.Logger
	file *os.File
}

func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

func New(opts Options) (*Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	out := &Logger{}
	var writer io.Writer = os.Stderr
	if opts.Output != nil {
		writer = opts.Output
	}
	if opts.File != "" {
		out.file, err = os.OpenFile(opts.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		writer = zerolog.SyncWriter(out.file)
	}
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "console":
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: time.RFC3339, NoColor: opts.File != ""}
	case "json":
	default:
		_ = out.Close()
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}
	out.Logger = zerolog.New(writer).Level(level).With().Timestamp().Logger()
	return out, nil
}

func ParseLevel(raw string) (zerolog.Level, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(raw)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", raw)
	}
	return level, nil
}
