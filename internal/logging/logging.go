// Package logging builds the process-wide zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures New.
type Options struct {
	// Level is a zerolog level name (default: info).
	Level string

	// File, when set, also writes JSON logs to a rotated file.
	File string

	// MaxSizeMB is the size at which File is rotated (default: 10).
	MaxSizeMB int

	// MaxBackups is the number of rotated files kept (default: 3).
	MaxBackups int

	// Console forces human-readable output. When false it is chosen
	// automatically from whether Out is a terminal.
	Console bool

	// Out is the primary sink (default: os.Stderr).
	Out io.Writer
}

// New returns a logger writing to Out and, optionally, a rotated file.
// The returned closer releases the file; it is a no-op without one.
func New(opts Options) (zerolog.Logger, io.Closer, error) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	level := zerolog.InfoLevel
	if opts.Level != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = l
	}

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	if opts.Console || isTerminal(out) {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		rotated := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 10),
			MaxBackups: orDefault(opts.MaxBackups, 3),
			Compress:   true,
		}
		out = zerolog.MultiLevelWriter(out, rotated)
		closer = rotated
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Str("service", "khetbook").Logger()
	return logger, closer, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
