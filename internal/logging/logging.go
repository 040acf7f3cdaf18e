// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	stdlog "log"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Options selects level, format and the fixed fields stamped on every line.
type Options struct {
	Level    string // debug, info, warn, error
	Human    bool   // console writer instead of JSON
	Service  string
	Instance string
	Out      io.Writer // defaults to os.Stdout
}

// New builds a logger from opts without touching global state.
func New(opts Options) zerolog.Logger {
	level := zerolog.InfoLevel
	if l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level))); err == nil && opts.Level != "" {
		level = l
	}

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	var w io.Writer = out
	if opts.Human {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(w).Level(level).With().Timestamp()
	if opts.Service != "" {
		ctx = ctx.Str("service", opts.Service)
	}
	if opts.Instance != "" {
		ctx = ctx.Str("instance", opts.Instance)
	}
	return ctx.Logger()
}

// Init installs the logger built from opts as the global zerolog logger and
// routes the standard library log package through it.
func Init(opts Options) zerolog.Logger {
	logger := New(opts)
	zlog.Logger = logger

	stdlog.SetFlags(0)
	stdlog.SetOutput(logger)
	return logger
}
