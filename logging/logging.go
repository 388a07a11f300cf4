// Package logging configures the process-wide zerolog logger.
package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Format selects how log events are written.
type Format string

const (
	FormatJSON    Format = "json"
	FormatConsole Format = "console"
	// FormatPretty writes each event as indented JSON.
	FormatPretty Format = "pretty"
)

// Setup installs the global logger at the given level and returns it.
// Unknown formats fall back to JSON; an empty level means info.
func Setup(w io.Writer, level string, format Format) (zerolog.Logger, error) {
	lvl := zerolog.InfoLevel
	if level != "" {
		var err error
		lvl, err = zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			return log.Logger, fmt.Errorf("parse log level %q: %w", level, err)
		}
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.DurationFieldUnit = time.Millisecond

	var out io.Writer = w
	switch format {
	case FormatConsole:
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
	case FormatPretty:
		out = NewPrettyJSONWriter(w)
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return log.Logger, nil
}

// DefaultFormat picks console output for terminals and JSON otherwise.
func DefaultFormat(f *os.File) Format {
	if st, err := f.Stat(); err == nil && st.Mode()&os.ModeCharDevice != 0 {
		return FormatConsole
	}
	return FormatJSON
}

// PrettyJSONWriter re-indents one JSON event per Write.
type PrettyJSONWriter struct {
	mu  sync.Mutex
	w   io.Writer
	buf bytes.Buffer
}

func NewPrettyJSONWriter(w io.Writer) *PrettyJSONWriter {
	return &PrettyJSONWriter{w: w}
}

func (p *PrettyJSONWriter) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf.Reset()
	if err := json.Indent(&p.buf, bytes.TrimRight(b, "\n"), "", "  "); err != nil {
		// Not JSON; pass it through untouched.
		return p.w.Write(b)
	}
	p.buf.WriteByte('\n')
	if _, err := p.w.Write(p.buf.Bytes()); err != nil {
		return 0, err
	}
	return len(b), nil
}
