package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// sink is one destination of the ledger log and the lowest level it takes.
type sink struct {
	w   io.Writer
	min slog.Level
}

// ledgerHandler is a custom slog.Handler that formats log records as:
//
//	<timestamp>\t<level>\t<opID>\t<message>\t<key=value ...>
//
// Each line is written to every sink whose minimum the record meets. Groups
// become dotted key prefixes.
type ledgerHandler struct {
	mu     *sync.Mutex
	sinks  []sink
	opID   string
	prefix string
	attrs  []slog.Attr // already prefixed
}

func newLedgerHandler(opID string, sinks ...sink) *ledgerHandler {
	return &ledgerHandler{mu: &sync.Mutex{}, sinks: sinks, opID: opID}
}

func (h *ledgerHandler) Enabled(_ context.Context, l slog.Level) bool {
	for _, s := range h.sinks {
		if l >= s.min {
			return true
		}
	}
	return false
}

func (h *ledgerHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Time.UTC().Format("2006-01-02T15:04:05Z"))
	b.WriteByte('\t')
	b.WriteString(r.Level.String())
	b.WriteByte('\t')
	b.WriteString(h.opID)
	b.WriteByte('\t')
	b.WriteString(r.Message)

	for _, a := range h.attrs {
		writeAttr(&b, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, h.prefix, a)
		return true
	})
	b.WriteByte('\n')
	line := b.String()

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.sinks {
		if r.Level < s.min {
			continue
		}
		if _, err := io.WriteString(s.w, line); err != nil {
			return err
		}
	}
	return nil
}

// writeAttr appends \tkey=value, flattening groups and quoting values that
// would break the tab-separated layout.
func writeAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p = prefix + a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			writeAttr(b, p, ga)
		}
		return
	}

	v := a.Value.String()
	if v == "" || strings.ContainsAny(v, " \t\n=\"") {
		v = strconv.Quote(v)
	}
	b.WriteByte('\t')
	b.WriteString(prefix)
	b.WriteString(a.Key)
	b.WriteByte('=')
	b.WriteString(v)
}

func (h *ledgerHandler) clone() *ledgerHandler {
	c := *h
	c.attrs = append([]slog.Attr{}, h.attrs...)
	return &c
}

func (h *ledgerHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := h.clone()
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		c.attrs = append(c.attrs, a)
	}
	return c
}

func (h *ledgerHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := h.clone()
	c.prefix = h.prefix + name + "."
	return c
}

// newLogger creates a structured logger writing to logDir/msgledger.log and
// to stderr. The file takes Info and above, or Debug when verbose; stderr
// only shows warnings and errors so command output stays readable.
// It returns the slog.Logger, the open log file (for cleanup), and any error.
func newLogger(logDir string, opID string, verbose bool) (*slog.Logger, *os.File, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	logPath := filepath.Join(logDir, "msgledger.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	fileMin := slog.LevelInfo
	if verbose {
		fileMin = slog.LevelDebug
	}
	h := newLedgerHandler(opID,
		sink{w: f, min: fileMin},
		sink{w: os.Stderr, min: slog.LevelWarn},
	)
	return slog.New(h), f, nil
}

// slogAdapter wraps *slog.Logger to satisfy the host.Logger interface.
type slogAdapter struct {
	l *slog.Logger
}

func (a *slogAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a *slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }
