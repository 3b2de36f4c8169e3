package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Line is one captured log line.
type Line struct {
	Time    time.Time
	Level   slog.Level
	Message string
}

type ringBuf struct {
	mu    sync.Mutex
	lines []Line
	next  int
	full  bool
}

// RingHandler is an slog.Handler that retains the most recent lines in a
// fixed-size ring. It can be used alone or fanned out next to a regular
// text handler; the sync engine exposes its tail in diagnostic views.
type RingHandler struct {
	buf   *ringBuf
	attrs []slog.Attr
	level slog.Level
}

// NewRingHandler returns a handler retaining the last size lines at or above
// the given level.
func NewRingHandler(size int, level slog.Level) *RingHandler {
	if size <= 0 {
		size = 256
	}
	return &RingHandler{buf: &ringBuf{lines: make([]Line, size)}, level: level}
}

func (h *RingHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *RingHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Message)
	appendAttr := func(a slog.Attr) bool {
		b.WriteByte(' ')
		b.WriteString(a.Key)
		b.WriteByte('=')
		b.WriteString(a.Value.String())
		return true
	}
	for _, a := range h.attrs {
		appendAttr(a)
	}
	r.Attrs(appendAttr)

	h.buf.mu.Lock()
	defer h.buf.mu.Unlock()
	h.buf.lines[h.buf.next] = Line{Time: r.Time, Level: r.Level, Message: b.String()}
	h.buf.next++
	if h.buf.next == len(h.buf.lines) {
		h.buf.next = 0
		h.buf.full = true
	}
	return nil
}

// WithAttrs returns a child handler; children share the ring so the tail
// stays global.
func (h *RingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &RingHandler{
		buf:   h.buf,
		attrs: append(append([]slog.Attr{}, h.attrs...), attrs...),
		level: h.level,
	}
}

func (h *RingHandler) WithGroup(string) slog.Handler { return h }

// Tail returns up to n of the most recent lines, oldest first.
func (h *RingHandler) Tail(n int) []Line {
	h.buf.mu.Lock()
	defer h.buf.mu.Unlock()

	var ordered []Line
	if h.buf.full {
		ordered = append(ordered, h.buf.lines[h.buf.next:]...)
		ordered = append(ordered, h.buf.lines[:h.buf.next]...)
	} else {
		ordered = append(ordered, h.buf.lines[:h.buf.next]...)
	}
	if n > 0 && len(ordered) > n {
		ordered = ordered[len(ordered)-n:]
	}
	return ordered
}
