package logging

import (
	"context"
	"errors"
	"log/slog"
)

// Fanout sends each record to every sink enabled for its level. A failing
// sink does not keep the record from the others.
type Fanout struct {
	sinks []slog.Handler
}

// NewFanout drops nil sinks.
func NewFanout(sinks ...slog.Handler) *Fanout {
	f := &Fanout{sinks: make([]slog.Handler, 0, len(sinks))}
	for _, h := range sinks {
		if h != nil {
			f.sinks = append(f.sinks, h)
		}
	}
	return f
}

func (f *Fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.sinks {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle returns the joined errors of the sinks that failed.
func (f *Fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f.sinks {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f *Fanout) WithGroup(name string) slog.Handler {
	if name == "" {
		return f
	}
	return f.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f *Fanout) each(wrap func(slog.Handler) slog.Handler) *Fanout {
	out := &Fanout{sinks: make([]slog.Handler, len(f.sinks))}
	for i, h := range f.sinks {
		out.sinks[i] = wrap(h)
	}
	return out
}

// CaseInfo is what the session log lines are stamped with.
type CaseInfo struct {
	Project string
	Run     string
}

// CaseState reports the open project and the state of its simulation. It
// is called for every record and must be safe from any goroutine.
type CaseState func() CaseInfo

// CaseHandler adds project and run attributes to every record. Empty
// values are left out.
type CaseHandler struct {
	inner slog.Handler
	state CaseState
}

func NewCaseHandler(inner slog.Handler, state CaseState) *CaseHandler {
	return &CaseHandler{inner: inner, state: state}
}

func (h *CaseHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CaseHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.state != nil {
		info := h.state()
		if info.Project != "" {
			r.AddAttrs(slog.String("project", info.Project))
		}
		if info.Run != "" {
			r.AddAttrs(slog.String("run", info.Run))
		}
	}
	return h.inner.Handle(ctx, r)
}

func (h *CaseHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CaseHandler{inner: h.inner.WithAttrs(attrs), state: h.state}
}

func (h *CaseHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &CaseHandler{inner: h.inner.WithGroup(name), state: h.state}
}
