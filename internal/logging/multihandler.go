package logging

import (
	"context"
	"errors"
	"log/slog"
)

// MultiHandler fans every record out to several handlers, for example the
// console and the per-run JSON file.
type MultiHandler struct {
	handlers []slog.Handler
}

var _ slog.Handler = (*MultiHandler)(nil)

// NewMultiHandler wraps handlers. Nil handlers are dropped.
func NewMultiHandler(handlers ...slog.Handler) *MultiHandler {
	kept := make([]slog.Handler, 0, len(handlers))
	for _, h := range handlers {
		if h != nil {
			kept = append(kept, h)
		}
	}
	return &MultiHandler{handlers: kept}
}

// Enabled reports whether any wrapped handler accepts level.
func (h *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle passes r to every handler that accepts its level and joins their
// errors.
func (h *MultiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, r.Level) {
			continue
		}
		if err := handler.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Handlers returns a copy of the wrapped handlers.
func (h *MultiHandler) Handlers() []slog.Handler {
	out := make([]slog.Handler, len(h.handlers))
	copy(out, h.handlers)
	return out
}

func (h *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.derive(func(handler slog.Handler) slog.Handler { return handler.WithAttrs(attrs) })
}

func (h *MultiHandler) WithGroup(name string) slog.Handler {
	return h.derive(func(handler slog.Handler) slog.Handler { return handler.WithGroup(name) })
}

func (h *MultiHandler) derive(fn func(slog.Handler) slog.Handler) *MultiHandler {
	out := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		out[i] = fn(handler)
	}
	return &MultiHandler{handlers: out}
}
