package logger

import (
	"context"
	"log/slog"

	"github.com/go-chi/chi/v5/middleware"
)

// ContextExtractor pulls one request-scoped attribute out of ctx. It reports
// false when ctx carries nothing for it.
type ContextExtractor func(ctx context.Context) (slog.Attr, bool)

// ContextHandler is a slog.Handler that appends the attributes found by its
// extractors to each record before passing it on. Extractors run at log
// time, so a logger built once at startup still tags every line with the
// request id and user id of the call that produced it.
type ContextHandler struct {
	inner slog.Handler
	fns   []ContextExtractor
}

// NewContextHandler wraps inner. Nil extractors are skipped.
func NewContextHandler(inner slog.Handler, extractors ...ContextExtractor) *ContextHandler {
	fns := make([]ContextExtractor, 0, len(extractors))
	for _, fn := range extractors {
		if fn != nil {
			fns = append(fns, fn)
		}
	}
	return &ContextHandler{inner: inner, fns: fns}
}

func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *ContextHandler) Handle(ctx context.Context, rec slog.Record) error {
	if ctx != nil {
		for _, fn := range h.fns {
			if attr, ok := fn(ctx); ok {
				rec.AddAttrs(attr)
			}
		}
	}
	return h.inner.Handle(ctx, rec)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{inner: h.inner.WithAttrs(attrs), fns: h.fns}
}

// WithGroup nests later attributes, extracted ones included, under name.
func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{inner: h.inner.WithGroup(name), fns: h.fns}
}

// RequestIDExtractor reads the id chi's RequestID middleware stores.
func RequestIDExtractor() ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		id := middleware.GetReqID(ctx)
		if id == "" {
			return slog.Attr{}, false
		}
		return RequestID(id), true
	}
}
