package logger

import (
	"context"
	"log/slog"
	"slices"
)

// ContextExtractor pulls attributes out of a context at log time.
type ContextExtractor func(ctx context.Context) []slog.Attr

type ctxAttrsKey struct{}

// WithAttrs returns a context carrying attrs in addition to any already
// attached. Loggers created by New append them to every record.
func WithAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	if len(attrs) == 0 {
		return ctx
	}
	existing, _ := ctx.Value(ctxAttrsKey{}).([]slog.Attr)
	return context.WithValue(ctx, ctxAttrsKey{}, append(slices.Clip(existing), attrs...))
}

// AttrsFromContext returns the attributes attached with WithAttrs.
func AttrsFromContext(ctx context.Context) []slog.Attr {
	attrs, _ := ctx.Value(ctxAttrsKey{}).([]slog.Attr)
	return attrs
}

func contextAttrs(ctx context.Context) []slog.Attr {
	return AttrsFromContext(ctx)
}

// ContextHandler decorates a slog.Handler, appending attributes produced by
// extractors on each Handle call.
type ContextHandler struct {
	next       slog.Handler
	extractors []ContextExtractor
}

// NewContextHandler wraps next. Nil extractors are dropped.
func NewContextHandler(next slog.Handler, extractors ...ContextExtractor) *ContextHandler {
	clean := make([]ContextExtractor, 0, len(extractors))
	for _, ex := range extractors {
		if ex != nil {
			clean = append(clean, ex)
		}
	}
	return &ContextHandler{next: next, extractors: clean}
}

func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *ContextHandler) Handle(ctx context.Context, rec slog.Record) error {
	if ctx != nil {
		for _, ex := range h.extractors {
			if attrs := ex(ctx); len(attrs) > 0 {
				rec.AddAttrs(attrs...)
			}
		}
	}
	return h.next.Handle(ctx, rec)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{next: h.next.WithAttrs(attrs), extractors: h.extractors}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{next: h.next.WithGroup(name), extractors: h.extractors}
}
