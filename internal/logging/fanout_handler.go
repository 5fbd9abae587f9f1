package logging

import (
	"context"
	"errors"
	"log/slog"
)

// teeHandler sends each record to every branch that accepts its level. In a
// handle child the branches are the console stream the worker captures into
// the job log and the shared paperflow.log file.
type teeHandler []slog.Handler

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t teeHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	last := len(t) - 1
	for i, h := range t {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		// Branches may add attrs to the record; only the last one may keep
		// the original.
		rec := record
		if i < last {
			rec = record.Clone()
		}
		if err := h.Handle(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return t.derive(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	return t.derive(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (t teeHandler) derive(fn func(slog.Handler) slog.Handler) teeHandler {
	next := make(teeHandler, len(t))
	for i, h := range t {
		next[i] = fn(h)
	}
	return next
}

// TeeHandler duplicates records to every non-nil handler.
func TeeHandler(handlers ...slog.Handler) slog.Handler {
	var branches teeHandler
	for _, h := range handlers {
		if h != nil {
			branches = append(branches, h)
		}
	}
	switch len(branches) {
	case 0:
		return NoopHandler{}
	case 1:
		return branches[0]
	}
	return branches
}
