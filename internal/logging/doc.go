// Package logging assembles structured slog loggers for the paperflow CLI,
// worker, and job handlers.
//
// It owns the console and JSON handlers, resolves the "auto" format against
// the attached terminal, and exposes context-aware helpers so pipeline code
// tags log lines with item IDs, stages, job IDs, and correlation IDs. A no-op
// logger is provided for tests and wiring code that cannot fail.
package logging
