// Package events is the append-only processing event log.
//
// Every stage transition for an item is a row: started, success, failed, or
// skipped. Rows are committed immediately and never updated or deleted, so
// an item's effective state for a stage is simply its most recent event for
// that (item, stage) pair.
package events
