// Package pipeline advances content items through the fixed stage chain
// fetch → parse → oneliner → analyze → caption → images → package.
//
// Every stage is declared statically (see Stages) with the item fields it
// requires and the fields it produces. A run selects the scoped items,
// records a skipped event for items whose prerequisites are missing, and
// hands the remaining work to a bounded worker pool. Workers only produce
// values; a single collector goroutine persists each result as it completes
// and appends the success or failed event, so partial progress is durable
// while the stage is still running.
//
// Two modes exist per stage. ModeFill processes only items lacking output.
// ModeRegen first wipes the output (database fields and files on disk) of
// the eligible items, then runs the fill path.
//
// Supporting operations live here as well: single-item stage retry, the OCR
// fix pass over parsed text flagged by the quality gate, and the event
// backfill for items processed before event logging existed.
package pipeline
