// Package textutil provides small text helpers shared by the queue, the event
// log, and the pipeline stages.
//
// The primary use cases are:
//   - Truncating operator-facing error text to a bounded number of runes
//   - Splitting comma or newline separated identifier lists
//   - Sanitizing identifiers into filesystem-safe path segments
package textutil
