// Package queue persists orchestration jobs in SQLite and exposes the
// operations that drive their lifecycle.
//
// Jobs are created queued by Enqueue, claimed oldest-first by ClaimNext in a
// single IMMEDIATE transaction, and moved to a terminal status by Finish.
// Running jobs whose worker died are recovered by ReapStale on the next
// worker pass. Rows are never deleted; the table is the job history.
//
// Kind is a closed set. Unknown kinds are rejected at enqueue time so the
// worker never has to guess how to run a row.
package queue
