// Package jobs runs queued jobs, one isolated process per job.
//
// A Worker holds a host-wide lock for the duration of a batch, reaps running
// jobs whose process died without finishing them, then claims queued jobs in
// order. Each claimed job is handed to `<executable> handle` with its payload
// in a file; the child's stdout and stderr go to the job's log file, framed by
// START/END markers written by the worker. The exit code alone decides the
// job's status.
//
// RunEvery repeats the same bounded batch on a cron schedule.
package jobs
