package queue

import "errors"

var (
	// ErrUnknownKind is returned when a job kind is outside the supported set.
	ErrUnknownKind = errors.New("unknown job kind")
	// ErrNotFound is returned when a job id does not exist.
	ErrNotFound = errors.New("job not found")
	// ErrNotQueued is returned when an operation requires a queued job.
	ErrNotQueued = errors.New("job is not queued")
	// ErrNotRunning is returned when Finish targets a job that already left
	// the running state, e.g. one the worker reaped.
	ErrNotRunning = errors.New("job is not running")
	// ErrInvalidPayload is returned when a payload is not a JSON object.
	ErrInvalidPayload = errors.New("job payload must be a JSON object")
)
