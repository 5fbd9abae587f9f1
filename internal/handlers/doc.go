// Package handlers maps each job kind to the orchestration it runs.
//
// The registry is an explicit table built once: every supported kind has a
// JSON schema for its payload and a function that turns the decoded payload
// into a pipeline call. The returned summary is what the job stores as its
// result.
package handlers
