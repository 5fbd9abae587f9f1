// Package keypool rotates API credentials for external providers and runs
// provider calls under a bounded retry discipline.
//
// A Rotator owns one provider's ordered credential pool and an atomic cursor
// shared by every caller in the process. An Executor wraps a single logical
// call: each attempt takes the next credential, and failures are classified
// as credential problems, rate limiting, or fatal. Retryable failures move on
// to the next credential until the pool has been tried once; fatal failures
// return immediately.
package keypool
