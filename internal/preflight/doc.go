// Package preflight provides readiness checks for the directories, external
// binaries, and credential pools that paperflow depends on.
//
// These checks run in two contexts:
//   - The "paperflow doctor" command calls RunAll and renders every result.
//   - The worker calls CheckDirectories before a batch so a missing or
//     read-only data directory fails fast instead of failing every job.
//
// Network checks (the LLM health check) only run when credentials exist.
package preflight
