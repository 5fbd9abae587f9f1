// Package services defines shared utilities consumed by the pipeline stages
// and the external provider clients.
//
// Key responsibilities:
//   - Context helpers that stamp item IDs, stage names, job IDs, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so failures carry a
//     stable classification from the provider client up to the event log.
//
// Use these helpers when wiring new stage logic so operational behaviour
// (error text, observability) stays uniform across the pipeline.
package services
