// Package db opens the paperflow SQLite database shared by the job queue,
// the event log, and the item repository.
//
// Connections run in WAL mode with busy_timeout and foreign_keys applied per
// connection, and transactions start IMMEDIATE so a writer takes the lock
// before reading. Schema changes bump schemaVersion in schema.go; databases
// created by older builds are upgraded through the files in migrations/.
//
// Timestamps are stored as fixed-width UTC text (see TimeLayout) so lexical
// comparison in SQL matches chronological order.
package db
