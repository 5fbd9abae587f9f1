// Package main hosts the paperflow CLI entrypoint and command graph.
//
// The Cobra command tree covers queue maintenance (jobs), the batch worker,
// the isolated job handler the worker launches (handle), item registration
// and inspection, readiness checks (doctor), and configuration scaffolding.
// Configuration resolution, database access, and logger setup live in the
// shared command context so subcommands stay declarative.
//
// Keep this package lean: add functionality to the internal packages first,
// then surface it through a command or flag here.
package main
