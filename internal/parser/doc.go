// Package parser runs the MinerU document parser CLI and locates its output.
//
// MinerU writes <out_root>/<stem>/<method>/<stem>.md plus an images/
// directory next to the markdown. Runner.Parse launches the CLI for one PDF
// and returns that layout once the markdown exists.
package parser
