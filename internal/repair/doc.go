// Package repair rewrites damaged PDFs and merges OCR re-parses into existing
// parser output.
//
// Repairer tries each configured tool in order (qpdf, mutool, gs, then the
// in-process pdfcpu optimizer) against a cache copy of the source PDF and
// keeps the first output that is large enough to be a real document. The
// source PDF is never written.
//
// MergeOCR overwrites a parse's markdown with an OCR parse's markdown, keeping
// a timestamped backup, and adds OCR images whose names are not already
// present.
package repair
