// Package quality scores parsed document text for extraction corruption.
//
// PDF text extraction that cannot decode glyphs emits runs of '?'.
// Measure counts those markers; Thresholds.Flagged turns the
// counts into a repair-needed decision.
package quality
