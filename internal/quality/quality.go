package quality

import (
	"fmt"
	"os"

	"paperflow/internal/config"
)

// runMinLength is the shortest marker sequence counted as a run.
const runMinLength = 2

// Metrics are the corruption signals for one text.
type Metrics struct {
	Length     int     `json:"length"`
	QMarks     int     `json:"qmarks"`
	QRuns      int     `json:"qruns"`
	MaxRun     int     `json:"max_run"`
	QMarksPerK float64 `json:"qmarks_per_k"`
}

// Thresholds decide when Metrics indicate corrupted text.
type Thresholds struct {
	MinLength  int
	QMarks     int
	QMarksPerK float64
	QRuns      int
	MaxRun     int
}

// FromConfig converts the [quality] section.
func FromConfig(q config.Quality) Thresholds {
	return Thresholds{
		MinLength:  q.MinLength,
		QMarks:     q.QMarks,
		QMarksPerK: q.QMarksPerK,
		QRuns:      q.QRuns,
		MaxRun:     q.MaxRun,
	}
}

// marker is the placeholder the parser emits for glyphs it cannot decode.
// U+FFFD is not a marker.
const marker = '?'

// Measure counts suspicious markers in text. Length is in runes.
func Measure(text string) Metrics {
	var m Metrics
	run := 0
	closeRun := func() {
		if run >= runMinLength {
			m.QRuns++
		}
		m.MaxRun = max(m.MaxRun, run)
		run = 0
	}
	for _, r := range text {
		m.Length++
		if r == marker {
			m.QMarks++
			run++
			continue
		}
		closeRun()
	}
	closeRun()
	m.QMarksPerK = float64(m.QMarks) / max(1.0, float64(m.Length)/1000.0)
	return m
}

// MeasureFile reads path and measures its contents.
func MeasureFile(path string) (Metrics, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Metrics{}, fmt.Errorf("measure %s: %w", path, err)
	}
	return Measure(string(data)), nil
}

// Flagged reports whether m looks corrupted, with a short reason.
//
// Texts shorter than MinLength are never flagged. Otherwise the text is
// flagged when the absolute marker count reaches QMarks, or when the density
// reaches QMarksPerK and either the run count reaches QRuns or the longest
// run reaches MaxRun.
func (t Thresholds) Flagged(m Metrics) (bool, string) {
	if m.Length < t.MinLength {
		return false, "below minimum length"
	}
	if m.QMarks >= t.QMarks {
		return true, fmt.Sprintf("qmarks %d >= %d", m.QMarks, t.QMarks)
	}
	if m.QMarksPerK >= t.QMarksPerK {
		if m.QRuns >= t.QRuns {
			return true, fmt.Sprintf("qmarks_per_k %.2f with %d runs", m.QMarksPerK, m.QRuns)
		}
		if m.MaxRun >= t.MaxRun {
			return true, fmt.Sprintf("qmarks_per_k %.2f with run of %d", m.QMarksPerK, m.MaxRun)
		}
	}
	return false, ""
}

// Meta renders m for event metadata.
func (m Metrics) Meta() map[string]any {
	return map[string]any{
		"length":       m.Length,
		"qmarks":       m.QMarks,
		"qruns":        m.QRuns,
		"max_run":      m.MaxRun,
		"qmarks_per_k": m.QMarksPerK,
	}
}
