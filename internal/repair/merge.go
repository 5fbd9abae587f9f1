package repair

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"paperflow/internal/fileutil"
	"paperflow/internal/parser"
)

var imageExts = map[string]struct{}{".jpg": {}, ".jpeg": {}, ".png": {}, ".webp": {}}

// MergeSummary reports what MergeOCR changed.
type MergeSummary struct {
	Markdown     string `json:"dst_md"`
	Source       string `json:"src_md"`
	Backup       string `json:"backup,omitempty"`
	CopiedImages int    `json:"copied_images"`
}

// MergeOCR replaces dst's markdown with src's and copies src images whose
// file names dst lacks. Existing dst images are never overwritten or removed.
func MergeOCR(dst, src parser.Output, now time.Time) (MergeSummary, error) {
	summary := MergeSummary{Markdown: dst.Markdown, Source: src.Markdown}
	if err := os.MkdirAll(dst.ImagesDir, 0o755); err != nil {
		return summary, fmt.Errorf("create images dir: %w", err)
	}
	text, err := os.ReadFile(src.Markdown)
	if err != nil {
		return summary, fmt.Errorf("read ocr markdown: %w", err)
	}

	if _, err := os.Stat(dst.Markdown); err == nil {
		backup := dst.Markdown + ".bak." + now.UTC().Format("20060102-150405")
		if err := fileutil.CopyFile(dst.Markdown, backup); err != nil {
			return summary, fmt.Errorf("backup markdown: %w", err)
		}
		summary.Backup = backup
	}
	if err := fileutil.WriteFileAtomic(dst.Markdown, text, 0o644); err != nil {
		return summary, fmt.Errorf("write merged markdown: %w", err)
	}

	entries, err := os.ReadDir(src.ImagesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return summary, nil
		}
		return summary, fmt.Errorf("list ocr images: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if _, ok := imageExts[strings.ToLower(filepath.Ext(entry.Name()))]; !ok {
			continue
		}
		target := filepath.Join(dst.ImagesDir, entry.Name())
		if _, err := os.Stat(target); err == nil {
			continue
		}
		if err := fileutil.CopyFile(filepath.Join(src.ImagesDir, entry.Name()), target); err != nil {
			return summary, fmt.Errorf("copy image %s: %w", entry.Name(), err)
		}
		summary.CopiedImages++
	}
	return summary, nil
}
