package repair

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"paperflow/internal/parser"
	"paperflow/internal/testsupport"
)

func TestMergeOCRUnionsImagesAndBacksUpText(t *testing.T) {
	root := t.TempDir()
	pdf := "/data/pdf/2401.00001.pdf"
	dst := parser.Layout(root, pdf, "txt")
	src := parser.Layout(root, pdf, "ocr")

	testsupport.WriteText(t, dst.Markdown, "garbled ???? text")
	testsupport.WriteText(t, filepath.Join(dst.ImagesDir, "a.jpg"), "dst-a")
	testsupport.WriteText(t, filepath.Join(dst.ImagesDir, "keep.png"), "dst-keep")
	testsupport.WriteText(t, src.Markdown, "clean text")
	testsupport.WriteText(t, filepath.Join(src.ImagesDir, "a.jpg"), "src-a")
	testsupport.WriteText(t, filepath.Join(src.ImagesDir, "b.webp"), "src-b")
	testsupport.WriteText(t, filepath.Join(src.ImagesDir, "notes.txt"), "ignored")

	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	summary, err := MergeOCR(dst, src, now)
	if err != nil {
		t.Fatalf("MergeOCR: %v", err)
	}
	if summary.CopiedImages != 1 {
		t.Fatalf("expected one copied image, got %d", summary.CopiedImages)
	}
	read := func(path string) string {
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read %s: %v", path, err)
		}
		return string(data)
	}
	if read(dst.Markdown) != "clean text" {
		t.Fatal("expected markdown overwritten with OCR text")
	}
	if summary.Backup != dst.Markdown+".bak.20260304-050607" || read(summary.Backup) != "garbled ???? text" {
		t.Fatalf("unexpected backup %q", summary.Backup)
	}
	if read(filepath.Join(dst.ImagesDir, "a.jpg")) != "dst-a" {
		t.Fatal("existing image must not be overwritten")
	}
	if read(filepath.Join(dst.ImagesDir, "b.webp")) != "src-b" {
		t.Fatal("expected missing image added")
	}
	if read(filepath.Join(dst.ImagesDir, "keep.png")) != "dst-keep" {
		t.Fatal("existing image must be kept")
	}
	if _, err := os.Stat(filepath.Join(dst.ImagesDir, "notes.txt")); !os.IsNotExist(err) {
		t.Fatal("non-image files must not be copied")
	}
}

func TestMergeOCRWithoutImages(t *testing.T) {
	root := t.TempDir()
	dst := parser.Layout(root, "x.pdf", "txt")
	src := parser.Layout(root, "x.pdf", "ocr")
	testsupport.WriteText(t, src.Markdown, "ocr")
	summary, err := MergeOCR(dst, src, time.Now())
	if err != nil {
		t.Fatalf("MergeOCR: %v", err)
	}
	if summary.Backup != "" || summary.CopiedImages != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}
