package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// WritePDF writes a file that starts with a PDF header and is padded to
// size bytes. Parsers and repair tools are faked in tests, so only the magic
// and the size matter.
func WritePDF(t testing.TB, path string, size int) {
	t.Helper()

	const header = "%PDF-1.4\n"
	body := []byte(header)
	if pad := size - len(body); pad > 0 {
		body = append(body, bytes.Repeat([]byte{'%'}, pad)...)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// WriteText writes content to path, creating parent directories.
func WriteText(t testing.TB, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
