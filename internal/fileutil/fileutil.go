package fileutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// CopyFile copies src to dst (mode 0o644), replacing dst.
func CopyFile(src, dst string) error {
	_, err := copyInto(src, dst, io.Discard)
	return err
}

// CopyFileVerified copies src to dst and re-reads dst to confirm it holds the
// same bytes. It returns the hex SHA-256 of the copy; on a mismatch dst is
// removed.
func CopyFileVerified(src, dst string) (string, error) {
	streamed := sha256.New()
	n, err := copyInto(src, dst, streamed)
	if err != nil {
		return "", err
	}
	want := hex.EncodeToString(streamed.Sum(nil))
	got, size, err := SHA256File(dst)
	if err != nil {
		_ = os.Remove(dst)
		return "", fmt.Errorf("verify copy: %w", err)
	}
	if size != n || got != want {
		_ = os.Remove(dst)
		return "", fmt.Errorf("verify copy of %s: wrote %d bytes, found %d with a different digest", src, n, size)
	}
	return got, nil
}

// copyInto streams src into dst, mirroring every byte into tap.
func copyInto(src, dst string, tap io.Writer) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(io.MultiWriter(out, tap), in)
	if err != nil {
		_ = out.Close()
		return n, err
	}
	return n, out.Close()
}

// SHA256File returns the hex digest and size of the file at path.
func SHA256File(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// WriteFileAtomic writes data to a temporary sibling of path and renames it
// into place, so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// FileSize returns the size of path, or -1 when it does not exist.
func FileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return -1
	}
	return info.Size()
}
