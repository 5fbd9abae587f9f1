package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"paperflow/internal/config"
	"paperflow/internal/fileutil"
	"paperflow/internal/services"
)

func stubPageCount(t *testing.T, fn func(string) (int, error)) {
	t.Helper()
	orig := pageCount
	pageCount = fn
	t.Cleanup(func() { pageCount = orig })
}

func fakePDFCount(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	if !strings.HasPrefix(string(data), "%PDF-") {
		return 0, errors.New("not a pdf")
	}
	return 3, nil
}

func TestDownloadStreamsAndHashes(t *testing.T) {
	stubPageCount(t, fakePDFCount)
	var agent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent = r.Header.Get("User-Agent")
		if r.URL.Path != "/pdf/2602.04705.pdf" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("%PDF-1.7 body"))
	}))
	defer server.Close()

	dir := t.TempDir()
	f := New(config.Fetch{BaseURL: server.URL + "/pdf/", UserAgent: "paperflow/test", TimeoutSeconds: 5}, dir, nil)
	res, err := f.Download(context.Background(), "2602.04705", "")
	if err != nil {
		t.Fatalf("Download returned error: %v", err)
	}
	if res.Reused || res.Pages != 3 || res.Bytes != int64(len("%PDF-1.7 body")) {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Path != filepath.Join(dir, "2602.04705.pdf") {
		t.Fatalf("unexpected path %s", res.Path)
	}
	want, _, err := fileutil.SHA256File(res.Path)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if res.SHA256 != want {
		t.Fatalf("sha mismatch %s != %s", res.SHA256, want)
	}
	if agent != "paperflow/test" {
		t.Fatalf("unexpected user agent %q", agent)
	}
	if _, err := os.Stat(res.Path + ".part"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
}

func TestDownloadReusesExistingFile(t *testing.T) {
	stubPageCount(t, fakePDFCount)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "x1.pdf"), []byte("%PDF-existing"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	f := New(config.Fetch{BaseURL: "http://127.0.0.1:1/"}, dir, nil)
	res, err := f.Download(context.Background(), "x1", "")
	if err != nil {
		t.Fatalf("Download returned error: %v", err)
	}
	if !res.Reused || res.SHA256 == "" {
		t.Fatalf("expected reuse with hash, got %+v", res)
	}
}

func TestDownloadRejectsNonPDF(t *testing.T) {
	stubPageCount(t, fakePDFCount)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>captcha</html>"))
	}))
	defer server.Close()

	dir := t.TempDir()
	f := New(config.Fetch{BaseURL: server.URL + "/"}, dir, nil)
	_, err := f.Download(context.Background(), "x2", "")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if fileutil.FileSize(filepath.Join(dir, "x2.pdf")) != -1 {
		t.Fatal("expected invalid download to be removed")
	}
}

func TestDownloadNotFound(t *testing.T) {
	stubPageCount(t, fakePDFCount)
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	f := New(config.Fetch{BaseURL: server.URL + "/"}, t.TempDir(), nil)
	_, err := f.Download(context.Background(), "missing", "")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDownloadExplicitURL(t *testing.T) {
	stubPageCount(t, fakePDFCount)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/custom.pdf" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("%PDF-custom"))
	}))
	defer server.Close()

	f := New(config.Fetch{BaseURL: "http://unused/"}, t.TempDir(), nil)
	res, err := f.Download(context.Background(), "y", server.URL+"/custom.pdf")
	if err != nil {
		t.Fatalf("Download returned error: %v", err)
	}
	if res.URL != server.URL+"/custom.pdf" {
		t.Fatalf("unexpected url %s", res.URL)
	}
}
