// Package fetch downloads source PDFs into the local asset directory.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"paperflow/internal/config"
	"paperflow/internal/fileutil"
	"paperflow/internal/logging"
	"paperflow/internal/services"
	"paperflow/internal/textutil"
)

var (
	pdfcpuOnce sync.Once
	// pageCount is replaced in tests that serve fake PDFs.
	pageCount = func(path string) (int, error) {
		pdfcpuOnce.Do(api.DisableConfigDir)
		return api.PageCountFile(path)
	}
)

// Result describes a local PDF.
type Result struct {
	URL    string
	Path   string
	SHA256 string
	Bytes  int64
	Pages  int
	Reused bool
}

// Fetcher downloads PDFs for content items.
type Fetcher struct {
	baseURL    string
	userAgent  string
	dir        string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) {
		if client != nil {
			f.httpClient = client
		}
	}
}

// New constructs a Fetcher storing files under pdfDir.
func New(cfg config.Fetch, pdfDir string, logger *slog.Logger, opts ...Option) *Fetcher {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	f := &Fetcher{
		baseURL:    cfg.BaseURL,
		userAgent:  cfg.UserAgent,
		dir:        pdfDir,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.NewComponentLogger(logger, "fetch"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// URLFor returns the download URL derived from the configured base URL.
func (f *Fetcher) URLFor(externalID string) string {
	return f.baseURL + strings.TrimSpace(externalID) + ".pdf"
}

// PathFor returns the local path used for externalID.
func (f *Fetcher) PathFor(externalID string) string {
	return filepath.Join(f.dir, textutil.FileStem(externalID)+".pdf")
}

// Download stores the PDF for externalID. pdfURL overrides the derived URL
// when set. A non-empty file already on disk is reused without a request.
func (f *Fetcher) Download(ctx context.Context, externalID, pdfURL string) (Result, error) {
	if strings.TrimSpace(externalID) == "" {
		return Result{}, services.Wrap(services.ErrValidation, "fetch", "download", "empty external id", nil)
	}
	if strings.TrimSpace(pdfURL) == "" {
		pdfURL = f.URLFor(externalID)
	}
	dest := f.PathFor(externalID)
	res := Result{URL: pdfURL, Path: dest}

	if size := fileutil.FileSize(dest); size > 0 {
		sum, _, err := fileutil.SHA256File(dest)
		if err != nil {
			return Result{}, fmt.Errorf("hash existing pdf: %w", err)
		}
		res.SHA256, res.Bytes, res.Reused = sum, size, true
		res.Pages, _ = pageCount(dest)
		return res, nil
	}

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create pdf dir: %w", err)
	}
	sum, n, err := f.stream(ctx, pdfURL, dest)
	if err != nil {
		return Result{}, err
	}
	pages, err := pageCount(dest)
	if err != nil || pages <= 0 {
		_ = os.Remove(dest)
		msg := fmt.Sprintf("downloaded file from %s is not a readable pdf", pdfURL)
		return Result{}, services.Wrap(services.ErrValidation, "fetch", "validate pdf", msg, err)
	}
	res.SHA256, res.Bytes, res.Pages = sum, n, pages
	f.logger.Info("pdf downloaded",
		logging.String(logging.FieldEventType, "pdf_downloaded"),
		logging.String("external_id", externalID),
		logging.String("size", humanize.Bytes(uint64(n))),
		logging.Int("pages", pages),
	)
	return res, nil
}

// stream writes the response body to a sibling temp file, hashing as it goes,
// and renames it into place once complete.
func (f *Fetcher) stream(ctx context.Context, url, dest string) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, fmt.Errorf("new request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", 0, services.Wrap(services.ErrTransient, "fetch", "download", url, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", 0, services.Wrap(services.ErrNotFound, "fetch", "download", fmt.Sprintf("%s returned 404", url), nil)
	case resp.StatusCode >= http.StatusMultipleChoices:
		return "", 0, services.Wrap(services.ErrExternalTool, "fetch", "download", fmt.Sprintf("%s returned %d", url, resp.StatusCode), nil)
	}

	tmp := dest + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	hasher := sha256.New()
	n, copyErr := io.Copy(io.MultiWriter(out, hasher), resp.Body)
	closeErr := out.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmp)
		if copyErr == nil {
			copyErr = closeErr
		}
		return "", 0, services.Wrap(services.ErrTransient, "fetch", "download", "read body", copyErr)
	}
	if n == 0 {
		_ = os.Remove(tmp)
		return "", 0, services.Wrap(services.ErrValidation, "fetch", "download", url+" returned an empty body", nil)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return "", 0, fmt.Errorf("rename pdf: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), n, nil
}
