package imagegen

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"paperflow/internal/config"
	"paperflow/internal/fileutil"
	"paperflow/internal/keypool"
	"paperflow/internal/logging"
	"paperflow/internal/services"
)

const (
	// Provider names as they appear in configuration, asset rows and events.
	Seedream = "seedream"
	GLM      = "glm"

	maxImageBytes = 64 << 20
)

// Request is one image to synthesise.
type Request struct {
	Prompt         string
	NegativePrompt string
	// Size overrides the provider's configured size when set.
	Size string
}

// Result describes a downloaded image.
type Result struct {
	Provider  string
	RemoteURL string
	LocalPath string
	SHA256    string
	Size      string
	Bytes     int64
}

// Provider synthesises one image and stores it at outPath.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request, outPath string) (Result, error)
}

type bodyFunc func(model, size string, req Request) map[string]any

// httpProvider is the shared POST-then-download implementation.
type httpProvider struct {
	name       string
	endpoint   string
	model      string
	size       string
	body       bodyFunc
	httpClient *http.Client
	executor   *keypool.Executor
}

// Option configures a provider.
type Option func(*httpProvider)

// WithHTTPClient overrides the HTTP client used for both the generation
// request and the image download.
func WithHTTPClient(client *http.Client) Option {
	return func(p *httpProvider) {
		if client != nil {
			p.httpClient = client
		}
	}
}

func newHTTPProvider(name string, cfg config.Provider, executor *keypool.Executor, body bodyFunc, opts []Option) *httpProvider {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	p := &httpProvider{
		name:       name,
		endpoint:   strings.TrimSpace(cfg.Endpoint),
		model:      cfg.Model,
		size:       cfg.Size,
		body:       body,
		httpClient: &http.Client{Timeout: timeout},
		executor:   executor,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewSeedream constructs the Volcano Engine Ark Seedream provider.
func NewSeedream(cfg config.Provider, executor *keypool.Executor, opts ...Option) Provider {
	return newHTTPProvider(Seedream, cfg, executor, func(model, size string, req Request) map[string]any {
		body := map[string]any{
			"model":                       model,
			"prompt":                      req.Prompt,
			"size":                        size,
			"response_format":             "url",
			"watermark":                   false,
			"sequential_image_generation": "disabled",
			"stream":                      false,
		}
		if neg := strings.TrimSpace(req.NegativePrompt); neg != "" {
			body["negative_prompt"] = neg
		}
		return body
	}, opts)
}

// NewGLM constructs the BigModel GLM-Image provider.
func NewGLM(cfg config.Provider, executor *keypool.Executor, opts ...Option) Provider {
	quality := strings.TrimSpace(cfg.Quality)
	if quality == "" {
		quality = "hd"
	}
	return newHTTPProvider(GLM, cfg, executor, func(model, size string, req Request) map[string]any {
		return map[string]any{
			"model":             model,
			"prompt":            req.Prompt,
			"size":              size,
			"quality":           quality,
			"watermark_enabled": "false",
		}
	}, opts)
}

// Build constructs the named provider with its own credential executor.
func Build(name string, cfg config.Providers, logger *slog.Logger, opts ...Option) (Provider, error) {
	var pc config.Provider
	var ctor func(config.Provider, *keypool.Executor, ...Option) Provider
	switch name {
	case Seedream:
		pc, ctor = cfg.Seedream, NewSeedream
	case GLM:
		pc, ctor = cfg.GLM, NewGLM
	default:
		return nil, services.Wrap(services.ErrConfiguration, "images", "build provider", fmt.Sprintf("unknown provider %q", name), nil)
	}
	executor := keypool.NewExecutor(
		keypool.NewRotator(name, pc.APIKeys),
		keypool.WithRequestsPerSecond(pc.RequestsPerSecond),
		keypool.WithLogger(logging.NewComponentLogger(logger, "imagegen")),
	)
	return ctor(pc, executor, opts...), nil
}

func (p *httpProvider) Name() string { return p.name }

type generationResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
}

// Generate posts the generation request, downloads the resulting image and
// writes it atomically to outPath.
func (p *httpProvider) Generate(ctx context.Context, req Request, outPath string) (Result, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return Result{}, services.Wrap(services.ErrValidation, p.name, "generate", "empty prompt", nil)
	}
	if p.endpoint == "" {
		return Result{}, services.Wrap(services.ErrConfiguration, p.name, "generate", "endpoint is empty", nil)
	}
	size := strings.TrimSpace(req.Size)
	if size == "" {
		size = p.size
	}
	encoded, err := json.Marshal(p.body(p.model, size, req))
	if err != nil {
		return Result{}, fmt.Errorf("%s: encode body: %w", p.name, err)
	}

	type download struct {
		url  string
		data []byte
	}
	got, err := keypool.Run(ctx, p.executor, func(ctx context.Context, key string) (download, error) {
		remote, err := p.requestURL(ctx, key, encoded)
		if err != nil {
			return download{}, err
		}
		data, err := p.fetch(ctx, remote)
		if err != nil {
			return download{}, err
		}
		return download{url: remote, data: data}, nil
	})
	if err != nil {
		return Result{}, err
	}

	if err := fileutil.WriteFileAtomic(outPath, got.data, 0o644); err != nil {
		return Result{}, fmt.Errorf("%s: write image: %w", p.name, err)
	}
	sum := sha256.Sum256(got.data)
	return Result{
		Provider:  p.name,
		RemoteURL: got.url,
		LocalPath: outPath,
		SHA256:    hex.EncodeToString(sum[:]),
		Size:      size,
		Bytes:     int64(len(got.data)),
	}, nil
}

func (p *httpProvider) requestURL(ctx context.Context, key string, encoded []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("%s: new request: %w", p.name, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+key)
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%s: %w", p.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", keypool.NewStatusError(resp)
	}
	var decoded generationResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%s: decode response: %w", p.name, err)
	}
	if len(decoded.Data) == 0 || strings.TrimSpace(decoded.Data[0].URL) == "" {
		return "", keypool.MissingField("data[0].url")
	}
	return strings.TrimSpace(decoded.Data[0].URL), nil
}

func (p *httpProvider) fetch(ctx context.Context, remote string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remote, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: download request: %w", p.name, err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: download: %w", p.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, keypool.NewStatusError(resp)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%s: download body: %w", p.name, err)
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("%s: image exceeds %d bytes", p.name, maxImageBytes)
	}
	if len(data) == 0 {
		return nil, keypool.MissingField("image body")
	}
	return data, nil
}
