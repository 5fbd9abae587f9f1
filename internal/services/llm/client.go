package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"paperflow/internal/config"
	"paperflow/internal/keypool"
)

const (
	defaultHTTPTimeout  = 180 * time.Second
	chatTemperature     = 0.4
	visionTemperature   = 0.2
	completionsEndpoint = "chat/completions"
)

// Config contains the settings required to call an OpenAI-compatible chat API.
type Config struct {
	BaseURL        string
	Model          string
	TimeoutSeconds int
}

// FromConfig builds a Config for model from the llm configuration section.
func FromConfig(cfg config.LLM, model string) Config {
	return Config{
		BaseURL:        cfg.BaseURL,
		Model:          model,
		TimeoutSeconds: cfg.TimeoutSeconds,
	}
}

// Client wraps chat completion requests. Every request runs through a
// keypool.Executor so failures rotate across the credential pool.
type Client struct {
	cfg        Config
	httpClient *http.Client
	executor   *keypool.Executor
}

// Option configures optional client behaviour.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs a client for cfg.
func NewClient(cfg Config, executor *keypool.Executor, opts ...Option) *Client {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		executor:   executor,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model reports the configured model name.
func (c *Client) Model() string { return c.cfg.Model }

// Complete sends a system + user prompt pair and returns the text content.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	payload := chatCompletionRequest{
		Model:       c.cfg.Model,
		Temperature: chatTemperature,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	}
	return c.complete(ctx, payload)
}

// CompleteJSON sends a prompt pair that asks for JSON and decodes the answer
// into target.
func (c *Client) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string, target any) error {
	content, err := c.Complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		return err
	}
	if err := DecodeLLMJSON(content, target); err != nil {
		return fmt.Errorf("llm json: %w", err)
	}
	return nil
}

// ImageRequest describes one figure to caption.
type ImageRequest struct {
	Path    string
	Prompt  string
	Context string
}

// DescribeImage sends one image as a data URL along with its surrounding
// document context and returns the model's caption.
func (c *Client) DescribeImage(ctx context.Context, systemPrompt string, req ImageRequest) (string, error) {
	dataURL, err := ImageDataURL(req.Path)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(req.Prompt)
	if ctxText := strings.TrimSpace(req.Context); ctxText != "" {
		text += "\n\nContext:\n" + ctxText
	}
	payload := chatCompletionRequest{
		Model:       c.cfg.Model,
		Temperature: visionTemperature,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: []contentPart{
				{Type: "text", Text: text},
				{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
			}},
		},
	}
	return c.complete(ctx, payload)
}

// HealthCheck performs a lightweight request to verify the endpoint accepts
// at least one credential of the pool.
func (c *Client) HealthCheck(ctx context.Context) error {
	payload := chatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: "Reply with the single word OK."},
			{Role: "user", Content: "ping"},
		},
	}
	_, err := c.complete(ctx, payload)
	return err
}

// ImageDataURL reads path and encodes it as a base64 data URL.
func ImageDataURL(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	mime := "image/png"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		mime = "image/jpeg"
	case ".webp":
		mime = "image/webp"
	case ".gif":
		mime = "image/gif"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

// chatMessage content is either a string or a list of contentPart values.
type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message      chatCompletionMessage `json:"message"`
		Delta        chatCompletionMessage `json:"delta"`
		Text         string                `json:"text"`
		FinishReason string                `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type chatCompletionMessage struct {
	Content string `json:"content"`
	Refusal string `json:"refusal"`
}

func (c *Client) complete(ctx context.Context, payload chatCompletionRequest) (string, error) {
	return keypool.Run(ctx, c.executor, func(ctx context.Context, key string) (string, error) {
		completion, body, err := c.sendChatRequestOnce(ctx, key, payload)
		if err != nil {
			return "", err
		}
		content := extractCompletionPayload(completion)
		if content == "" {
			if refusal := extractCompletionRefusal(completion); refusal != "" {
				return "", fmt.Errorf("llm refused: %s", refusal)
			}
			return "", fmt.Errorf("%w (response_snippet=%s)",
				keypool.MissingField("choices[0].message.content"), summarizePayloadSnippet(string(body)))
		}
		return content, nil
	})
}

func extractCompletionPayload(completion chatCompletionResponse) string {
	if len(completion.Choices) == 0 {
		return ""
	}
	choice := completion.Choices[0]
	return firstNonEmpty(choice.Message.Content, choice.Delta.Content, choice.Text)
}

func extractCompletionRefusal(completion chatCompletionResponse) string {
	if len(completion.Choices) == 0 {
		return ""
	}
	choice := completion.Choices[0]
	return firstNonEmpty(choice.Message.Refusal, choice.Delta.Refusal)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func (c *Client) sendChatRequestOnce(ctx context.Context, key string, payload chatCompletionRequest) (chatCompletionResponse, []byte, error) {
	var completion chatCompletionResponse
	endpoint, err := url.JoinPath(c.cfg.BaseURL, completionsEndpoint)
	if err != nil {
		return completion, nil, fmt.Errorf("llm request: build url: %w", err)
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return completion, nil, fmt.Errorf("llm request: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return completion, nil, fmt.Errorf("llm request: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return completion, nil, fmt.Errorf("llm request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return completion, nil, keypool.NewStatusError(resp)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return completion, nil, fmt.Errorf("llm request: read body: %w", err)
	}
	if err := json.Unmarshal(body, &completion); err != nil {
		return completion, body, fmt.Errorf("llm request: decode response: %w", err)
	}
	if completion.Error != nil {
		return completion, body, fmt.Errorf("llm request: api error: %s", strings.TrimSpace(completion.Error.Message))
	}
	return completion, body, nil
}

// DecodeLLMJSON decodes JSON from an LLM response, handling common formatting quirks.
func DecodeLLMJSON(content string, target any) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return errors.New("empty payload")
	}

	directErr := json.Unmarshal([]byte(trimmed), target)
	if directErr == nil {
		return nil
	}

	// Strip code fences and extract the outermost object or array.
	sanitized := sanitizeJSONPayload(trimmed)
	if sanitized == "" || sanitized == trimmed {
		return fmt.Errorf("%w (payload snippet: %s)", directErr, summarizePayloadSnippet(trimmed))
	}

	sanitizedErr := json.Unmarshal([]byte(sanitized), target)
	if sanitizedErr == nil {
		return nil
	}
	return fmt.Errorf("%w (sanitized payload snippet: %s)", sanitizedErr, summarizePayloadSnippet(sanitized))
}

func sanitizeJSONPayload(content string) string {
	trimmed := strings.TrimSpace(stripCodeFenceBlock(content))
	if trimmed == "" {
		return ""
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return trimmed
	}
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			return strings.TrimSpace(trimmed[start : end+1])
		}
	}
	if start := strings.Index(trimmed, "["); start >= 0 {
		if end := strings.LastIndex(trimmed, "]"); end > start {
			return strings.TrimSpace(trimmed[start : end+1])
		}
	}
	return trimmed
}

func stripCodeFenceBlock(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	body := strings.TrimLeft(trimmed[3:], " \t\r\n")
	if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = strings.TrimLeft(body[4:], " \t\r\n")
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}

func summarizePayloadSnippet(content string) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "<empty>"
	}
	clean := strings.Join(strings.Fields(trimmed), " ")
	const limit = 160
	runes := []rune(clean)
	if len(runes) > limit {
		clean = string(runes[:limit]) + "..."
	}
	return clean
}
