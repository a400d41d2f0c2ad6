package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/geny-ai/geny/internal/config"
	"github.com/geny-ai/geny/internal/httpkit"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Client is the raw provider call behind the gate: one prompt in, one
// text out, no streaming. Implementations must honor ctx cancellation;
// the gate applies the per-attempt timeout through the context.
type Client interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeminiClient calls the Gemini generateContent REST endpoint.
type GeminiClient struct {
	apiKey      string
	model       string
	baseURL     string
	temperature float64
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewGeminiClient creates a Gemini REST client. The model name may be
// given with or without the "models/" prefix.
func NewGeminiClient(apiKey, model, baseURL string, temperature float64, logger *slog.Logger) *GeminiClient {
	if logger == nil {
		logger = slog.Default()
	}
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}

	// Generation can take a while before headers arrive. Rely on the
	// per-attempt context deadline rather than a client-wide timeout.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 0

	return &GeminiClient{
		apiKey:      apiKey,
		model:       strings.TrimPrefix(model, "models/"),
		baseURL:     strings.TrimRight(baseURL, "/"),
		temperature: temperature,
		logger:      logger.With("provider", "gemini"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
		),
	}
}

// Gemini request/response types

type geminiRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	Temperature float64 `json:"temperature,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Generate sends one generateContent request and returns the first
// candidate's concatenated text parts.
func (c *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	req := geminiRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: prompt}},
		}},
	}
	if c.temperature > 0 {
		req.GenerationConfig = &geminiGenConfig{Temperature: c.temperature}
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	c.logger.Log(ctx, config.LevelTrace, "request payload", "json", string(jsonData))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("API error", "status", resp.StatusCode, "body", errBody)
		return "", fmt.Errorf("gemini API error %d: %s", resp.StatusCode, errBody)
	}

	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(out.Candidates) == 0 {
		return "", fmt.Errorf("empty response: no candidates")
	}

	var sb strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}

	text := sb.String()
	c.logger.Debug("reply received", "len", len(text))
	c.logger.Log(ctx, config.LevelTrace, "response content", "content", text)
	return text, nil
}
