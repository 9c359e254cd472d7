package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"itinerary_pipeline/internal/domain"
)

// maxPromptTextLen caps how much raw page text goes into the prompt.
const maxPromptTextLen = 15000

// Config holds extraction client configuration. BaseURL points at any
// OpenAI-compatible completions endpoint.
type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	Timeout        time.Duration
	Temperature    float64
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Client turns raw itinerary text into the structured training schema by
// calling a chat-completions model and validating the returned JSON.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	model          string
	temperature    float64
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	validate       *validator.Validate
	logger         *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:         cfg.APIKey,
		model:          cfg.Model,
		temperature:    cfg.Temperature,
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		validate:       validator.New(),
		logger:         logger.With("component", "extractor"),
	}
}

// ModelName reports the configured model identifier for audit columns.
func (c *Client) ModelName() string {
	return c.model
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Extract prompts the model with the raw text and returns the validated
// structured payload. Any failure (transport, non-2xx, malformed JSON,
// schema violation) is returned as an error suitable for persisting on
// the raw record.
func (c *Client) Extract(ctx context.Context, rawText, sourceURL, operatorName string) (*domain.ExtractionResult, error) {
	start := time.Now()

	prompt := buildPrompt(truncate(rawText, maxPromptTextLen), sourceURL, operatorName)

	reqBody, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are a travel data extraction expert. Always return valid JSON."},
			{Role: "user", Content: prompt},
		},
		Temperature:    c.temperature,
		ResponseFormat: responseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	chatResp, err := c.complete(ctx, reqBody)
	if err != nil {
		return nil, err
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("extraction returned no choices")
	}

	content := chatResp.Choices[0].Message.Content

	var data domain.TrainingData
	if err := json.Unmarshal([]byte(content), &data); err != nil {
		return nil, fmt.Errorf("JSON parsing error: %w", err)
	}
	if err := c.validate.Struct(data); err != nil {
		return nil, fmt.Errorf("invalid extraction payload: %w", err)
	}

	result := &domain.ExtractionResult{
		Data:    data,
		RawJSON: json.RawMessage(content),
		Model:   c.model,
		Latency: time.Since(start),
	}
	if chatResp.Usage != nil {
		result.TokensUsed = &chatResp.Usage.TotalTokens
	}

	c.logger.Info("extraction completed",
		"model", c.model,
		"latency", result.Latency,
		"tour_title", data.TourIdentity.TourTitle,
	)

	return result, nil
}

// complete posts the request, retrying transport errors and 5xx
// responses with exponential backoff. Client errors (4xx) are final on
// the first attempt.
func (c *Client) complete(ctx context.Context, reqBody []byte) (*chatResponse, error) {
	var resp *chatResponse
	var retryable bool
	var err error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		resp, retryable, err = c.doRequest(ctx, reqBody)
		if err == nil {
			return resp, nil
		}

		if !retryable || attempt == c.maxAttempts {
			break
		}

		backoff := c.calculateBackoff(attempt)
		c.logger.Warn("extraction request failed, retrying",
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	if retryable {
		return nil, fmt.Errorf("after %d attempts: %w", c.maxAttempts, err)
	}
	return nil, err
}

func (c *Client) doRequest(ctx context.Context, reqBody []byte) (*chatResponse, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("extraction request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, resp.StatusCode >= 500,
			fmt.Errorf("extraction request failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, false, fmt.Errorf("decode response: %w", err)
	}

	return &chatResp, false, nil
}

func (c *Client) calculateBackoff(attempt int) time.Duration {
	backoff := c.initialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	if backoff > c.maxBackoff {
		backoff = c.maxBackoff
	}
	return backoff
}

// buildPrompt fills the template via a replacer because the template
// body contains literal percent signs.
func buildPrompt(rawText, sourceURL, operatorName string) string {
	return strings.NewReplacer(
		"{source_url}", sourceURL,
		"{operator_name}", operatorName,
		"{raw_text}", rawText,
	).Replace(extractionPrompt)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
