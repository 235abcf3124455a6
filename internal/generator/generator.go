// Package generator turns a compiled prompt into raw model output via an
// OpenAI-compatible chat-completions endpoint.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	commonerrors "github.com/Nik853/semantic-layer-agent/internal/common/errors"
	"github.com/Nik853/semantic-layer-agent/internal/common/logger"
)

// Generator produces raw text for a prompt. The agent owns parsing and
// validation; the generator never inspects what the model said.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// statusError marks a non-2xx reply for the retry classifier.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("language model returned status %d: %s", e.status, e.body)
}

// transientGenerateError retries network faults, 429 and 5xx. A 2xx
// reply that arrived, however unusable its content, is never re-sent.
func transientGenerateError(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.status == http.StatusTooManyRequests || se.status >= 500
	}
	var re *replyError
	return !errors.As(err, &re)
}

// replyError marks a well-delivered reply with an unusable envelope.
type replyError struct {
	reason string
}

func (e *replyError) Error() string { return e.reason }

// HTTPGenerator is the production Generator.
type HTTPGenerator struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
	retry       commonerrors.RetryPolicy
	logger      logger.Logger
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Config carries the connection settings for the chat-completions API.
// Temperature stays at zero unless configured otherwise, because query
// generation wants reproducibility, not creativity.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxRetries  int
	Timeout     time.Duration
}

// NewHTTPGenerator builds the client.
func NewHTTPGenerator(cfg Config, log logger.Logger) *HTTPGenerator {
	retry := commonerrors.DefaultRetryPolicy(transientGenerateError)
	if cfg.MaxRetries > 0 {
		retry.MaxAttempts = cfg.MaxRetries
	}
	return &HTTPGenerator{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   1024,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		retry:       retry,
		logger:      log,
	}
}

// Generate sends the prompt and returns the first choice's content.
// Transport failures are retried; exhaustion surfaces as a
// generation-unavailable stage error.
func (g *HTTPGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	var content string

	err := g.retry.Do(ctx, func(ctx context.Context) error {
		out, genErr := g.generateOnce(ctx, prompt)
		if genErr != nil {
			return genErr
		}
		content = out
		return nil
	})
	if err != nil {
		g.logger.WithError(err).Error("Generation failed after retries")
		return "", commonerrors.NewGenerationUnavailableError(err)
	}
	return content, nil
}

func (g *HTTPGenerator) generateOnce(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       g.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read chat response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &statusError{status: resp.StatusCode, body: truncate(string(body), 200)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &replyError{reason: fmt.Sprintf("failed to parse chat response: %v", err)}
	}
	if parsed.Error != nil {
		return "", &replyError{reason: fmt.Sprintf("language model error: %s", parsed.Error.Message)}
	}
	if len(parsed.Choices) == 0 {
		return "", &replyError{reason: "chat response contains no choices"}
	}
	return parsed.Choices[0].Message.Content, nil
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
