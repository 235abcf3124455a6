package embedding

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

// statusError marks a non-2xx reply so the retry classifier can tell rate
// limits and server faults apart from semantic failures.
type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("embedding service returned status %d", e.status)
}

// transientEmbedError retries network faults, 429 and 5xx. Anything the
// service answered deliberately (4xx, unparsable body) is terminal.
func transientEmbedError(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.status == http.StatusTooManyRequests || se.status >= 500
	}
	var parseErr *responseError
	return !errors.As(err, &parseErr)
}

// responseError marks a reply that arrived but could not be used.
type responseError struct {
	reason string
}

func (e *responseError) Error() string { return e.reason }

// HTTPEmbedder calls an OpenAI-compatible /embeddings endpoint.
type HTTPEmbedder struct {
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	httpClient *http.Client
	retry      commonerrors.RetryPolicy
	logger     logger.Logger
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Config carries the connection settings for the embeddings API.
// BaseURL is the API root, e.g. http://localhost:8080/v1.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	MaxRetries int
	Timeout    time.Duration
}

// NewHTTPEmbedder builds the client.
func NewHTTPEmbedder(cfg Config, log logger.Logger) *HTTPEmbedder {
	retry := commonerrors.DefaultRetryPolicy(transientEmbedError)
	if cfg.MaxRetries > 0 {
		retry.MaxAttempts = cfg.MaxRetries
	}
	return &HTTPEmbedder{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retry:      retry,
		logger:     log,
	}
}

func (e *HTTPEmbedder) Name() string    { return e.model }
func (e *HTTPEmbedder) Dimensions() int { return e.dimensions }

// Embed requests a vector for text, retrying transient failures. The
// returned vector is L2-normalized.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var vector []float32

	err := e.retry.Do(ctx, func(ctx context.Context) error {
		v, embedErr := e.embedOnce(ctx, text)
		if embedErr != nil {
			return embedErr
		}
		vector = v
		return nil
	})
	if err != nil {
		e.logger.WithError(err).Error("Embedding request failed after retries")
		return nil, commonerrors.NewRetrievalUnavailableError(err)
	}
	return Normalize(vector), nil
}

func (e *HTTPEmbedder) embedOnce(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(embeddingRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{status: resp.StatusCode}
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &responseError{reason: fmt.Sprintf("failed to parse embedding response: %v", err)}
	}
	if parsed.Error != nil {
		return nil, &responseError{reason: fmt.Sprintf("embedding service error: %s", parsed.Error.Message)}
	}
	if len(parsed.Data) == 0 {
		return nil, &responseError{reason: "embedding response contains no data"}
	}

	vector := parsed.Data[0].Embedding
	if len(vector) != e.dimensions {
		return nil, &responseError{reason: fmt.Sprintf("embedding has dimension %d (want %d)", len(vector), e.dimensions)}
	}
	return vector, nil
}
