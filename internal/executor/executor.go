// Package executor posts validated queries to the semantic layer and
// classifies failures into the pipeline's error taxonomy.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	commonerrors "github.com/Nik853/semantic-layer-agent/internal/common/errors"
	"github.com/Nik853/semantic-layer-agent/internal/common/logger"
	"github.com/Nik853/semantic-layer-agent/pkg/cube"
)

// transportError marks a network fault: no reply ever arrived.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return fmt.Sprintf("load request failed: %v", e.err) }
func (e *transportError) Unwrap() error { return e.err }

// statusError marks a server-fault reply for the retry classifier.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("semantic layer returned status %d: %s", e.status, e.body)
}

// rejectionError marks a reply naming a problem with the query itself.
type rejectionError struct {
	reason string
}

func (e *rejectionError) Error() string { return e.reason }

// transientExecuteError retries network faults, 429 and 5xx. Timeouts are
// terminal: the query may still be running server-side and must never be
// re-posted. Rejections are semantic and go back to the generator.
func transientExecuteError(err error) bool {
	if isTimeout(err) {
		return false
	}
	var te *transportError
	if errors.As(err, &te) {
		return true
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.status == http.StatusTooManyRequests || se.status >= 500
	}
	return false
}

// Executor runs queries against the semantic layer's REST API.
type Executor struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	retry      commonerrors.RetryPolicy
	logger     logger.Logger
}

// New builds an Executor against the Cube REST API base URL.
func New(baseURL, authToken string, timeout time.Duration, log logger.Logger) *Executor {
	return &Executor{
		baseURL:    strings.TrimRight(baseURL, "/"),
		authToken:  authToken,
		httpClient: &http.Client{Timeout: timeout},
		retry:      commonerrors.DefaultRetryPolicy(transientExecuteError),
		logger:     log,
	}
}

// loadResponse is the /load envelope. "Continue wait" is the semantic
// layer's long-poll marker, not a result and not a rejection.
type loadResponse struct {
	Data  []cube.Row `json:"data"`
	Error string     `json:"error,omitempty"`
}

// Execute posts the query to /load, retrying transient server faults.
// A transport timeout or context deadline comes back as an
// execution-timeout error; a reply naming a query problem comes back as
// an execution-rejected error carrying the layer's reason for the
// regeneration pass; everything else, the layer never judged the query
// and the failure surfaces as execution-unavailable.
func (e *Executor) Execute(ctx context.Context, query *cube.Query) (*cube.ResultSet, error) {
	payload, err := json.Marshal(map[string]interface{}{"query": query})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	var rs *cube.ResultSet
	err = e.retry.Do(ctx, func(ctx context.Context) error {
		result, loadErr := e.loadOnce(ctx, payload)
		if loadErr != nil {
			return loadErr
		}
		rs = result
		return nil
	})
	if err == nil {
		return rs, nil
	}

	if isTimeout(err) {
		return nil, commonerrors.NewExecutionTimeoutError(err)
	}
	var re *rejectionError
	if errors.As(err, &re) {
		return nil, commonerrors.NewExecutionRejectedError(re.reason)
	}
	e.logger.WithError(err).Error("Query execution failed after retries")
	return nil, commonerrors.NewExecutionUnavailableError(err)
}

func (e *Executor) loadOnce(ctx context.Context, payload []byte) (*cube.ResultSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/load", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create load request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.authToken != "" {
		req.Header.Set("Authorization", e.authToken)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, &transportError{err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transportError{err: err}
	}

	var parsed loadResponse
	jsonErr := json.Unmarshal(body, &parsed)

	if parsed.Error != "" && parsed.Error != "Continue wait" {
		if resp.StatusCode >= 500 {
			return nil, &statusError{status: resp.StatusCode, body: parsed.Error}
		}
		return nil, &rejectionError{reason: parsed.Error}
	}
	if resp.StatusCode >= 500 {
		return nil, &statusError{status: resp.StatusCode, body: truncate(string(body), 300)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &rejectionError{reason: fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(string(body), 300))}
	}
	if jsonErr != nil {
		return nil, fmt.Errorf("unparsable load response: %v", jsonErr)
	}

	return &cube.ResultSet{Data: parsed.Data}, nil
}

// SQL asks the semantic layer how it would compile the query, for the
// trace log. Failures are non-fatal diagnostics.
func (e *Executor) SQL(ctx context.Context, query *cube.Query) (string, error) {
	payload, err := json.Marshal(map[string]interface{}{"query": query})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/sql", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.authToken != "" {
		req.Header.Set("Authorization", e.authToken)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("sql endpoint returned status %d", resp.StatusCode)
	}

	var parsed struct {
		SQL struct {
			SQL []interface{} `json:"sql"`
		} `json:"sql"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", err
	}
	if len(parsed.SQL.SQL) == 0 {
		return "", fmt.Errorf("sql endpoint returned no statement")
	}
	stmt, ok := parsed.SQL.SQL[0].(string)
	if !ok {
		return "", fmt.Errorf("sql endpoint returned unexpected shape")
	}
	return stmt, nil
}

// isTimeout covers client timeouts, context deadlines and net-level
// timeout errors.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}
	return false
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
