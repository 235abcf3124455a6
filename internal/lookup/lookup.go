// Package lookup answers single-issue questions with direct REST reads
// instead of the semantic layer, which only serves aggregates.
package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	commonerrors "github.com/Nik853/semantic-layer-agent/internal/common/errors"
	"github.com/Nik853/semantic-layer-agent/internal/common/logger"
)

// Issue is the raw-record shape the lookup service returns. Unknown
// fields are kept in Extra so new upstream columns surface without a
// code change.
type Issue struct {
	Key         string                 `json:"key"`
	Summary     string                 `json:"summary"`
	Status      string                 `json:"status"`
	Priority    string                 `json:"priority"`
	IssueType   string                 `json:"issueType"`
	Assignee    string                 `json:"assignee"`
	Reporter    string                 `json:"reporter"`
	ProjectKey  string                 `json:"projectKey"`
	Description string                 `json:"description"`
	CreatedAt   string                 `json:"createdAt"`
	UpdatedAt   string                 `json:"updatedAt"`
	Extra       map[string]interface{} `json:"-"`
}

// Comment is a single issue comment.
type Comment struct {
	Author    string `json:"author"`
	Body      string `json:"body"`
	CreatedAt string `json:"createdAt"`
}

// Link relates two issues.
type Link struct {
	Type     string `json:"type"`
	Outward  bool   `json:"outward"`
	IssueKey string `json:"issueKey"`
	Summary  string `json:"summary"`
}

// Project identifies a project by key and internal id.
type Project struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
}

// Client reads raw issue records from the lookup service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retry      commonerrors.RetryPolicy
	logger     logger.Logger
}

// New builds the lookup client.
func New(baseURL string, timeout time.Duration, log logger.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		retry:      commonerrors.DefaultRetryPolicy(transientLookupError),
		logger:     log,
	}
}

// notFoundError distinguishes a missing record from a broken service.
type notFoundError struct {
	resource string
}

func (e *notFoundError) Error() string { return e.resource + " not found" }

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	var nf *notFoundError
	return errors.As(err, &nf)
}

// transientLookupError retries everything except a definite 404.
func transientLookupError(err error) bool {
	return !IsNotFound(err)
}

// Issue fetches one issue by key, e.g. PROJ-123.
func (c *Client) Issue(ctx context.Context, key string) (*Issue, error) {
	var issue Issue
	path := "/api/issues/" + url.PathEscape(key)
	if err := c.getJSON(ctx, path, &issue); err != nil {
		return nil, c.classify(path, err)
	}
	return &issue, nil
}

// Comments fetches the comments of one issue, newest last.
func (c *Client) Comments(ctx context.Context, key string) ([]Comment, error) {
	var comments []Comment
	path := "/api/issues/" + url.PathEscape(key) + "/comments"
	if err := c.getJSON(ctx, path, &comments); err != nil {
		return nil, c.classify(path, err)
	}
	return comments, nil
}

// Links fetches the issue links of one issue.
func (c *Client) Links(ctx context.Context, key string) ([]Link, error) {
	var links []Link
	path := "/api/issues/" + url.PathEscape(key) + "/links"
	if err := c.getJSON(ctx, path, &links); err != nil {
		return nil, c.classify(path, err)
	}
	return links, nil
}

// ProjectByKey resolves a human project key like "PROJ" to its project
// record, matching case-insensitively.
func (c *Client) ProjectByKey(ctx context.Context, key string) (*Project, error) {
	var projects []Project
	path := "/api/projects"
	if err := c.getJSON(ctx, path, &projects); err != nil {
		return nil, c.classify(path, err)
	}
	for _, p := range projects {
		if strings.EqualFold(p.Key, key) {
			return &p, nil
		}
	}
	return nil, commonerrors.NewLookupFailedError(path, &notFoundError{resource: "project " + key})
}

// ProjectIssues lists the issues of one project, newest first, capped by
// limit.
func (c *Client) ProjectIssues(ctx context.Context, projectKey string, limit int) ([]Issue, error) {
	project, err := c.ProjectByKey(ctx, projectKey)
	if err != nil {
		return nil, err
	}

	var issues []Issue
	path := fmt.Sprintf("/api/projects/%s/issues?limit=%d", url.PathEscape(project.ID), limit)
	if err := c.getJSON(ctx, path, &issues); err != nil {
		return nil, c.classify(path, err)
	}
	return issues, nil
}

func (c *Client) classify(path string, err error) error {
	if _, ok := commonerrors.AsStageError(err); ok {
		return err
	}
	return commonerrors.NewLookupFailedError(path, err)
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	return c.retry.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return &notFoundError{resource: path}
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("lookup %s returned status %d", path, resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(out)
	})
}
