package lookup

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonerrors "github.com/Nik853/semantic-layer-agent/internal/common/errors"
	"github.com/Nik853/semantic-layer-agent/internal/common/logger"
)

func lookupServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/issues/PROJ-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Issue{
			Key:     "PROJ-1",
			Summary: "Login fails on Safari",
			Status:  "In Progress",
		})
	})
	mux.HandleFunc("/api/issues/PROJ-1/comments", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]Comment{
			{Author: "alice", Body: "reproduced on 17.2", CreatedAt: "2026-02-01T10:00:00Z"},
		})
	})
	mux.HandleFunc("/api/issues/PROJ-1/links", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]Link{
			{Type: "blocks", Outward: true, IssueKey: "PROJ-9", Summary: "Release 2.4"},
		})
	})
	mux.HandleFunc("/api/projects", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]Project{
			{ID: "10001", Key: "PROJ", Name: "Project One"},
		})
	})
	mux.HandleFunc("/api/projects/10001/issues", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "25", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode([]Issue{{Key: "PROJ-1"}, {Key: "PROJ-2"}})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	return httptest.NewServer(mux)
}

func TestIssueLookup(t *testing.T) {
	server := lookupServer(t)
	defer server.Close()

	c := New(server.URL, 5*time.Second, logger.NewTestLogger(t))

	issue, err := c.Issue(context.Background(), "PROJ-1")
	require.NoError(t, err)
	assert.Equal(t, "Login fails on Safari", issue.Summary)

	comments, err := c.Comments(context.Background(), "PROJ-1")
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "alice", comments[0].Author)

	links, err := c.Links(context.Background(), "PROJ-1")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "PROJ-9", links[0].IssueKey)
}

func TestIssueNotFound(t *testing.T) {
	server := lookupServer(t)
	defer server.Close()

	c := New(server.URL, 5*time.Second, logger.NewTestLogger(t))
	_, err := c.Issue(context.Background(), "PROJ-404")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	se, ok := commonerrors.AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, commonerrors.ErrCodeLookupFailed, se.Code)
}

func TestProjectResolution(t *testing.T) {
	server := lookupServer(t)
	defer server.Close()

	c := New(server.URL, 5*time.Second, logger.NewTestLogger(t))

	project, err := c.ProjectByKey(context.Background(), "proj")
	require.NoError(t, err)
	assert.Equal(t, "10001", project.ID)

	_, err = c.ProjectByKey(context.Background(), "NOPE")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestProjectIssues(t *testing.T) {
	server := lookupServer(t)
	defer server.Close()

	c := New(server.URL, 5*time.Second, logger.NewTestLogger(t))
	issues, err := c.ProjectIssues(context.Background(), "PROJ", 25)
	require.NoError(t, err)
	assert.Len(t, issues, 2)
}

func TestLookupRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(Issue{Key: "PROJ-1"})
	}))
	defer server.Close()

	c := New(server.URL, 5*time.Second, logger.NewTestLogger(t))
	issue, err := c.Issue(context.Background(), "PROJ-1")
	require.NoError(t, err)
	assert.Equal(t, "PROJ-1", issue.Key)
	assert.Equal(t, int32(2), calls.Load())
}

func TestLookupDoesNotRetryNotFound(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	c := New(server.URL, 5*time.Second, logger.NewTestLogger(t))
	_, err := c.Issue(context.Background(), "PROJ-1")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
