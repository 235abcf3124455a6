package executor

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
	"github.com/Nik853/semantic-layer-agent/pkg/cube"
)

func countQuery() *cube.Query {
	return &cube.Query{Measures: []string{"Issues.count"}, Limit: 100}
}

func TestExecuteReturnsRows(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/load", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var envelope struct {
			Query cube.Query `json:"query"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&envelope))
		assert.Equal(t, []string{"Issues.count"}, envelope.Query.Measures)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{{"Issues.count": 42}},
		})
	}))
	defer server.Close()

	e := New(server.URL, "", 5*time.Second, logger.NewTestLogger(t))
	rs, err := e.Execute(context.Background(), countQuery())
	require.NoError(t, err)
	require.Len(t, rs.Data, 1)
	assert.EqualValues(t, 42, rs.Data[0]["Issues.count"])
}

func TestExecuteClassifiesRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "Member Issues.bogus not found",
		})
	}))
	defer server.Close()

	e := New(server.URL, "", 5*time.Second, logger.NewTestLogger(t))
	_, err := e.Execute(context.Background(), countQuery())
	require.Error(t, err)

	se, ok := commonerrors.AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, commonerrors.ErrCodeExecutionRejected, se.Code)
	assert.Contains(t, se.Details, "Issues.bogus")
}

func TestExecuteClassifiesUnreachableLayerAsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	e := New(server.URL, "", 5*time.Second, logger.NewTestLogger(t))
	_, err := e.Execute(context.Background(), countQuery())
	require.Error(t, err)

	se, ok := commonerrors.AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, commonerrors.ErrCodeExecutionUnavailable, se.Code)
	assert.NotEqual(t, commonerrors.ErrCodeExecutionRejected, se.Code,
		"a network fault must not be treated as a query rejection")
}

func TestExecuteClassifiesServerFaultAsUnavailable(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "Internal Server Error"})
	}))
	defer server.Close()

	e := New(server.URL, "", 5*time.Second, logger.NewTestLogger(t))
	_, err := e.Execute(context.Background(), countQuery())
	require.Error(t, err)

	se, ok := commonerrors.AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, commonerrors.ErrCodeExecutionUnavailable, se.Code)
	assert.Equal(t, int32(3), calls.Load(), "server faults are retried before surfacing")
}

func TestExecuteRetriesServerFaultThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{{"Issues.count": 7}},
		})
	}))
	defer server.Close()

	e := New(server.URL, "", 5*time.Second, logger.NewTestLogger(t))
	rs, err := e.Execute(context.Background(), countQuery())
	require.NoError(t, err)
	require.Len(t, rs.Data, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestExecuteClassifiesTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	e := New(server.URL, "", 50*time.Millisecond, logger.NewTestLogger(t))
	_, err := e.Execute(context.Background(), countQuery())
	require.Error(t, err)

	se, ok := commonerrors.AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, commonerrors.ErrCodeExecutionTimeout, se.Code)
}

func TestExecuteContextDeadline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	e := New(server.URL, "", 5*time.Second, logger.NewTestLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := e.Execute(ctx, countQuery())
	require.Error(t, err)

	se, ok := commonerrors.AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, commonerrors.ErrCodeExecutionTimeout, se.Code)
}

func TestExecuteIgnoresContinueWaitMarker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": "Continue wait",
			"data":  []map[string]interface{}{},
		})
	}))
	defer server.Close()

	e := New(server.URL, "", 5*time.Second, logger.NewTestLogger(t))
	rs, err := e.Execute(context.Background(), countQuery())
	require.NoError(t, err)
	assert.Empty(t, rs.Data)
}

func TestSQLDiagnostics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sql", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"sql": map[string]interface{}{
				"sql": []interface{}{"SELECT count(*) FROM issues", []interface{}{}},
			},
		})
	}))
	defer server.Close()

	e := New(server.URL, "", 5*time.Second, logger.NewTestLogger(t))
	stmt, err := e.SQL(context.Background(), countQuery())
	require.NoError(t, err)
	assert.Contains(t, stmt, "SELECT")
}
