// test/e2e/e2e_test.go
//
// End-to-end tests: the full HTTP surface wired against fake embedding,
// language-model, semantic-layer and lookup backends.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"hash/fnv"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nik853/semantic-layer-agent/internal/agent"
	"github.com/Nik853/semantic-layer-agent/internal/common/logger"
	"github.com/Nik853/semantic-layer-agent/internal/embedding"
	"github.com/Nik853/semantic-layer-agent/internal/executor"
	"github.com/Nik853/semantic-layer-agent/internal/generator"
	"github.com/Nik853/semantic-layer-agent/internal/lookup"
	"github.com/Nik853/semantic-layer-agent/internal/prompt"
	"github.com/Nik853/semantic-layer-agent/internal/retriever"
	"github.com/Nik853/semantic-layer-agent/internal/schema"
	"github.com/Nik853/semantic-layer-agent/internal/server"
	"github.com/Nik853/semantic-layer-agent/internal/validator"
	"github.com/Nik853/semantic-layer-agent/pkg/cube"
)

const embedDim = 16

// fakeEmbeddingServer answers /embeddings with a deterministic
// bag-of-words vector, so similar questions land near each other.
func fakeEmbeddingServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		vector := make([]float32, embedDim)
		for _, word := range strings.Fields(strings.ToLower(req.Input)) {
			h := fnv.New32a()
			h.Write([]byte(word))
			vector[h.Sum32()%embedDim]++
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{{"embedding": vector}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// fakeLLMServer replies from a scripted queue of raw outputs.
type fakeLLMServer struct {
	*httptest.Server
	mu      sync.Mutex
	outputs []string
	prompts []string
}

func newFakeLLMServer(t *testing.T, outputs ...string) *fakeLLMServer {
	t.Helper()
	f := &fakeLLMServer{outputs: outputs}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		f.mu.Lock()
		require.NotEmpty(t, f.outputs, "fake LLM out of scripted outputs")
		out := f.outputs[0]
		f.outputs = f.outputs[1:]
		if len(req.Messages) > 0 {
			f.prompts = append(f.prompts, req.Messages[0].Content)
		}
		f.mu.Unlock()

		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": out}},
			},
		})
	}))
	t.Cleanup(f.Server.Close)
	return f
}

// fakeCubeServer serves /load, rejecting any query that references a
// member outside the known set.
func fakeCubeServer(t *testing.T, known map[string]bool, rows []cube.Row) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/load" {
			http.NotFound(w, r)
			return
		}
		var envelope struct {
			Query cube.Query `json:"query"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&envelope))

		for _, member := range envelope.Query.Members() {
			if !known[member] {
				w.WriteHeader(http.StatusBadRequest)
				json.NewEncoder(w).Encode(map[string]string{
					"error": "Member " + member + " not found",
				})
				return
			}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"data": rows})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func catalogueFields() []schema.Field {
	return []schema.Field{
		{Name: "Issues.count", Kind: schema.KindMeasure, Entity: "Issues", Title: "Issue Count", ValueType: "number", AggType: "count"},
		{Name: "Issues.status", Kind: schema.KindDimension, Entity: "Issues", Title: "Status", ValueType: "string"},
		{Name: "Issues.priority", Kind: schema.KindDimension, Entity: "Issues", Title: "Priority", ValueType: "string"},
		{Name: "Issues.createdAt", Kind: schema.KindTimeDimension, Entity: "Issues", Title: "Created At", ValueType: "time"},
	}
}

type stack struct {
	ts  *httptest.Server
	llm *fakeLLMServer
}

// buildStack wires the whole pipeline: snapshot built through the fake
// embedding backend, saved, reloaded with checksum verification, then
// served over HTTP.
func buildStack(t *testing.T, llm *fakeLLMServer, cubeURL, lookupURL string) *stack {
	t.Helper()
	log := logger.NewTestLogger(t)

	embedSrv := fakeEmbeddingServer(t)
	embedder := embedding.NewHTTPEmbedder(embedding.Config{
		BaseURL:    embedSrv.URL + "/v1",
		Model:      "fake-model",
		Dimensions: embedDim,
		Timeout:    5 * time.Second,
	}, log)

	examples := []schema.Example{
		{Question: "how many issues are there in total?", Query: &cube.Query{Measures: []string{"Issues.count"}}},
		{Question: "count of issues by status", Query: &cube.Query{
			Measures:   []string{"Issues.count"},
			Dimensions: []string{"Issues.status"},
		}},
	}

	snap, err := schema.BuildSnapshot(context.Background(), catalogueFields(), examples, embedder)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, schema.SaveSnapshot(path, snap))
	snap, err = schema.LoadSnapshot(path)
	require.NoError(t, err)

	index, err := snap.Index()
	require.NoError(t, err)

	val, err := validator.New(index, 100, 10000, log)
	require.NoError(t, err)

	agentCore := agent.New(
		retriever.New(embedder, snap),
		prompt.NewGlossary([]prompt.Term{
			{Term: "open", Meaning: "issues not yet done", FilterField: "*.status", FilterValues: []string{"To Do", "In Progress"}},
		}),
		index,
		generator.NewHTTPGenerator(generator.Config{
			BaseURL: llm.URL + "/v1",
			Model:   "fake-model",
			Timeout: 5 * time.Second,
		}, log),
		val,
		executor.New(cubeURL, "", 5*time.Second, log),
		lookup.New(lookupURL, 5*time.Second, log),
		agent.Options{MaxRegenerations: 1},
		log,
	)

	srv := httptest.NewServer(server.New(agentCore, nil, 30*time.Second, log).Handler())
	t.Cleanup(srv.Close)
	return &stack{ts: srv, llm: llm}
}

func ask(t *testing.T, s *stack, question string) (*http.Response, map[string]interface{}) {
	t.Helper()
	payload, _ := json.Marshal(map[string]string{"question": question})
	resp, err := http.Post(s.ts.URL+"/ask", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp, body
}

func knownMembers() map[string]bool {
	known := make(map[string]bool)
	for _, f := range catalogueFields() {
		known[f.Name] = true
	}
	return known
}

func TestAnalyticsQuestionEndToEnd(t *testing.T) {
	llm := newFakeLLMServer(t, `{"measures":["Issues.count"]}`)
	cubeSrv := fakeCubeServer(t, knownMembers(), []cube.Row{{"Issues.count": float64(42)}})
	s := buildStack(t, llm, cubeSrv.URL, "http://localhost:0")

	resp, body := ask(t, s, "how many issues are there in total?")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "count: 42", body["answer"])
	assert.Equal(t, "analytics", body["intent"])
	assert.NotEmpty(t, body["requestId"])
}

func TestFencedNearMissOutputIsRepairedEndToEnd(t *testing.T) {
	llm := newFakeLLMServer(t, "```json\n{\"measures\": [\"Issues.Count\"], \"dimensions\": [\"Issues.statuses\"],}\n```")
	cubeSrv := fakeCubeServer(t, knownMembers(), []cube.Row{
		{"Issues.status": "Done", "Issues.count": float64(30)},
		{"Issues.status": "To Do", "Issues.count": float64(12)},
	})
	s := buildStack(t, llm, cubeSrv.URL, "http://localhost:0")

	resp, body := ask(t, s, "count of issues by status")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body["answer"], "status | count")
	assert.Contains(t, body["answer"], "Done | 30")
}

func TestRejectionTriggersOneRegenerationEndToEnd(t *testing.T) {
	// First output references a member the catalogue resolves but the
	// layer rejects at execution time; the corrected output succeeds.
	llm := newFakeLLMServer(t,
		`{"measures":["Issues.count"],"dimensions":["Issues.priority"]}`,
		`{"measures":["Issues.count"]}`,
	)
	known := knownMembers()
	delete(known, "Issues.priority")
	cubeSrv := fakeCubeServer(t, known, []cube.Row{{"Issues.count": float64(7)}})
	s := buildStack(t, llm, cubeSrv.URL, "http://localhost:0")

	resp, body := ask(t, s, "how many issues per priority?")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "count: 7", body["answer"])
	assert.Equal(t, true, body["regenerated"])

	llm.mu.Lock()
	defer llm.mu.Unlock()
	require.Len(t, llm.prompts, 2)
	assert.Contains(t, llm.prompts[1], "Member Issues.priority not found")
}

func TestMalformedOutputSurfacesAsUnprocessableEndToEnd(t *testing.T) {
	llm := newFakeLLMServer(t, "Sorry, I cannot translate that question.")
	cubeSrv := fakeCubeServer(t, knownMembers(), nil)
	s := buildStack(t, llm, cubeSrv.URL, "http://localhost:0")

	resp, body := ask(t, s, "how many gadgets?")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	errBody, ok := body["error"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "MALFORMED_QUERY", errBody["code"])
}

func TestIssueDetailEndToEnd(t *testing.T) {
	lookupSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/issues/PROJ-7":
			json.NewEncoder(w).Encode(lookup.Issue{Key: "PROJ-7", Summary: "Crash on save", Status: "Open"})
		case "/api/issues/PROJ-7/comments":
			json.NewEncoder(w).Encode([]lookup.Comment{{Author: "carol", Body: "stack trace attached"}})
		case "/api/issues/PROJ-7/links":
			json.NewEncoder(w).Encode([]lookup.Link{})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(lookupSrv.Close)

	llm := newFakeLLMServer(t)
	cubeSrv := fakeCubeServer(t, knownMembers(), nil)
	s := buildStack(t, llm, cubeSrv.URL, lookupSrv.URL)

	resp, body := ask(t, s, "tell me about PROJ-7")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "issue_detail", body["intent"])
	assert.Contains(t, body["answer"], "PROJ-7: Crash on save")
	assert.Contains(t, body["answer"], "carol")
}
