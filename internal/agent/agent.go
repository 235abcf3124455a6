// Package agent orchestrates the question-to-answer pipeline: intent
// detection, retrieval, prompt compilation, generation, validation,
// execution and rendering.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	commonerrors "github.com/Nik853/semantic-layer-agent/internal/common/errors"
	"github.com/Nik853/semantic-layer-agent/internal/common/logger"
	"github.com/Nik853/semantic-layer-agent/internal/common/metrics"
	"github.com/Nik853/semantic-layer-agent/internal/generator"
	"github.com/Nik853/semantic-layer-agent/internal/lookup"
	"github.com/Nik853/semantic-layer-agent/internal/prompt"
	"github.com/Nik853/semantic-layer-agent/internal/renderer"
	"github.com/Nik853/semantic-layer-agent/internal/retriever"
	"github.com/Nik853/semantic-layer-agent/internal/schema"
	"github.com/Nik853/semantic-layer-agent/internal/validator"
	"github.com/Nik853/semantic-layer-agent/pkg/cube"
)

// Executor is the slice of the execution client the agent needs.
type Executor interface {
	Execute(ctx context.Context, query *cube.Query) (*cube.ResultSet, error)
	SQL(ctx context.Context, query *cube.Query) (string, error)
}

// Retriever is the slice of the retrieval engine the agent needs.
type Retriever interface {
	Retrieve(ctx context.Context, question string, fieldK, exampleK int) (*retriever.Result, error)
}

// Lookup is the slice of the raw-record client the agent needs.
type Lookup interface {
	Issue(ctx context.Context, key string) (*lookup.Issue, error)
	Comments(ctx context.Context, key string) ([]lookup.Comment, error)
	Links(ctx context.Context, key string) ([]lookup.Link, error)
	ProjectIssues(ctx context.Context, projectKey string, limit int) ([]lookup.Issue, error)
}

// Options bound the agent's behavior; they come from config.
type Options struct {
	RetrievalK            int
	PromptExamples        int
	MaxRegenerations      int
	MaxConcurrentRequests int
	ListLimit             int
}

// Answer is the rendered reply plus the trace a caller may expose.
type Answer struct {
	RequestID   string        `json:"requestId"`
	Intent      Intent        `json:"intent"`
	Text        string        `json:"text"`
	Query       *cube.Query   `json:"query,omitempty"`
	Regenerated bool          `json:"regenerated,omitempty"`
	Elapsed     time.Duration `json:"-"`
}

// Agent wires the pipeline stages together.
type Agent struct {
	retriever Retriever
	glossary  *prompt.Glossary
	index     *schema.Index
	generator generator.Generator
	validator *validator.Validator
	executor  Executor
	lookup    Lookup
	options   Options
	semaphore chan struct{}
	logger    logger.Logger
}

// New builds the agent. MaxConcurrentRequests sizes the admission
// semaphore; requests beyond it fail fast instead of queueing.
func New(
	r Retriever,
	glossary *prompt.Glossary,
	ix *schema.Index,
	gen generator.Generator,
	val *validator.Validator,
	exec Executor,
	look Lookup,
	opts Options,
	log logger.Logger,
) *Agent {
	if opts.MaxConcurrentRequests <= 0 {
		opts.MaxConcurrentRequests = 32
	}
	if opts.RetrievalK <= 0 {
		opts.RetrievalK = 10
	}
	if opts.PromptExamples <= 0 {
		opts.PromptExamples = 3
	}
	if opts.ListLimit <= 0 {
		opts.ListLimit = 50
	}
	return &Agent{
		retriever: r,
		glossary:  glossary,
		index:     ix,
		generator: gen,
		validator: val,
		executor:  exec,
		lookup:    look,
		options:   opts,
		semaphore: make(chan struct{}, opts.MaxConcurrentRequests),
		logger:    log,
	}
}

// Ask answers one question. It admits the request against the
// concurrency limit, classifies intent and runs the matching path.
// Returned errors are always StageErrors.
func (a *Agent) Ask(ctx context.Context, question string) (*Answer, error) {
	select {
	case a.semaphore <- struct{}{}:
		defer func() { <-a.semaphore }()
	default:
		metrics.RequestsFailed.WithLabelValues(commonerrors.StageAdmission, string(commonerrors.ErrCodeCapacityExceeded)).Inc()
		return nil, commonerrors.NewCapacityExceededError(a.options.MaxConcurrentRequests)
	}

	metrics.RequestsActive.Inc()
	defer metrics.RequestsActive.Dec()

	requestID := uuid.New().String()
	started := time.Now()

	classification := Classify(question)
	metrics.RequestsTotal.WithLabelValues(string(classification.Intent)).Inc()

	log := a.logger.WithFields(map[string]interface{}{
		"request_id": requestID,
		"intent":     string(classification.Intent),
	})
	log.WithFields(map[string]interface{}{"question": question}).Info("Processing question")

	var (
		answer *Answer
		err    error
	)
	switch classification.Intent {
	case IntentIssueDetail:
		answer, err = a.askIssueDetail(ctx, classification.IssueKey, log)
	case IntentIssueList:
		answer, err = a.askIssueList(ctx, classification.ProjectKey, log)
	default:
		answer, err = a.askAnalytics(ctx, question, log)
	}

	elapsed := time.Since(started)
	if err != nil {
		if se, ok := commonerrors.AsStageError(err); ok {
			metrics.RequestsFailed.WithLabelValues(se.Stage, string(se.Code)).Inc()
			log.WithFields(map[string]interface{}{
				"stage":      se.Stage,
				"error_code": string(se.Code),
				"elapsed_ms": elapsed.Milliseconds(),
			}).Error("Question failed")
			return nil, err
		}
		metrics.RequestsFailed.WithLabelValues("internal", string(commonerrors.ErrCodeInternal)).Inc()
		log.WithError(err).Error("Question failed with unclassified error")
		return nil, err
	}

	answer.RequestID = requestID
	answer.Intent = classification.Intent
	answer.Elapsed = elapsed
	log.WithFields(map[string]interface{}{"elapsed_ms": elapsed.Milliseconds()}).Info("Question answered")
	return answer, nil
}

// askAnalytics runs the full semantic layer pipeline, with one
// regeneration pass if the layer rejects the first query. Timeouts are
// never re-queried: the query may still be running server-side.
func (a *Agent) askAnalytics(ctx context.Context, question string, log logger.Logger) (*Answer, error) {
	stopRetrieval := stageTimer(commonerrors.StageRetrieval)
	retrieved, err := a.retriever.Retrieve(ctx, question, a.options.RetrievalK, a.options.PromptExamples)
	stopRetrieval()
	if err != nil {
		return nil, err
	}

	input := prompt.Input{
		Question:      question,
		Retrieved:     retrieved,
		GlossaryTerms: a.glossary.FindTerms(question),
		Index:         a.index,
	}

	regenerated := false
	for attempt := 0; ; attempt++ {
		compiled := prompt.Compile(input)

		stopGeneration := stageTimer(commonerrors.StageGeneration)
		raw, err := a.generator.Generate(ctx, compiled)
		stopGeneration()
		if err != nil {
			return nil, err
		}

		stopValidation := stageTimer(commonerrors.StageValidation)
		query, report, err := a.validator.Validate(raw)
		stopValidation()
		if err != nil {
			return nil, err
		}
		if len(report.Resolved) > 0 || len(report.Dropped) > 0 {
			log.WithFields(map[string]interface{}{
				"resolved": report.Resolved,
				"dropped":  report.Dropped,
			}).Debug("Validation adjusted generated query")
		}
		log.WithFields(map[string]interface{}{"query": query.CompactJSON()}).Debug("Executing query")

		stopExecution := stageTimer(commonerrors.StageExecution)
		rs, err := a.executor.Execute(ctx, query)
		stopExecution()
		if err != nil {
			se, ok := commonerrors.AsStageError(err)
			if ok && se.Code == commonerrors.ErrCodeExecutionRejected && attempt < a.options.MaxRegenerations {
				metrics.Regenerations.Inc()
				regenerated = true
				input.RejectionReason = se.Details
				log.WithFields(map[string]interface{}{
					"reason": se.Details,
				}).Warn("Query rejected, regenerating once")
				if sql, sqlErr := a.executor.SQL(ctx, query); sqlErr == nil {
					log.WithFields(map[string]interface{}{"sql": sql}).Debug("Rejected query compiled SQL")
				}
				continue
			}
			return nil, err
		}

		return &Answer{
			Text:        renderer.RenderResult(query, rs),
			Query:       query,
			Regenerated: regenerated,
		}, nil
	}
}

// stageTimer records a stage duration when the returned stop function
// runs.
func stageTimer(stage string) func() {
	start := time.Now()
	return func() {
		metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

func (a *Agent) askIssueDetail(ctx context.Context, key string, log logger.Logger) (*Answer, error) {
	issue, err := a.lookup.Issue(ctx, key)
	if err != nil {
		if lookup.IsNotFound(err) {
			return &Answer{Text: fmt.Sprintf("Issue %s was not found.", key)}, nil
		}
		return nil, err
	}

	// Comments and links enrich the answer but never fail it.
	comments, err := a.lookup.Comments(ctx, key)
	if err != nil {
		log.WithError(err).Warn("Comment lookup failed, answering without comments")
		comments = nil
	}
	links, err := a.lookup.Links(ctx, key)
	if err != nil {
		log.WithError(err).Warn("Link lookup failed, answering without links")
		links = nil
	}

	return &Answer{Text: renderer.RenderIssue(issue, comments, links)}, nil
}

func (a *Agent) askIssueList(ctx context.Context, projectKey string, log logger.Logger) (*Answer, error) {
	issues, err := a.lookup.ProjectIssues(ctx, projectKey, a.options.ListLimit)
	if err != nil {
		if lookup.IsNotFound(err) {
			return &Answer{Text: fmt.Sprintf("Project %s was not found.", projectKey)}, nil
		}
		return nil, err
	}
	return &Answer{Text: renderer.RenderIssueList(issues)}, nil
}
