package rag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"paperquery/internal/providers"
)

type State string

const (
	StateGuarding   State = "guarding"
	StateRetrieving State = "retrieving"
	StateReranking  State = "reranking"
	StateAssembling State = "assembling"
	StateGenerating State = "generating"
	StateExtracting State = "extracting"
	StateScoring    State = "scoring"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

const timeoutAdvice = "generation timed out; try lowering top_k or asking a simpler question"

type CandidateRetriever interface {
	Retrieve(ctx context.Context, queryID, question string, topK int, paperIDs []int64) ([]Candidate, error)
}

type CandidateReranker interface {
	Rerank(ctx context.Context, queryID, question string, candidates []Candidate, topK int) []Candidate
}

type Generator interface {
	Generate(ctx context.Context, req providers.GenerateRequest) (providers.GenerateResponse, providers.ProviderInfo, error)
	GenerateStream(ctx context.Context, req providers.GenerateRequest) (providers.TokenStream, providers.ProviderInfo, error)
}

type PipelineConfig struct {
	Model           string
	MaxAnswerTokens int
	Timeout         time.Duration
	Weights         ConfidenceWeights
}

// Pipeline sequences one query through guard, retrieval, reranking,
// assembly, generation, citation extraction and confidence scoring.
// It holds no per-query state, so concurrent queries are independent.
type Pipeline struct {
	retriever CandidateRetriever
	reranker  CandidateReranker
	gen       Generator
	cfg       PipelineConfig
	logger    *logrus.Logger
}

func NewPipeline(retriever CandidateRetriever, reranker CandidateReranker, gen Generator, cfg PipelineConfig, logger *logrus.Logger) *Pipeline {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.Weights == (ConfidenceWeights{}) {
		cfg.Weights = DefaultConfidenceWeights()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Pipeline{retriever: retriever, reranker: reranker, gen: gen, cfg: cfg, logger: logger}
}

func validateRequest(req QueryRequest, queryID string) *Error {
	if strings.TrimSpace(req.Question) == "" {
		return NewError(KindValidation, queryID, "question must not be empty", nil)
	}
	if req.TopK < 1 || req.TopK > 100 {
		return NewError(KindValidation, queryID, fmt.Sprintf("top_k must be between 1 and 100, got %d", req.TopK), nil)
	}
	for _, id := range req.PaperIDs {
		if id <= 0 {
			return NewError(KindValidation, queryID, fmt.Sprintf("invalid paper id %d", id), nil)
		}
	}
	return nil
}

// prepared is the shared front half of both query modes: everything up
// to and including the assembled prompt.
type prepared struct {
	entries []ContextEntry
	prompt  string
	guarded bool
}

func (p *Pipeline) prepare(ctx context.Context, queryID string, req QueryRequest) (prepared, *Error) {
	p.logState(queryID, StateGuarding)
	if IsConversational(req.Question) {
		return prepared{guarded: true}, nil
	}

	p.logState(queryID, StateRetrieving)
	candidates, err := p.retriever.Retrieve(ctx, queryID, req.Question, req.TopK, req.PaperIDs)
	if err != nil {
		return prepared{}, p.asPipelineError(queryID, KindRetrievalUnavailable, "retrieval backend unavailable", err)
	}

	p.logState(queryID, StateReranking)
	ranked := p.reranker.Rerank(ctx, queryID, req.Question, candidates, req.TopK)

	p.logState(queryID, StateAssembling)
	entries := BuildEntries(ranked)
	return prepared{entries: entries, prompt: BuildPrompt(req.Question, entries)}, nil
}

func (p *Pipeline) generateRequest(prompt string) providers.GenerateRequest {
	return providers.GenerateRequest{
		Operation:   "query",
		Prompt:      prompt,
		Model:       p.cfg.Model,
		MaxTokens:   p.cfg.MaxAnswerTokens,
		Temperature: 0,
	}
}

// Query answers synchronously.
func (p *Pipeline) Query(ctx context.Context, req QueryRequest) (QueryResult, error) {
	queryID := uuid.NewString()
	res := emptyResult(queryID)

	if verr := validateRequest(req, queryID); verr != nil {
		return res, verr
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	prep, perr := p.prepare(ctx, queryID, req)
	if perr != nil {
		p.logFailure(queryID, perr)
		return res, perr
	}
	if prep.guarded {
		res.Answer = GuardMessage
		p.logState(queryID, StateDone)
		return res, nil
	}

	p.logState(queryID, StateGenerating)
	resp, _, err := p.gen.Generate(ctx, p.generateRequest(prep.prompt))
	if err != nil {
		gerr := p.generationError(ctx, queryID, err)
		p.logFailure(queryID, gerr)
		return res, gerr
	}

	p.finalize(&res, queryID, resp.Text, prep.entries)
	return res, nil
}

// QueryStream runs the pipeline in streaming mode. The returned
// channel is closed when the stream terminates; cancel the context to
// abort mid-stream. A valid stream is token* metadata done, or an
// error event in place of done.
func (p *Pipeline) QueryStream(ctx context.Context, req QueryRequest) <-chan Event {
	events := make(chan Event)
	go func() {
		defer close(events)
		p.runStream(ctx, req, events)
	}()
	return events
}

func (p *Pipeline) runStream(ctx context.Context, req QueryRequest, events chan<- Event) {
	queryID := uuid.NewString()

	// Emission races only against the caller going away, not against
	// the pipeline's own timeout, so the terminal error event still
	// reaches a live consumer after a deadline expiry.
	emit := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if verr := validateRequest(req, queryID); verr != nil {
		emit(Event{Type: EventError, Err: verr})
		return
	}
	runCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	prep, perr := p.prepare(runCtx, queryID, req)
	if perr != nil {
		p.logFailure(queryID, perr)
		emit(Event{Type: EventError, Err: perr})
		return
	}
	if prep.guarded {
		if !emit(Event{Type: EventToken, Token: GuardMessage}) {
			return
		}
		meta := &Metadata{Citations: []Citation{}, SourcesUsed: []string{}, PaperIDsUsed: []int64{}}
		if !emit(Event{Type: EventMetadata, Metadata: meta}) {
			return
		}
		emit(Event{Type: EventDone})
		p.logState(queryID, StateDone)
		return
	}

	p.logState(queryID, StateGenerating)
	stream, _, err := p.gen.GenerateStream(runCtx, p.generateRequest(prep.prompt))
	if err != nil {
		gerr := p.generationError(runCtx, queryID, err)
		p.logFailure(queryID, gerr)
		emit(Event{Type: EventError, Err: gerr})
		return
	}
	defer stream.Close()

	var full strings.Builder
	for {
		token, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				// Caller went away; release the connection quietly.
				p.logState(queryID, StateFailed)
				return
			}
			gerr := p.generationError(runCtx, queryID, err)
			p.logFailure(queryID, gerr)
			emit(Event{Type: EventError, Err: gerr})
			return
		}
		if token == "" {
			continue
		}
		full.WriteString(token)
		if !emit(Event{Type: EventToken, Token: token}) {
			return
		}
	}

	res := emptyResult(queryID)
	p.finalize(&res, queryID, full.String(), prep.entries)
	meta := &Metadata{
		Citations:    res.Citations,
		SourcesUsed:  res.SourcesUsed,
		PaperIDsUsed: res.PaperIDsUsed,
		Confidence:   res.Confidence,
	}
	if !emit(Event{Type: EventMetadata, Metadata: meta}) {
		return
	}
	emit(Event{Type: EventDone})
}

// finalize runs extraction and scoring over the complete answer text.
func (p *Pipeline) finalize(res *QueryResult, queryID, answer string, entries []ContextEntry) {
	p.logState(queryID, StateExtracting)
	res.Answer = answer
	res.Citations = ExtractCitations(answer, entries)
	res.SourcesUsed = SourcesUsed(entries)
	res.PaperIDsUsed = PaperIDsUsed(entries)

	p.logState(queryID, StateScoring)
	scores := make([]float64, len(entries))
	for i, e := range entries {
		scores[i] = e.Score
	}
	res.Confidence = ScoreConfidence(scores, len(res.Citations), answer, p.cfg.Weights)
	p.logState(queryID, StateDone)
}

func emptyResult(queryID string) QueryResult {
	return QueryResult{
		QueryID:      queryID,
		Citations:    []Citation{},
		SourcesUsed:  []string{},
		PaperIDsUsed: []int64{},
	}
}

func (p *Pipeline) generationError(ctx context.Context, queryID string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return NewError(KindGenerationTimeout, queryID, timeoutAdvice, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return NewError(KindStreamAborted, queryID, "query cancelled", err)
	}
	return NewError(KindGenerationUnavailable, queryID, "language model backend unavailable", err)
}

func (p *Pipeline) asPipelineError(queryID string, kind ErrorKind, msg string, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewError(kind, queryID, msg, err)
}

func (p *Pipeline) logState(queryID string, s State) {
	p.logger.WithFields(logrus.Fields{"query_id": queryID, "state": string(s)}).Debug("pipeline state")
}

func (p *Pipeline) logFailure(queryID string, err *Error) {
	if err.Kind == KindStreamAborted {
		return
	}
	p.logger.WithFields(logrus.Fields{"query_id": queryID, "kind": string(err.Kind)}).WithError(err).Error("pipeline failed")
}
