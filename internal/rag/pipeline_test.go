package rag

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"paperquery/internal/providers"
)

type fakeRetriever struct {
	cands []Candidate
	err   error
	calls int
}

func (f *fakeRetriever) Retrieve(ctx context.Context, queryID, question string, topK int, paperIDs []int64) ([]Candidate, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.cands, nil
}

type passReranker struct{}

func (passReranker) Rerank(ctx context.Context, queryID, question string, candidates []Candidate, topK int) []Candidate {
	return truncate(candidates, topK)
}

type fakeTokenStream struct {
	tokens []string
	pos    int
	ctx    context.Context
	block  bool
	closed bool
}

func (s *fakeTokenStream) Recv() (string, error) {
	if s.block {
		<-s.ctx.Done()
		return "", s.ctx.Err()
	}
	if s.pos >= len(s.tokens) {
		return "", io.EOF
	}
	tok := s.tokens[s.pos]
	s.pos++
	return tok, nil
}

func (s *fakeTokenStream) Close() error {
	s.closed = true
	return nil
}

type fakeGen struct {
	text       string
	err        error
	lastPrompt string
	tokens     []string
	blockRecv  bool
	stream     *fakeTokenStream
}

func (f *fakeGen) Generate(ctx context.Context, req providers.GenerateRequest) (providers.GenerateResponse, providers.ProviderInfo, error) {
	f.lastPrompt = req.Prompt
	if f.err != nil {
		return providers.GenerateResponse{}, providers.ProviderInfo{}, f.err
	}
	return providers.GenerateResponse{Text: f.text}, providers.ProviderInfo{Name: "fake"}, nil
}

func (f *fakeGen) GenerateStream(ctx context.Context, req providers.GenerateRequest) (providers.TokenStream, providers.ProviderInfo, error) {
	f.lastPrompt = req.Prompt
	if f.err != nil {
		return nil, providers.ProviderInfo{}, f.err
	}
	f.stream = &fakeTokenStream{tokens: f.tokens, ctx: ctx, block: f.blockRecv}
	return f.stream, providers.ProviderInfo{Name: "fake"}, nil
}

func fiveCandidates() []Candidate {
	scores := []float64{0.92, 0.88, 0.81, 0.77, 0.70}
	out := make([]Candidate, 0, len(scores))
	for i, s := range scores {
		c := candidate("c"+string(rune('a'+i)), s, "chunk text about scalability", "Paper "+string(rune('A'+i)))
		c.Chunk.PaperID = int64(i + 1)
		c.Chunk.Filename = "paper" + string(rune('a'+i)) + ".pdf"
		out = append(out, c)
	}
	return out
}

func newTestPipeline(r CandidateRetriever, g Generator) *Pipeline {
	return NewPipeline(r, passReranker{}, g, PipelineConfig{Model: "llama3", MaxAnswerTokens: 256, Timeout: time.Minute}, quietLogger())
}

func TestQueryGuardShortCircuit(t *testing.T) {
	r := &fakeRetriever{}
	p := newTestPipeline(r, &fakeGen{text: "should not be called"})

	res, err := p.Query(context.Background(), QueryRequest{Question: "hello", TopK: 5})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Answer != GuardMessage {
		t.Fatalf("expected guard message, got %q", res.Answer)
	}
	if res.Confidence != 0 || len(res.Citations) != 0 {
		t.Fatalf("guard result must carry zero confidence and no citations: %+v", res)
	}
	if r.calls != 0 {
		t.Fatal("guard must skip retrieval")
	}
}

func TestQueryValidation(t *testing.T) {
	r := &fakeRetriever{}
	p := newTestPipeline(r, &fakeGen{})

	cases := []QueryRequest{
		{Question: "", TopK: 5},
		{Question: "what is blockchain scalability?", TopK: 0},
		{Question: "what is blockchain scalability?", TopK: 101},
		{Question: "what is blockchain scalability?", TopK: 5, PaperIDs: []int64{-1}},
	}
	for _, req := range cases {
		_, err := p.Query(context.Background(), req)
		if KindOf(err) != KindValidation {
			t.Fatalf("expected validation error for %+v, got %v", req, err)
		}
	}
	if r.calls != 0 {
		t.Fatal("validation must happen before retrieval")
	}

	if _, err := p.Query(context.Background(), QueryRequest{Question: "what is blockchain scalability?", TopK: 100}); err != nil {
		t.Fatalf("top_k=100 must be accepted: %v", err)
	}
	if _, err := p.Query(context.Background(), QueryRequest{Question: "what is blockchain scalability?", TopK: 1}); err != nil {
		t.Fatalf("top_k=1 must be accepted: %v", err)
	}
}

func TestQueryFullFlow(t *testing.T) {
	r := &fakeRetriever{cands: fiveCandidates()}
	g := &fakeGen{text: "Scalability refers to throughput limits (Source 1) and latency (Source 2)."}
	p := newTestPipeline(r, g)

	res, err := p.Query(context.Background(), QueryRequest{Question: "What is blockchain scalability?", TopK: 5})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	for i := 1; i <= 5; i++ {
		if !strings.Contains(g.lastPrompt, "[Source "+string(rune('0'+i))+"]") {
			t.Fatalf("prompt missing source block %d", i)
		}
	}
	if len(res.Citations) != 2 || res.Citations[0].SourceIndex != 1 || res.Citations[1].SourceIndex != 2 {
		t.Fatalf("unexpected citations: %+v", res.Citations)
	}
	for _, c := range res.Citations {
		if c.SourceIndex < 1 || c.SourceIndex > 5 {
			t.Fatalf("citation references entry outside prompt: %+v", c)
		}
	}
	if res.Confidence <= 0 || res.Confidence > 1 {
		t.Fatalf("confidence out of range: %f", res.Confidence)
	}
	if len(res.SourcesUsed) != 5 || len(res.PaperIDsUsed) != 5 {
		t.Fatalf("expected 5 distinct sources and papers: %+v", res)
	}
}

func TestQueryRespectsTopK(t *testing.T) {
	r := &fakeRetriever{cands: fiveCandidates()}
	g := &fakeGen{text: "answer"}
	p := newTestPipeline(r, g)

	if _, err := p.Query(context.Background(), QueryRequest{Question: "What is blockchain scalability?", TopK: 1}); err != nil {
		t.Fatalf("query: %v", err)
	}
	if strings.Contains(g.lastPrompt, "[Source 2]") {
		t.Fatal("top_k=1 must produce at most one context entry")
	}
}

func TestQueryRetrievalUnavailable(t *testing.T) {
	r := &fakeRetriever{err: NewError(KindRetrievalUnavailable, "q", "vector search unreachable", errors.New("refused"))}
	p := newTestPipeline(r, &fakeGen{})

	_, err := p.Query(context.Background(), QueryRequest{Question: "What is blockchain scalability?", TopK: 5})
	if KindOf(err) != KindRetrievalUnavailable {
		t.Fatalf("expected retrieval_unavailable, got %v", err)
	}
}

func TestQueryGenerationUnavailable(t *testing.T) {
	r := &fakeRetriever{cands: fiveCandidates()}
	p := newTestPipeline(r, &fakeGen{err: errors.New("connection refused")})

	_, err := p.Query(context.Background(), QueryRequest{Question: "What is blockchain scalability?", TopK: 5})
	if KindOf(err) != KindGenerationUnavailable {
		t.Fatalf("expected generation_unavailable, got %v", err)
	}
}

func collectEvents(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestQueryStreamOrdering(t *testing.T) {
	r := &fakeRetriever{cands: fiveCandidates()}
	g := &fakeGen{tokens: []string{"Throughput ", "limits ", "(Source 1)."}}
	p := newTestPipeline(r, g)

	events := collectEvents(t, p.QueryStream(context.Background(), QueryRequest{Question: "What is blockchain scalability?", TopK: 5}))
	if len(events) < 3 {
		t.Fatalf("expected tokens, metadata and done, got %+v", events)
	}

	var text string
	metaSeen := false
	doneSeen := false
	for _, ev := range events {
		switch ev.Type {
		case EventToken:
			if metaSeen || doneSeen {
				t.Fatal("token event after metadata/done")
			}
			text += ev.Token
		case EventMetadata:
			if metaSeen {
				t.Fatal("duplicate metadata event")
			}
			if doneSeen {
				t.Fatal("metadata after done")
			}
			metaSeen = true
			if len(ev.Metadata.Citations) != 1 || ev.Metadata.Citations[0].SourceIndex != 1 {
				t.Fatalf("metadata citations wrong: %+v", ev.Metadata)
			}
			if ev.Metadata.Confidence <= 0 {
				t.Fatal("expected positive confidence with a citation")
			}
		case EventDone:
			doneSeen = true
		case EventError:
			t.Fatalf("unexpected error event: %v", ev.Err)
		}
	}
	if !metaSeen || !doneSeen {
		t.Fatalf("missing metadata or done: %+v", events)
	}
	if text != "Throughput limits (Source 1)." {
		t.Fatalf("token concatenation mismatch: %q", text)
	}
}

func TestQueryStreamGuard(t *testing.T) {
	p := newTestPipeline(&fakeRetriever{}, &fakeGen{})
	events := collectEvents(t, p.QueryStream(context.Background(), QueryRequest{Question: "hi", TopK: 5}))
	if len(events) != 3 || events[0].Type != EventToken || events[0].Token != GuardMessage {
		t.Fatalf("unexpected guard stream: %+v", events)
	}
	if events[1].Type != EventMetadata || events[1].Metadata.Confidence != 0 {
		t.Fatalf("guard metadata wrong: %+v", events[1])
	}
	if events[2].Type != EventDone {
		t.Fatalf("expected done terminal event: %+v", events[2])
	}
}

func TestQueryStreamTimeout(t *testing.T) {
	r := &fakeRetriever{cands: fiveCandidates()}
	g := &fakeGen{blockRecv: true}
	p := NewPipeline(r, passReranker{}, g, PipelineConfig{Model: "llama3", Timeout: 50 * time.Millisecond}, quietLogger())

	events := collectEvents(t, p.QueryStream(context.Background(), QueryRequest{Question: "What is blockchain scalability?", TopK: 5}))
	if len(events) == 0 {
		t.Fatal("expected a terminal error event")
	}
	last := events[len(events)-1]
	if last.Type != EventError {
		t.Fatalf("expected error terminal event, got %+v", last)
	}
	if last.Err.Kind != KindGenerationTimeout {
		t.Fatalf("expected timeout kind, got %s", last.Err.Kind)
	}
	if !strings.Contains(last.Err.Message, "top_k") {
		t.Fatalf("timeout message should be actionable: %q", last.Err.Message)
	}
	for _, ev := range events {
		if ev.Type == EventMetadata || ev.Type == EventDone {
			t.Fatal("no metadata/done may follow an error")
		}
	}
	if g.stream != nil && !g.stream.closed {
		t.Fatal("generation stream must be closed on timeout")
	}
}

func TestQueryStreamCancelReleasesConnection(t *testing.T) {
	r := &fakeRetriever{cands: fiveCandidates()}
	g := &fakeGen{blockRecv: true}
	p := newTestPipeline(r, g)

	ctx, cancel := context.WithCancel(context.Background())
	ch := p.QueryStream(ctx, QueryRequest{Question: "What is blockchain scalability?", TopK: 5})

	time.Sleep(20 * time.Millisecond)
	cancel()

	for range ch {
	}
	if g.stream == nil || !g.stream.closed {
		t.Fatal("generation stream must be closed after cancellation")
	}
}
