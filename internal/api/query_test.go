package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"paperquery/internal/models"
	"paperquery/internal/rag"
	"paperquery/internal/storage"
)

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleQuerySavesHistory(t *testing.T) {
	p := &fakePipeline{result: rag.QueryResult{
		QueryID:      "q1",
		Answer:       "Answer (Source 1).",
		Citations:    []rag.Citation{{PaperID: 7, SourceIndex: 1}},
		SourcesUsed:  []string{"Paper A"},
		PaperIDsUsed: []int64{7},
		Confidence:   0.81,
	}}
	queries := newFakeQueryStore()
	s := newTestServer(p, nil, nil, queries, nil)

	rec := postJSON(t, s.Routes(), "/api/query", `{"question":"What is raft?"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if p.lastReq.TopK != s.cfg.TopKDefault {
		t.Fatalf("topK = %d, want default %d", p.lastReq.TopK, s.cfg.TopKDefault)
	}
	var resp queryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Answer != "Answer (Source 1)." || resp.Confidence != 0.81 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.HistoryID != 1 {
		t.Fatalf("history id = %d, want 1", resp.HistoryID)
	}
	if len(queries.saved) != 1 {
		t.Fatalf("saved %d history rows, want 1", len(queries.saved))
	}
	rec0 := queries.saved[0]
	if rec0.Question != "What is raft?" || rec0.Confidence != 0.81 || len(rec0.PaperIDs) != 1 {
		t.Fatalf("unexpected history row %+v", rec0)
	}
}

func TestHandleQueryExplicitTopK(t *testing.T) {
	p := &fakePipeline{result: rag.QueryResult{}}
	s := newTestServer(p, nil, nil, nil, nil)

	postJSON(t, s.Routes(), "/api/query", `{"question":"q?","top_k":3}`)
	if p.lastReq.TopK != 3 {
		t.Fatalf("topK = %d, want 3", p.lastReq.TopK)
	}
}

func TestHandleQueryQuotedTitleFilter(t *testing.T) {
	p := &fakePipeline{result: rag.QueryResult{}}
	papers := newFakePaperStore()
	papers.readyTitles = map[int64]string{4: "Attention Is All You Need", 9: "Raft Consensus"}
	s := newTestServer(p, papers, nil, nil, nil)

	postJSON(t, s.Routes(), "/api/query", `{"question":"Summarize \"Attention Is All You Need\" please"}`)
	if len(p.lastReq.PaperIDs) != 1 || p.lastReq.PaperIDs[0] != 4 {
		t.Fatalf("paper ids = %v, want [4]", p.lastReq.PaperIDs)
	}
}

func TestHandleQueryTitleKeywordFilter(t *testing.T) {
	p := &fakePipeline{result: rag.QueryResult{}}
	papers := newFakePaperStore()
	papers.readyTitles = map[int64]string{1: "Blockchain Applications in Healthcare", 2: "Machine Learning Basics"}
	s := newTestServer(p, papers, nil, nil, nil)

	postJSON(t, s.Routes(), "/api/query", `{"question":"What are the applications of blockchain technology?"}`)
	if len(p.lastReq.PaperIDs) != 1 || p.lastReq.PaperIDs[0] != 1 {
		t.Fatalf("paper ids = %v, want [1]", p.lastReq.PaperIDs)
	}
}

func TestHandleQueryExplicitFilterWinsOverTitles(t *testing.T) {
	p := &fakePipeline{result: rag.QueryResult{}}
	papers := newFakePaperStore()
	papers.readyTitles = map[int64]string{4: "Attention Is All You Need"}
	s := newTestServer(p, papers, nil, nil, nil)

	postJSON(t, s.Routes(), "/api/query", `{"question":"About \"Attention Is All You Need\"","paper_ids":[8]}`)
	if len(p.lastReq.PaperIDs) != 1 || p.lastReq.PaperIDs[0] != 8 {
		t.Fatalf("paper ids = %v, want [8]", p.lastReq.PaperIDs)
	}
}

func TestHandleQueryErrorStatus(t *testing.T) {
	cases := []struct {
		kind rag.ErrorKind
		want int
	}{
		{rag.KindValidation, http.StatusBadRequest},
		{rag.KindRetrievalUnavailable, http.StatusBadGateway},
		{rag.KindGenerationUnavailable, http.StatusBadGateway},
		{rag.KindGenerationTimeout, http.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		p := &fakePipeline{err: rag.NewError(tc.kind, "q1", "boom", nil)}
		queries := newFakeQueryStore()
		s := newTestServer(p, nil, nil, queries, nil)

		rec := postJSON(t, s.Routes(), "/api/query", `{"question":"q?"}`)
		if rec.Code != tc.want {
			t.Fatalf("kind %s: status = %d, want %d", tc.kind, rec.Code, tc.want)
		}
		if len(queries.saved) != 0 {
			t.Fatalf("kind %s: failed query must not be saved to history", tc.kind)
		}
		var body struct {
			Error struct {
				Kind string `json:"kind"`
			} `json:"error"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if body.Error.Kind != string(tc.kind) {
			t.Fatalf("error kind = %q, want %q", body.Error.Kind, tc.kind)
		}
	}
}

func TestHandleQueryBadJSON(t *testing.T) {
	s := newTestServer(&fakePipeline{}, nil, nil, nil, nil)
	rec := postJSON(t, s.Routes(), "/api/query", `{"question":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleQueryStream(t *testing.T) {
	p := &fakePipeline{events: []rag.Event{
		{Type: rag.EventToken, Token: "Raft "},
		{Type: rag.EventToken, Token: "elects."},
		{Type: rag.EventMetadata, Metadata: &rag.Metadata{
			Citations:    []rag.Citation{{PaperID: 2, SourceIndex: 1}},
			SourcesUsed:  []string{"Raft Consensus"},
			PaperIDsUsed: []int64{2},
			Confidence:   0.7,
		}},
		{Type: rag.EventDone},
	}}
	queries := newFakeQueryStore()
	s := newTestServer(p, nil, nil, queries, nil)

	rec := postJSON(t, s.Routes(), "/api/query/stream", `{"question":"How does raft elect leaders?"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	body := rec.Body.String()
	wantOrder := []string{"event: token", "event: token", "event: metadata", "event: done"}
	idx := 0
	for _, want := range wantOrder {
		pos := strings.Index(body[idx:], want)
		if pos < 0 {
			t.Fatalf("missing %q after offset %d in body:\n%s", want, idx, body)
		}
		idx += pos + len(want)
	}
	if !strings.Contains(body, `"content":"Raft "`) {
		t.Fatalf("token payload missing from body:\n%s", body)
	}
	if !strings.Contains(body, `"confidence":0.7`) {
		t.Fatalf("metadata payload missing from body:\n%s", body)
	}
	if len(queries.saved) != 1 || queries.saved[0].Confidence != 0.7 {
		t.Fatalf("history not saved from stream metadata: %+v", queries.saved)
	}
}

func TestHandleQueryStreamError(t *testing.T) {
	p := &fakePipeline{events: []rag.Event{
		{Type: rag.EventError, Err: rag.NewError(rag.KindGenerationTimeout, "q1", "too slow", nil)},
	}}
	queries := newFakeQueryStore()
	s := newTestServer(p, nil, nil, queries, nil)

	rec := postJSON(t, s.Routes(), "/api/query/stream", `{"question":"q?"}`)
	body := rec.Body.String()
	if !strings.Contains(body, "event: error") || !strings.Contains(body, `"kind":"generation_timeout"`) {
		t.Fatalf("error event missing from body:\n%s", body)
	}
	if strings.Contains(body, "event: done") {
		t.Fatalf("error stream must not emit done:\n%s", body)
	}
	if len(queries.saved) != 0 {
		t.Fatal("failed stream must not be saved to history")
	}
}

func TestHandleRating(t *testing.T) {
	queries := newFakeQueryStore()
	queries.ratings[12] = 0
	s := newTestServer(&fakePipeline{}, nil, nil, queries, nil)
	h := s.Routes()

	rec := postJSON(t, h, "/api/queries/12/rating", `{"rating":4}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if queries.ratings[12] != 4 {
		t.Fatalf("rating = %d, want 4", queries.ratings[12])
	}

	rec = postJSON(t, h, "/api/queries/99/rating", `{"rating":4}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing query: status = %d, want 404", rec.Code)
	}

	rec = postJSON(t, h, "/api/queries/12/rating", `{"rating":6}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("out of range rating: status = %d, want 400", rec.Code)
	}
}

func TestHandleRecentQueries(t *testing.T) {
	queries := newFakeQueryStore()
	queries.recent = []models.QueryRecord{
		{ID: 2, Question: "second", PaperIDs: []int64{7}},
		{ID: 1, Question: "first", PaperIDs: []int64{7}},
	}
	papers := newFakePaperStore()
	papers.papers[7] = models.Paper{PaperID: 7, Filename: "raft.pdf", Status: "ready"}
	s := newTestServer(&fakePipeline{}, papers, nil, queries, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/queries/recent", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Queries []models.QueryRecord `json:"queries"`
		Papers  []models.Paper       `json:"papers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Queries) != 2 || body.Queries[0].Question != "second" {
		t.Fatalf("unexpected queries %+v", body.Queries)
	}
	if len(body.Papers) != 1 || body.Papers[0].PaperID != 7 {
		t.Fatalf("referenced papers not batched into response: %+v", body.Papers)
	}
}

func TestHandlePopularTopics(t *testing.T) {
	queries := newFakeQueryStore()
	queries.topics = []storage.TopicCount{{Topic: "raft", Count: 3}, {Topic: "paxos", Count: 1}}
	s := newTestServer(&fakePipeline{}, nil, nil, queries, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/topics/popular", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Topics []storage.TopicCount `json:"topics"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Topics) != 2 || body.Topics[0].Topic != "raft" {
		t.Fatalf("unexpected topics %+v", body.Topics)
	}
}
