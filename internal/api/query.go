package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"paperquery/internal/models"
	"paperquery/internal/rag"
	"paperquery/internal/storage"
)

type queryRequest struct {
	Question string  `json:"question"`
	TopK     *int    `json:"top_k"`
	PaperIDs []int64 `json:"paper_ids"`
}

type queryResponse struct {
	rag.QueryResult
	HistoryID      int64 `json:"history_id,omitempty"`
	ResponseTimeMs int   `json:"response_time_ms"`
}

func (s *Server) decodeQueryRequest(r *http.Request) (rag.QueryRequest, error) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return rag.QueryRequest{}, fmt.Errorf("invalid json: %w", err)
	}
	out := rag.QueryRequest{
		Question: strings.TrimSpace(req.Question),
		TopK:     s.cfg.TopKDefault,
		PaperIDs: req.PaperIDs,
	}
	if req.TopK != nil {
		out.TopK = *req.TopK
	}
	// A paper title quoted in the question, or sharing keywords with
	// it, acts as an implicit filter unless the caller already scoped
	// the query.
	if len(out.PaperIDs) == 0 {
		titles, err := s.papers.ListReadyTitles(r.Context())
		if err != nil {
			s.logger.WithError(err).Warn("title lookup failed, skipping auto filter")
		} else if matched := rag.GuessPaperIDs(out.Question, titles); len(matched) > 0 {
			out.PaperIDs = matched
		}
	}
	return out, nil
}

func statusForKind(kind rag.ErrorKind) int {
	switch kind {
	case rag.KindValidation:
		return http.StatusBadRequest
	case rag.KindGenerationTimeout:
		return http.StatusGatewayTimeout
	case rag.KindRetrievalUnavailable, rag.KindGenerationUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writePipelineErr(w http.ResponseWriter, err error) {
	var e *rag.Error
	if errors.As(err, &e) {
		writeJSON(w, statusForKind(e.Kind), map[string]any{"error": e})
		return
	}
	writeErr(w, http.StatusInternalServerError, err)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeQueryRequest(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	start := time.Now()
	res, err := s.pipeline.Query(r.Context(), req)
	if err != nil {
		writePipelineErr(w, err)
		return
	}
	elapsed := int(time.Since(start).Milliseconds())

	historyID := s.saveHistory(r, req.Question, res.PaperIDsUsed, elapsed, res.Confidence)
	writeJSON(w, http.StatusOK, queryResponse{QueryResult: res, HistoryID: historyID, ResponseTimeMs: elapsed})
}

// handleQueryStream answers over SSE. Event names mirror the pipeline
// event types; the stream ends with done, or with a single error event.
func (s *Server) handleQueryStream(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeQueryRequest(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErr(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	start := time.Now()
	var (
		confidence float64
		paperIDs   []int64
	)
	for ev := range s.pipeline.QueryStream(r.Context(), req) {
		switch ev.Type {
		case rag.EventToken:
			writeSSE(w, flusher, ev.Type, map[string]string{"content": ev.Token})
		case rag.EventMetadata:
			if ev.Metadata != nil {
				confidence = ev.Metadata.Confidence
				paperIDs = ev.Metadata.PaperIDsUsed
			}
			writeSSE(w, flusher, ev.Type, ev.Metadata)
		case rag.EventDone:
			elapsed := int(time.Since(start).Milliseconds())
			s.saveHistory(r, req.Question, paperIDs, elapsed, confidence)
			writeSSE(w, flusher, ev.Type, map[string]any{})
		case rag.EventError:
			writeSSE(w, flusher, ev.Type, ev.Err)
		}
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event rag.EventType, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}

// saveHistory records the answered query; failures are logged and do
// not affect the response.
func (s *Server) saveHistory(r *http.Request, question string, paperIDs []int64, elapsedMs int, confidence float64) int64 {
	id, err := s.queries.SaveQuery(r.Context(), models.QueryRecord{
		Question:       question,
		PaperIDs:       paperIDs,
		ResponseTimeMs: elapsedMs,
		Confidence:     confidence,
	})
	if err != nil {
		s.logger.WithError(err).Warn("save query history failed")
		return 0
	}
	return id
}

// handleRecentQueries returns the latest history rows plus the papers
// they reference, fetched with a single batched lookup.
func (s *Server) handleRecentQueries(w http.ResponseWriter, r *http.Request) {
	limit := intQueryParam(r, "limit", 10)
	queries, err := s.queries.ListRecentQueries(r.Context(), limit)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	seen := map[int64]bool{}
	ids := make([]int64, 0, len(queries))
	for _, q := range queries {
		for _, pid := range q.PaperIDs {
			if !seen[pid] {
				seen[pid] = true
				ids = append(ids, pid)
			}
		}
	}
	papers := []models.Paper{}
	if len(ids) > 0 {
		papers, err = s.papers.ListPapersByIDs(r.Context(), ids)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"queries": queries, "papers": papers})
}

func (s *Server) handleRating(w http.ResponseWriter, r *http.Request) {
	queryID, err := strconv.ParseInt(chi.URLParam(r, "queryID"), 10, 64)
	if err != nil || queryID <= 0 {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid query id"))
		return
	}
	var req struct {
		Rating int `json:"rating"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	if req.Rating < 1 || req.Rating > 5 {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("rating must be between 1 and 5"))
		return
	}
	err = s.queries.SetRating(r.Context(), queryID, req.Rating)
	if errors.Is(err, storage.ErrNotFound) {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"query_id": queryID, "rating": req.Rating})
}

func (s *Server) handlePopularTopics(w http.ResponseWriter, r *http.Request) {
	limit := intQueryParam(r, "limit", 10)
	topics, err := s.queries.PopularTopics(r.Context(), limit)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"topics": topics})
}

func intQueryParam(r *http.Request, name string, fallback int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
