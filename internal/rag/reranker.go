package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

type RerankerConfig struct {
	Enabled  bool
	Endpoint string
	Model    string
	Timeout  time.Duration
	// KeywordBonus rewards question keywords appearing verbatim in
	// the chunk text; TitleBonus rewards matches in the paper title
	// and is intentionally the larger of the two.
	KeywordBonus float64
	TitleBonus   float64
}

// Reranker re-scores bi-encoder candidates with a cross-encoder served
// over HTTP, then applies lexical boosts. Any scoring failure degrades
// to a pass-through of the similarity order; reranking never fails a
// query.
type Reranker struct {
	cfg    RerankerConfig
	client *http.Client
	logger *logrus.Logger
}

func NewReranker(cfg RerankerConfig, logger *logrus.Logger) *Reranker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Reranker{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}, logger: logger}
}

// Rerank produces exactly min(topK, len(candidates)) candidates in
// final rank order. Disabled reranking is a pass-through truncation of
// the similarity order.
func (r *Reranker) Rerank(ctx context.Context, queryID, question string, candidates []Candidate, topK int) []Candidate {
	if len(candidates) == 0 {
		return candidates
	}
	if !r.cfg.Enabled {
		return truncate(candidates, topK)
	}

	scores, err := r.crossEncoderScores(ctx, question, candidates)
	if err != nil {
		// A failed scorer must not change the bi-encoder order.
		r.logger.WithFields(logrus.Fields{"query_id": queryID}).WithError(err).Warn("reranking degraded, passing similarity order through")
		return truncate(candidates, topK)
	}

	keywords := questionKeywords(question)
	out := make([]Candidate, len(candidates))
	for i, c := range candidates {
		score := scores[i]
		score += r.keywordBoost(keywords, c.Chunk.Text, r.cfg.KeywordBonus)
		score += r.keywordBoost(keywords, c.Chunk.Title, r.cfg.TitleBonus)
		c.Score = score
		c.Stage = StageReranked
		out[i] = c
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return truncate(out, topK)
}

func truncate(candidates []Candidate, topK int) []Candidate {
	if topK > 0 && len(candidates) > topK {
		return candidates[:topK]
	}
	return candidates
}

func (r *Reranker) crossEncoderScores(ctx context.Context, question string, candidates []Candidate) ([]float64, error) {
	if r.cfg.Endpoint == "" {
		return nil, fmt.Errorf("no reranker endpoint configured")
	}
	pairs := make([][2]string, len(candidates))
	for i, c := range candidates {
		pairs[i] = [2]string{question, c.Chunk.Text}
	}
	payload, err := json.Marshal(map[string]any{"model": r.cfg.Model, "pairs": pairs})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("reranker returned status %d: %s", resp.StatusCode, string(body))
	}
	var parsed struct {
		Scores []float64 `json:"scores"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}
	if len(parsed.Scores) != len(candidates) {
		return nil, fmt.Errorf("reranker returned %d scores for %d pairs", len(parsed.Scores), len(candidates))
	}
	return parsed.Scores, nil
}

func (r *Reranker) keywordBoost(keywords []string, text string, bonus float64) float64 {
	if bonus == 0 || text == "" {
		return 0
	}
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return bonus
		}
	}
	return 0
}

var keywordStop = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "of": true,
	"to": true, "in": true, "on": true, "for": true, "with": true, "is": true,
	"are": true, "was": true, "how": true, "what": true, "why": true,
	"does": true, "do": true, "did": true, "this": true, "that": true,
}

func questionKeywords(question string) []string {
	fields := strings.Fields(strings.ToLower(question))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?\"'()")
		if len(f) < 3 || keywordStop[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}
