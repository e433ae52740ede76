package rag

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"paperquery/internal/cache"
	"paperquery/internal/models"
	"paperquery/internal/providers"
	"paperquery/internal/vector"
)

type Embedder interface {
	Embed(ctx context.Context, req providers.EmbedRequest) ([][]float32, providers.ProviderInfo, error)
}

type ChunkSearcher interface {
	SearchChunks(ctx context.Context, queryVec []float32, topK int, filters vector.SearchFilters) ([]models.ChunkHit, error)
}

type RetrieverConfig struct {
	EmbedDim     int
	EmbedVersion string
	// Multiplier widens the candidate pool handed to the reranker.
	Multiplier int
	// MinScore applies on full-corpus searches; MinScoreFiltered is
	// the relaxed floor used when a paper filter narrows the space.
	MinScore         float64
	MinScoreFiltered float64
}

// Retriever embeds the question and runs the bi-encoder similarity
// search. Query embeddings go through a bounded cache keyed by the raw
// question text.
type Retriever struct {
	embedder Embedder
	searcher ChunkSearcher
	cache    *cache.EmbedCache
	cfg      RetrieverConfig
	logger   *logrus.Logger
}

func NewRetriever(embedder Embedder, searcher ChunkSearcher, embedCache *cache.EmbedCache, cfg RetrieverConfig, logger *logrus.Logger) *Retriever {
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Retriever{embedder: embedder, searcher: searcher, cache: embedCache, cfg: cfg, logger: logger}
}

// Retrieve returns up to topK*multiplier candidates above the active
// score floor, ordered by descending similarity.
func (r *Retriever) Retrieve(ctx context.Context, queryID, question string, topK int, paperIDs []int64) ([]Candidate, error) {
	vec, err := r.embedQuery(ctx, question)
	if err != nil {
		return nil, NewError(KindRetrievalUnavailable, queryID, "embedding backend unreachable", err)
	}

	filters := vector.SearchFilters{PaperIDs: paperIDs, EmbeddingVersion: r.cfg.EmbedVersion}
	hits, err := r.searcher.SearchChunks(ctx, vec, topK*r.cfg.Multiplier, filters)
	if err != nil {
		return nil, NewError(KindRetrievalUnavailable, queryID, "vector search unreachable", err)
	}

	minScore := r.cfg.MinScore
	if len(paperIDs) > 0 {
		minScore = r.cfg.MinScoreFiltered
	}

	out := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		if h.Score < minScore {
			continue
		}
		out = append(out, Candidate{Chunk: h, Score: h.Score, Stage: StageBiEncoder})
	}
	r.logger.WithFields(logrus.Fields{
		"query_id":  queryID,
		"hits":      len(hits),
		"kept":      len(out),
		"min_score": minScore,
		"filtered":  len(paperIDs) > 0,
	}).Debug("retrieval complete")
	return out, nil
}

func (r *Retriever) embedQuery(ctx context.Context, question string) ([]float32, error) {
	if r.cache != nil {
		if vec, ok := r.cache.Get(question); ok {
			return vec, nil
		}
	}
	vecs, _, err := r.embedder.Embed(ctx, providers.EmbedRequest{
		Operation: "query",
		Inputs:    []string{question},
		Dimension: r.cfg.EmbedDim,
	})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embed query: empty result")
	}
	if r.cache != nil {
		r.cache.Put(question, vecs[0])
	}
	return vecs[0], nil
}
