package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	tclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"

	"paperquery/internal/cache"
	"paperquery/internal/config"
	"paperquery/internal/models"
	"paperquery/internal/providers"
	"paperquery/internal/rag"
	"paperquery/internal/storage"
	"paperquery/internal/vector"
)

type paperStore interface {
	CreatePaper(ctx context.Context, filename string) (int64, error)
	UpdatePaperStatus(ctx context.Context, paperID int64, status, failReason string) error
	GetPaperByID(ctx context.Context, paperID int64) (models.Paper, error)
	ListPapers(ctx context.Context) ([]models.Paper, error)
	ListPapersByIDs(ctx context.Context, paperIDs []int64) ([]models.Paper, error)
	ListReadyTitles(ctx context.Context) (map[int64]string, error)
	DeletePaper(ctx context.Context, paperID int64) error
}

type chunkStore interface {
	CountChunksByPaper(ctx context.Context, paperID int64) (int, error)
	ListChunksByPaper(ctx context.Context, paperID int64) ([]models.Chunk, error)
}

type queryStore interface {
	SaveQuery(ctx context.Context, rec models.QueryRecord) (int64, error)
	ListRecentQueries(ctx context.Context, limit int) ([]models.QueryRecord, error)
	SetRating(ctx context.Context, queryID int64, rating int) error
	PopularTopics(ctx context.Context, limit int) ([]storage.TopicCount, error)
}

type queryPipeline interface {
	Query(ctx context.Context, req rag.QueryRequest) (rag.QueryResult, error)
	QueryStream(ctx context.Context, req rag.QueryRequest) <-chan rag.Event
}

// workflowClient is the sliver of the temporal client the API uses.
type workflowClient interface {
	ExecuteWorkflow(ctx context.Context, options tclient.StartWorkflowOptions, workflow interface{}, args ...interface{}) (tclient.WorkflowRun, error)
	QueryWorkflow(ctx context.Context, workflowID, runID, queryType string, args ...interface{}) (converter.EncodedValue, error)
}

type Server struct {
	cfg      config.Config
	papers   paperStore
	chunks   chunkStore
	queries  queryStore
	pipeline queryPipeline
	temporal workflowClient
	// embedProviders is forwarded to ingest workflows so their
	// failover loop knows how many providers it can rotate through.
	embedProviders int
	logger         *logrus.Logger
}

func NewServer(cfg config.Config, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := storage.NewDB(ctx, cfg.PostgresURL)
	if err != nil {
		panic(err)
	}
	if err := db.EnsureSchema(ctx, cfg.EmbedDim); err != nil {
		panic(err)
	}
	pm, err := providers.NewManager(cfg)
	if err != nil {
		panic(err)
	}
	tc, err := tclient.Dial(tclient.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		panic(err)
	}

	embedCache := cache.NewEmbedCache(cfg.EmbedCacheEntries, cfg.EmbedCacheTTL)
	retriever := rag.NewRetriever(pm, vector.NewSearcher(db.Pool), embedCache, rag.RetrieverConfig{
		EmbedDim:         cfg.EmbedDim,
		EmbedVersion:     cfg.EmbedVersion,
		Multiplier:       cfg.RetrievalMultiplier,
		MinScore:         cfg.MinScore,
		MinScoreFiltered: cfg.MinScoreFiltered,
	}, logger)
	reranker := rag.NewReranker(rag.RerankerConfig{
		Enabled:      cfg.RerankEnabled,
		Endpoint:     cfg.RerankEndpoint,
		Model:        cfg.RerankModel,
		KeywordBonus: cfg.KeywordBonus,
		TitleBonus:   cfg.TitleBonus,
	}, logger)
	pipeline := rag.NewPipeline(retriever, reranker, pm, rag.PipelineConfig{
		Model:           cfg.GenerateModel,
		MaxAnswerTokens: cfg.MaxAnswerTokens,
		Timeout:         cfg.QueryTimeout,
		Weights: rag.ConfidenceWeights{
			RankDecay:          rag.DefaultConfidenceWeights().RankDecay,
			CitationBonus:      cfg.CitationBonus,
			UncertaintyPenalty: cfg.UncertaintyPenalty,
		},
	}, logger)

	return &Server{
		cfg:            cfg,
		papers:         storage.NewPaperRepo(db),
		chunks:         storage.NewChunkRepo(db),
		queries:        storage.NewQueryRepo(db),
		pipeline:       pipeline,
		temporal:       tc,
		embedProviders: pm.EmbedCount(),
		logger:         logger,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.logger))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/papers/upload", s.handleUpload)
		r.Get("/papers", s.handleListPapers)
		r.Get("/papers/{paperID}", s.handleGetPaper)
		r.Get("/papers/{paperID}/status", s.handlePaperStatus)
		r.Get("/papers/{paperID}/chunks", s.handlePaperChunks)
		r.Get("/papers/{paperID}/file", s.handlePaperFile)
		r.Delete("/papers/{paperID}", s.handleDeletePaper)

		r.Post("/query", s.handleQuery)
		r.Post("/query/stream", s.handleQueryStream)
		r.Get("/queries/recent", s.handleRecentQueries)
		r.Post("/queries/{queryID}/rating", s.handleRating)
		r.Get("/topics/popular", s.handlePopularTopics)
	})

	return withCORS(r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{"message": err.Error()},
	})
}
