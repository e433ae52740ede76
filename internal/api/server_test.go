package api

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	tclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"

	"paperquery/internal/config"
	"paperquery/internal/models"
	"paperquery/internal/rag"
	"paperquery/internal/storage"
)

type fakePipeline struct {
	lastReq rag.QueryRequest
	calls   int
	result  rag.QueryResult
	err     error
	events  []rag.Event
}

func (f *fakePipeline) Query(_ context.Context, req rag.QueryRequest) (rag.QueryResult, error) {
	f.lastReq = req
	f.calls++
	return f.result, f.err
}

func (f *fakePipeline) QueryStream(_ context.Context, req rag.QueryRequest) <-chan rag.Event {
	f.lastReq = req
	f.calls++
	ch := make(chan rag.Event, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	close(ch)
	return ch
}

type fakePaperStore struct {
	papers      map[int64]models.Paper
	readyTitles map[int64]string
	nextID      int64
	statuses    map[int64]string
	deleted     []int64
}

func newFakePaperStore() *fakePaperStore {
	return &fakePaperStore{
		papers:      map[int64]models.Paper{},
		readyTitles: map[int64]string{},
		statuses:    map[int64]string{},
		nextID:      1,
	}
}

func (f *fakePaperStore) CreatePaper(_ context.Context, filename string) (int64, error) {
	id := f.nextID
	f.nextID++
	f.papers[id] = models.Paper{PaperID: id, Filename: filename, Status: "processing"}
	return id, nil
}

func (f *fakePaperStore) UpdatePaperStatus(_ context.Context, paperID int64, status, _ string) error {
	f.statuses[paperID] = status
	return nil
}

func (f *fakePaperStore) GetPaperByID(_ context.Context, paperID int64) (models.Paper, error) {
	p, ok := f.papers[paperID]
	if !ok {
		return models.Paper{}, fmt.Errorf("get paper %d: %w", paperID, storage.ErrNotFound)
	}
	return p, nil
}

func (f *fakePaperStore) ListPapers(_ context.Context) ([]models.Paper, error) {
	out := make([]models.Paper, 0, len(f.papers))
	for _, p := range f.papers {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakePaperStore) ListPapersByIDs(_ context.Context, paperIDs []int64) ([]models.Paper, error) {
	out := make([]models.Paper, 0, len(paperIDs))
	for _, id := range paperIDs {
		if p, ok := f.papers[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePaperStore) ListReadyTitles(_ context.Context) (map[int64]string, error) {
	return f.readyTitles, nil
}

func (f *fakePaperStore) DeletePaper(_ context.Context, paperID int64) error {
	if _, ok := f.papers[paperID]; !ok {
		return fmt.Errorf("delete paper %d: %w", paperID, storage.ErrNotFound)
	}
	delete(f.papers, paperID)
	f.deleted = append(f.deleted, paperID)
	return nil
}

type fakeChunkStore struct {
	counts map[int64]int
	chunks map[int64][]models.Chunk
}

func (f *fakeChunkStore) CountChunksByPaper(_ context.Context, paperID int64) (int, error) {
	return f.counts[paperID], nil
}

func (f *fakeChunkStore) ListChunksByPaper(_ context.Context, paperID int64) ([]models.Chunk, error) {
	return f.chunks[paperID], nil
}

type fakeQueryStore struct {
	saved   []models.QueryRecord
	recent  []models.QueryRecord
	ratings map[int64]int
	topics  []storage.TopicCount
}

func newFakeQueryStore() *fakeQueryStore {
	return &fakeQueryStore{ratings: map[int64]int{}}
}

func (f *fakeQueryStore) SaveQuery(_ context.Context, rec models.QueryRecord) (int64, error) {
	f.saved = append(f.saved, rec)
	return int64(len(f.saved)), nil
}

func (f *fakeQueryStore) ListRecentQueries(_ context.Context, limit int) ([]models.QueryRecord, error) {
	if limit > len(f.recent) {
		limit = len(f.recent)
	}
	return f.recent[:limit], nil
}

func (f *fakeQueryStore) SetRating(_ context.Context, queryID int64, rating int) error {
	if _, ok := f.ratings[queryID]; !ok {
		return fmt.Errorf("set query rating %d: %w", queryID, storage.ErrNotFound)
	}
	f.ratings[queryID] = rating
	return nil
}

func (f *fakeQueryStore) PopularTopics(_ context.Context, _ int) ([]storage.TopicCount, error) {
	return f.topics, nil
}

type fakeWorkflowRun struct {
	id string
}

func (f *fakeWorkflowRun) GetID() string    { return f.id }
func (f *fakeWorkflowRun) GetRunID() string { return "run-1" }
func (f *fakeWorkflowRun) Get(_ context.Context, _ interface{}) error {
	return nil
}
func (f *fakeWorkflowRun) GetWithOptions(_ context.Context, _ interface{}, _ tclient.WorkflowRunGetOptions) error {
	return nil
}

type fakeWorkflowClient struct {
	started  []tclient.StartWorkflowOptions
	startErr error
	queryErr error
	queryVal converter.EncodedValue
}

func (f *fakeWorkflowClient) ExecuteWorkflow(_ context.Context, options tclient.StartWorkflowOptions, _ interface{}, _ ...interface{}) (tclient.WorkflowRun, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.started = append(f.started, options)
	return &fakeWorkflowRun{id: options.ID}, nil
}

func (f *fakeWorkflowClient) QueryWorkflow(_ context.Context, _, _, _ string, _ ...interface{}) (converter.EncodedValue, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.queryVal, nil
}

func newTestServer(p *fakePipeline, papers *fakePaperStore, chunks *fakeChunkStore, queries *fakeQueryStore, wf *fakeWorkflowClient) *Server {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	if papers == nil {
		papers = newFakePaperStore()
	}
	if chunks == nil {
		chunks = &fakeChunkStore{counts: map[int64]int{}}
	}
	if queries == nil {
		queries = newFakeQueryStore()
	}
	if wf == nil {
		wf = &fakeWorkflowClient{}
	}
	return &Server{
		cfg:            config.Load(),
		papers:         papers,
		chunks:         chunks,
		queries:        queries,
		pipeline:       p,
		temporal:       wf,
		embedProviders: 1,
		logger:         logger,
	}
}
