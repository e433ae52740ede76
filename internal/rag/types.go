package rag

import "paperquery/internal/models"

type Stage string

const (
	StageBiEncoder Stage = "bi-encoder"
	StageReranked  Stage = "reranked"
)

// Candidate is a retrieved chunk plus the score of the stage that
// produced it. Candidates live only for the duration of one query.
type Candidate struct {
	Chunk models.ChunkHit
	Score float64
	Stage Stage
}

// ContextEntry is a candidate promoted into the prompt. SourceIndex is
// the 1-based position used for citation markers; indices are
// contiguous within one query.
type ContextEntry struct {
	Candidate
	SourceIndex int
}

type Citation struct {
	PaperID        int64          `json:"paper_id"`
	PaperTitle     string         `json:"paper_title"`
	Section        models.Section `json:"section"`
	Pages          string         `json:"pages"`
	RelevanceScore float64        `json:"relevance_score"`
	SourceIndex    int            `json:"source_index"`
}

type QueryRequest struct {
	Question string  `json:"question"`
	TopK     int     `json:"top_k"`
	PaperIDs []int64 `json:"paper_ids"`
}

type QueryResult struct {
	QueryID      string     `json:"query_id"`
	Answer       string     `json:"answer"`
	Citations    []Citation `json:"citations"`
	SourcesUsed  []string   `json:"sources_used"`
	PaperIDsUsed []int64    `json:"paper_ids_used"`
	Confidence   float64    `json:"confidence"`
}
