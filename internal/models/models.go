package models

import (
	"fmt"
	"time"
)

// Section is the coarse location of a chunk inside a paper. Labels are
// assigned once at ingestion time by heading detection and never change.
type Section string

const (
	SectionAbstract     Section = "Abstract"
	SectionIntroduction Section = "Introduction"
	SectionMethods      Section = "Methods"
	SectionResults      Section = "Results"
	SectionDiscussion   Section = "Discussion"
	SectionConclusion   Section = "Conclusion"
	SectionReferences   Section = "References"
	SectionUnknown      Section = "Unknown"
)

type Paper struct {
	PaperID    int64     `json:"paper_id"`
	Filename   string    `json:"filename"`
	Title      string    `json:"title,omitempty"`
	Authors    string    `json:"authors,omitempty"`
	Year       *int      `json:"year,omitempty"`
	Pages      *int      `json:"pages,omitempty"`
	Status     string    `json:"status"`
	FailReason string    `json:"fail_reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Chunk is the atomic retrievable unit. Chunks are immutable after ingestion
// and are removed only when their owning paper is deleted.
type Chunk struct {
	ChunkID          string    `json:"chunk_id"`
	PaperID          int64     `json:"paper_id"`
	ChunkIndex       int       `json:"chunk_index"`
	Text             string    `json:"text"`
	Section          Section   `json:"section"`
	PageStart        int       `json:"page_start"`
	PageEnd          int       `json:"page_end"`
	EmbeddingVersion string    `json:"embedding_version"`
	CreatedAt        time.Time `json:"created_at"`
}

// ChunkHit is one row of a similarity search: chunk payload joined with its
// paper's metadata plus the cosine similarity score in [0,1].
type ChunkHit struct {
	ChunkID    string  `json:"chunk_id"`
	PaperID    int64   `json:"paper_id"`
	Title      string  `json:"title"`
	Filename   string  `json:"filename"`
	Section    Section `json:"section"`
	PageStart  int     `json:"page_start"`
	PageEnd    int     `json:"page_end"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

// PageRange renders the hit's page span the way citations display it,
// e.g. "3-4", or "3" when the chunk sits on a single page.
func (h ChunkHit) PageRange() string {
	if h.PageStart == h.PageEnd {
		return fmt.Sprintf("%d", h.PageStart)
	}
	return fmt.Sprintf("%d-%d", h.PageStart, h.PageEnd)
}

// QueryRecord is one row of the query history.
type QueryRecord struct {
	ID             int64     `json:"id"`
	Question       string    `json:"question"`
	PaperIDs       []int64   `json:"paper_ids"`
	ResponseTimeMs int       `json:"response_time_ms"`
	Confidence     float64   `json:"confidence"`
	Rating         *int      `json:"rating,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
