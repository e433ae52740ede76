package activities

type ChunkItem struct {
	ChunkID    string `json:"chunk_id"`
	PaperID    int64  `json:"paper_id"`
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"text"`
	Section    string `json:"section"`
	PageStart  int    `json:"page_start"`
	PageEnd    int    `json:"page_end"`
}

type ExtractPagesInput struct {
	PaperPath string `json:"paper_path"`
}

type ExtractPagesOutput struct {
	Pages []string `json:"pages"`
}

type ExtractMetadataInput struct {
	Pages    []string `json:"pages"`
	Filename string   `json:"filename"`
}

type ExtractMetadataOutput struct {
	Title   string `json:"title"`
	Authors string `json:"authors"`
	Year    *int   `json:"year"`
}

type ChunkPagesInput struct {
	PaperID      int64    `json:"paper_id"`
	Pages        []string `json:"pages"`
	MaxChars     int      `json:"max_chars"`
	OverlapChars int      `json:"overlap_chars"`
	Version      string   `json:"version"`
}

type ChunkPagesOutput struct {
	Chunks []ChunkItem `json:"chunks"`
}

type EmbedChunksInput struct {
	Operation     string      `json:"operation"`
	PaperID       int64       `json:"paper_id"`
	Input         []ChunkItem `json:"input"`
	ProviderIndex int         `json:"provider_index"`
}

type EmbedChunksOutput struct {
	Vectors      [][]float32 `json:"vectors"`
	ProviderName string      `json:"provider_name"`
	Model        string      `json:"model"`
}

type UpsertChunksInput struct {
	Chunks           []ChunkItem `json:"chunks"`
	Vectors          [][]float32 `json:"vectors"`
	EmbeddingVersion string      `json:"embedding_version"`
}

type UpdatePaperStatusInput struct {
	PaperID    int64  `json:"paper_id"`
	Status     string `json:"status"`
	FailReason string `json:"fail_reason"`
}

type UpdatePaperMetadataInput struct {
	PaperID int64  `json:"paper_id"`
	Title   string `json:"title"`
	Authors string `json:"authors"`
	Year    *int   `json:"year"`
	Pages   *int   `json:"pages"`
}

type WritePaperArtifactsInput struct {
	PaperID       int64          `json:"paper_id"`
	Metadata      map[string]any `json:"metadata"`
	Chunks        []ChunkItem    `json:"chunks"`
	ProcessingLog map[string]any `json:"processing_log"`
}
