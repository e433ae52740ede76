package workflows

type PaperIngestInput struct {
	PaperID         int64  `json:"paper_id"`
	PaperPath       string `json:"paper_path"`
	Filename        string `json:"filename"`
	ChunkMaxChars   int    `json:"chunk_max_chars"`
	ChunkOverlap    int    `json:"chunk_overlap"`
	ChunkVersion    string `json:"chunk_version"`
	EmbedVersion    string `json:"embed_version"`
	EmbedProviders  int    `json:"embed_providers"`
	CooldownSeconds int    `json:"cooldown_seconds"`
}

type PaperIngestStatus struct {
	PaperID     int64             `json:"paper_id"`
	PaperPath   string            `json:"paper_path"`
	CurrentStep string            `json:"current_step"`
	Status      string            `json:"status"`
	FailReason  string            `json:"fail_reason,omitempty"`
	ChunkCount  int               `json:"chunk_count"`
	Providers   []string          `json:"providers_used"`
	RetryCounts map[string]int    `json:"retry_counts"`
	Steps       map[string]string `json:"steps"`
}
