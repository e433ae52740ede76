package rag

type EventType string

const (
	EventToken    EventType = "token"
	EventMetadata EventType = "metadata"
	EventDone     EventType = "done"
	EventError    EventType = "error"
)

type Metadata struct {
	Citations    []Citation `json:"citations"`
	SourcesUsed  []string   `json:"sources_used"`
	PaperIDsUsed []int64    `json:"paper_ids_used"`
	Confidence   float64    `json:"confidence"`
}

// Event is one element of the streaming protocol. A well-formed
// stream is zero or more token events, one metadata event, then done;
// an error event terminates the stream in place of done.
type Event struct {
	Type     EventType `json:"type"`
	Token    string    `json:"token,omitempty"`
	Metadata *Metadata `json:"metadata,omitempty"`
	Err      *Error    `json:"error,omitempty"`
}
