package domain

import "time"

// UploadPhase is the mutually exclusive lifecycle state of the upload flow.
// Exactly one phase is active at any instant, so illegal combinations such
// as "uploading and succeeded" are unrepresentable.
type UploadPhase string

const (
	PhaseIdle       UploadPhase = "idle"
	PhaseSelected   UploadPhase = "selected"
	PhaseUploading  UploadPhase = "uploading"
	PhaseProcessing UploadPhase = "processing"
	PhaseSucceeded  UploadPhase = "succeeded"
	PhaseFailed     UploadPhase = "failed"
)

// Service-reported terminal ingestion statuses the status poller reacts to.
const (
	IngestionStatusReady  = "ready"
	IngestionStatusFailed = "failed"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Document is the identity and metadata record for one ingested document.
// Created once when upload and ingestion succeed, immutable thereafter.
type Document struct {
	ID              string `json:"id"`
	Filename        string `json:"filename"`
	TotalPages      int    `json:"totalPages"`
	TotalChunks     int    `json:"totalChunks"`
	IngestionStatus string `json:"ingestionStatus"`
}

// Source is a citation backing an assistant answer. Display order is the
// order returned by the service; the client never re-sorts.
type Source struct {
	PageNumber     int     `json:"pageNumber"`
	Preview        string  `json:"preview"`
	RelevanceScore float64 `json:"relevanceScore"`
}

// Message is one conversational turn. ID is a display key only; ordering is
// by position in the history sequence.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Sources   []Source  `json:"sources,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Turn is the role/content pair sent to the service as conversation context.
// Sources are never echoed back.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// TurnsFromHistory projects messages onto the role/content pairs used as
// request context.
func TurnsFromHistory(history []Message) []Turn {
	turns := make([]Turn, 0, len(history))
	for _, msg := range history {
		turns = append(turns, Turn{Role: msg.Role, Content: msg.Content})
	}
	return turns
}
