package store

import "time"

const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Message is one turn of a conversation. Index order is chronological order.
type Message struct {
	Role    string `json:"role"` // "user" or "model"
	Content string `json:"content"`

	// Synthetic marks instruction/context turns composed by the service.
	// They are never accepted from or returned to callers.
	Synthetic bool `json:"-"`
}

// Chunk is one retrievable unit of source text.
type Chunk struct {
	ID        string    `json:"id"` // Source filename or seed id, unique within the corpus
	Text      string    `json:"text"`
	Embedding []float32 `json:"-"` // nil until the embedding provider succeeded
}

// Embedded reports whether the chunk can take part in similarity search.
func (c Chunk) Embedded() bool {
	return len(c.Embedding) > 0
}

// Ingestion item outcomes.
const (
	ItemIngested = "ingested"
	ItemSkipped  = "skipped"
	ItemIgnored  = "ignored" // Unsupported content type
)

type IngestionItem struct {
	Source  string `json:"source"`
	ChunkID string `json:"chunk_id,omitempty"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
	Warning string `json:"warning,omitempty"`
}

// IngestionRun is the auditable record of one ingestion pass.
type IngestionRun struct {
	ID         string          `json:"id"` // UUID
	Source     string          `json:"source"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Error      string          `json:"error,omitempty"` // Set when the whole source could not be read
	Items      []IngestionItem `json:"items"`
}

// Count returns the number of items with the given status.
func (r *IngestionRun) Count(status string) int {
	n := 0
	for _, item := range r.Items {
		if item.Status == status {
			n++
		}
	}
	return n
}
