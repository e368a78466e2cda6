package knowledge

import (
	"time"
)

// SourceStatus tracks the outcome of the latest ingestion run for a source.
type SourceStatus string

const (
	StatusPending   SourceStatus = "pending"
	StatusProcessed SourceStatus = "processed"
	StatusError     SourceStatus = "error"
)

func (s SourceStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessed, StatusError:
		return true
	default:
		return false
	}
}

// Source is the top-level ingested unit: an uploaded document or a synthetic
// record rendered as text. It owns every chunk stored under its ID.
type Source struct {
	ID         string         `json:"id"                  db:"id"`
	Name       string         `json:"name"                db:"name"`
	Format     string         `json:"format"              db:"format"`
	Status     SourceStatus   `json:"status"              db:"status"`
	Origin     string         `json:"origin"              db:"origin"`
	Category   string         `json:"category,omitempty"  db:"category"`
	Error      string         `json:"error,omitempty"     db:"error_message"`
	ChunkCount int            `json:"chunkCount"          db:"chunk_count"`
	Metadata   map[string]any `json:"metadata,omitempty"  db:"-"`
	CreatedAt  time.Time      `json:"createdAt"           db:"created_at"`
	UpdatedAt  time.Time      `json:"updatedAt"           db:"updated_at"`
}

// Role tags a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// NormalizeRole maps the role spellings used by chat clients onto Role.
func NormalizeRole(r string) Role {
	switch r {
	case "assistant", "model", "ai", "bot":
		return RoleAssistant
	default:
		return RoleUser
	}
}

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Query is ephemeral and never persisted.
type Query struct {
	Text    string
	History []Message
}

// RetrievedMatch is one similarity-search hit, ordered by descending score.
type RetrievedMatch struct {
	ID            string         `json:"id"`
	SourceID      string         `json:"sourceId,omitempty"`
	Content       string         `json:"content"`
	Score         float64        `json:"score"`
	TokenEstimate int            `json:"tokenEstimate,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Citation attributes part of an answer to a stored chunk or a grounding document.
type Citation struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// Metadata keys shared by the extractor, chunker and stores.
const (
	MetaSourceID   = "source_id"
	MetaSourceName = "filename"
	MetaFormat     = "format"
	MetaCategory   = "category"
	MetaChunkIndex = "chunk_index"
	MetaPage       = "page"
	MetaTitle      = "title"
	MetaURI        = "uri"
)
