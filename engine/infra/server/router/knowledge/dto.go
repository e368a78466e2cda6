package knowledgerouter

import "github.com/compozy/kbchat/engine/knowledge"

// IngestRequest names the document to ingest. One of SourceID, FileName or
// FileURL is required.
type IngestRequest struct {
	FileName string `json:"fileName,omitempty" example:"handbook/library.pdf"`
	SourceID string `json:"sourceId,omitempty" example:"2mCqkLhXoBvA5tH0ZlZkY0yQh1R"`
	FileURL  string `json:"fileUrl,omitempty"  example:"handbook/library.pdf"`
	Format   string `json:"format,omitempty"   example:"pdf"`
	Category string `json:"category,omitempty" example:"library"`
	Async    bool   `json:"async,omitempty"`
}

type IngestResponse struct {
	Success bool   `json:"success"`
	Chunks  int    `json:"chunks"`
	ID      string `json:"id"`
	Status  string `json:"status,omitempty"`
	Failed  int    `json:"failed,omitempty"`
}

type MessageDTO struct {
	Role    string `json:"role"    example:"user"`
	Content string `json:"content" example:"When does the library open?"`
}

type ChatRequest struct {
	Query               string       `json:"query"                         example:"When does the library open?"`
	ConversationHistory []MessageDTO `json:"conversationHistory,omitempty"`
}

type ChatResponse struct {
	Answer  string               `json:"answer"`
	Sources []knowledge.Citation `json:"sources"`
}

type SearchRequest struct {
	Query     string   `json:"query"              example:"library hours"`
	TopK      int      `json:"topK,omitempty"     example:"5"`
	Threshold *float64 `json:"threshold,omitempty" example:"0.5"`
	SourceID  string   `json:"sourceId,omitempty"`
}

type SearchResponse struct {
	Matches []knowledge.RetrievedMatch `json:"matches"`
}

type SourceListResponse struct {
	Sources []knowledge.Source `json:"sources"`
}

type SyncRequest struct {
	Table string `json:"table,omitempty" example:"courses"`
}

type SyncResponse struct {
	Success bool `json:"success"`
	Sources int  `json:"sources"`
	Chunks  int  `json:"chunks"`
	Failed  int  `json:"failed,omitempty"`
}

func historyFromDTO(in []MessageDTO) []knowledge.Message {
	if len(in) == 0 {
		return nil
	}
	out := make([]knowledge.Message, 0, len(in))
	for _, m := range in {
		out = append(out, knowledge.Message{Role: knowledge.NormalizeRole(m.Role), Content: m.Content})
	}
	return out
}
