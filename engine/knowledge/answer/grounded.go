package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/compozy/kbchat/engine/knowledge"
)

const (
	geminiDefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	geminiDefaultTimeout = 60 * time.Second
)

// GroundedBackend calls the Gemini generateContent API with a retrieval tool
// attached, so the service grounds the answer in its own index. With a
// datastore configured it searches that Vertex AI Search datastore,
// otherwise it uses Google Search.
type GroundedBackend struct {
	client    *resty.Client
	model     string
	datastore string
}

func NewGroundedBackend(cfg *Config) (*GroundedBackend, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("google api key is not set")
	}
	if cfg.Model == "" {
		return nil, errors.New("grounded generation requires a model")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = geminiDefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = geminiDefaultTimeout
	}
	client := resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("x-goog-api-key", cfg.APIKey)
	return &GroundedBackend{client: client, model: cfg.Model, datastore: cfg.Datastore}, nil
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	Contents          []geminiContent  `json:"contents"`
	Tools             []map[string]any `json:"tools"`
	GenerationConfig  map[string]any   `json:"generationConfig"`
}

type geminiGroundingChunk struct {
	Web *struct {
		URI   string `json:"uri"`
		Title string `json:"title"`
	} `json:"web,omitempty"`
	RetrievedContext *struct {
		URI   string `json:"uri"`
		Title string `json:"title"`
		Text  string `json:"text"`
	} `json:"retrievedContext,omitempty"`
}

type geminiGroundingSupport struct {
	Segment struct {
		Text string `json:"text"`
	} `json:"segment"`
	GroundingChunkIndices []int `json:"groundingChunkIndices"`
}

type geminiResponse struct {
	Candidates []struct {
		Content           geminiContent `json:"content"`
		GroundingMetadata *struct {
			GroundingChunks   []geminiGroundingChunk   `json:"groundingChunks"`
			GroundingSupports []geminiGroundingSupport `json:"groundingSupports"`
		} `json:"groundingMetadata,omitempty"`
	} `json:"candidates"`
}

type geminiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (b *GroundedBackend) tools() []map[string]any {
	if b.datastore != "" {
		return []map[string]any{{
			"retrieval": map[string]any{
				"vertexAiSearch": map[string]any{"datastore": b.datastore},
			},
		}}
	}
	return []map[string]any{{"googleSearch": map[string]any{}}}
}

func (b *GroundedBackend) Generate(ctx context.Context, req BackendRequest) (BackendResponse, error) {
	body := geminiRequest{
		Contents: make([]geminiContent, 0, len(req.History)+1),
		Tools:    b.tools(),
		GenerationConfig: map[string]any{
			"temperature": req.Temperature,
		},
	}
	if req.MaxTokens > 0 {
		body.GenerationConfig["maxOutputTokens"] = req.MaxTokens
	}
	if req.System != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	for _, msg := range req.History {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		role := "user"
		if msg.Role == knowledge.RoleAssistant {
			role = "model"
		}
		body.Contents = append(body.Contents, geminiContent{Role: role, Parts: []geminiPart{{Text: msg.Content}}})
	}
	body.Contents = append(body.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: req.Question}}})

	var out geminiResponse
	var apiErr geminiError
	resp, err := b.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&apiErr).
		Post(fmt.Sprintf("/models/%s:generateContent", b.model))
	if err != nil {
		return BackendResponse{}, knowledge.Wrap(knowledge.ErrGenerationService, err, "gemini request failed")
	}
	if resp.IsError() {
		msg := apiErr.Error.Message
		if msg == "" {
			msg = resp.Status()
		}
		return BackendResponse{}, knowledge.Wrap(
			knowledge.ErrGenerationService, nil, "gemini returned %d: %s", resp.StatusCode(), msg,
		)
	}
	if len(out.Candidates) == 0 {
		return BackendResponse{}, knowledge.Wrap(knowledge.ErrGenerationService, nil, "gemini returned no candidates")
	}
	cand := out.Candidates[0]
	var text strings.Builder
	for _, part := range cand.Content.Parts {
		text.WriteString(part.Text)
	}
	result := BackendResponse{Text: text.String()}
	if cand.GroundingMetadata != nil {
		result.Citations = groundingCitations(cand.GroundingMetadata.GroundingChunks, cand.GroundingMetadata.GroundingSupports)
	}
	return result, nil
}

// groundingCitations turns grounding chunks into citations. The snippet is
// the chunk's own text when the service returns it, else the answer segments
// that cite the chunk.
func groundingCitations(chunks []geminiGroundingChunk, supports []geminiGroundingSupport) []knowledge.Citation {
	segments := make(map[int][]string, len(chunks))
	for _, sup := range supports {
		for _, idx := range sup.GroundingChunkIndices {
			if sup.Segment.Text != "" {
				segments[idx] = append(segments[idx], sup.Segment.Text)
			}
		}
	}
	out := make([]knowledge.Citation, 0, len(chunks))
	for i, ch := range chunks {
		var title, uri, snippet string
		switch {
		case ch.RetrievedContext != nil:
			title, uri, snippet = ch.RetrievedContext.Title, ch.RetrievedContext.URI, ch.RetrievedContext.Text
		case ch.Web != nil:
			title, uri = ch.Web.Title, ch.Web.URI
		default:
			continue
		}
		if snippet == "" {
			snippet = strings.Join(segments[i], " ")
		}
		out = append(out, knowledge.Citation{
			Content: snippet,
			Metadata: map[string]any{
				knowledge.MetaTitle: title,
				knowledge.MetaURI:   uri,
			},
		})
	}
	return out
}
