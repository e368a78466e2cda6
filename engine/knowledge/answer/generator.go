package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/compozy/kbchat/engine/knowledge"
	"github.com/compozy/kbchat/engine/knowledge/assemble"
	"github.com/compozy/kbchat/pkg/logger"
)

// Mode selects where grounding comes from. The two are never combined.
type Mode string

const (
	// ModeRetrieval answers from chunks found by the local retriever.
	ModeRetrieval Mode = "retrieval"
	// ModeGrounded delegates retrieval to the generation service itself.
	ModeGrounded Mode = "grounded"
)

// Request is a single answering call. Context is the assembled context block
// and is ignored in grounded mode.
type Request struct {
	Query   string
	Context string
	History []knowledge.Message
	Matches []knowledge.RetrievedMatch
}

type Result struct {
	Text    string               `json:"answer"`
	Sources []knowledge.Citation `json:"sources"`
}

// BackendRequest is what a generation backend receives. In retrieval mode
// System already carries the context block.
type BackendRequest struct {
	System      string
	Question    string
	History     []knowledge.Message
	Temperature float64
	MaxTokens   int
}

type BackendResponse struct {
	Text      string
	Citations []knowledge.Citation
}

// Backend calls a generation service.
type Backend interface {
	Generate(ctx context.Context, req BackendRequest) (BackendResponse, error)
}

type Generator struct {
	backend     Backend
	mode        Mode
	persona     Persona
	temperature float64
	maxTokens   int
}

type Option func(*Generator)

func WithPersona(p Persona) Option {
	return func(g *Generator) { g.persona = p }
}

func WithTemperature(t float64) Option {
	return func(g *Generator) { g.temperature = t }
}

func WithMaxTokens(n int) Option {
	return func(g *Generator) { g.maxTokens = n }
}

func WithMode(m Mode) Option {
	return func(g *Generator) { g.mode = m }
}

func NewGenerator(backend Backend, opts ...Option) (*Generator, error) {
	if backend == nil {
		return nil, errors.New("answer: backend is required")
	}
	g := &Generator{
		backend:     backend,
		mode:        ModeRetrieval,
		persona:     DefaultPersona(),
		temperature: knowledge.DefaultTemperature,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.mode != ModeRetrieval && g.mode != ModeGrounded {
		return nil, fmt.Errorf("answer: unsupported mode %q", g.mode)
	}
	if _, err := g.persona.SystemPrompt(""); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Generator) Mode() Mode { return g.mode }

// Answer produces the final text and its sources. In retrieval mode the
// sources are the retrieved matches; in grounded mode they come from the
// service's grounding metadata.
func (g *Generator) Answer(ctx context.Context, req Request) (Result, error) {
	question := strings.TrimSpace(req.Query)
	if question == "" {
		return Result{}, errors.New("answer: query is required")
	}
	var contextBlock string
	if g.mode == ModeRetrieval {
		contextBlock = req.Context
		if contextBlock == "" {
			contextBlock = assemble.Assemble(req.Matches)
		}
	}
	system, err := g.persona.SystemPrompt(contextBlock)
	if err != nil {
		return Result{}, knowledge.Wrap(knowledge.ErrGenerationService, err, "build prompt")
	}
	breq := BackendRequest{
		System:      system,
		Question:    question,
		History:     req.History,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	}
	resp, err := g.backend.Generate(ctx, breq)
	if err != nil {
		if errors.Is(err, knowledge.ErrGenerationService) || errors.Is(err, knowledge.ErrConfiguration) {
			return Result{}, err
		}
		return Result{}, knowledge.Wrap(knowledge.ErrGenerationService, err, "generate answer")
	}
	result := Result{Text: strings.TrimSpace(resp.Text)}
	switch g.mode {
	case ModeGrounded:
		result.Sources = resp.Citations
	default:
		result.Sources = assemble.Citations(req.Matches)
	}
	if result.Sources == nil {
		result.Sources = []knowledge.Citation{}
	}
	logger.FromContext(ctx).Debug(
		"Answer generated",
		"mode", g.mode,
		"answer_length", len(result.Text),
		"sources", len(result.Sources),
	)
	return result, nil
}
