package answer

import (
	"context"
	"strings"
	"time"

	"github.com/compozy/kbchat/engine/knowledge"
	appconfig "github.com/compozy/kbchat/pkg/config"
	"github.com/compozy/kbchat/pkg/logger"
)

type Config struct {
	Mode        Mode
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Datastore   string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
	Persona     Persona
}

func ConfigFromApp(cfg *appconfig.Config) *Config {
	g := cfg.Generation
	return &Config{
		Mode:        Mode(strings.ToLower(strings.TrimSpace(g.Mode))),
		Provider:    strings.ToLower(strings.TrimSpace(g.Provider)),
		Model:       g.Model,
		APIKey:      g.APIKey.Value(),
		BaseURL:     g.BaseURL,
		Datastore:   g.Datastore,
		Timeout:     g.Timeout,
		Temperature: g.Temperature,
		MaxTokens:   g.MaxTokens,
		Persona: Persona{
			AssistantName: g.AssistantName,
			Institution:   g.Institution,
			Language:      g.Language,
			Topics:        g.Topics,
		},
	}
}

// New builds the generator for cfg. A backend that cannot be constructed,
// typically for a missing credential, does not fail startup: every call
// returns ErrConfiguration instead.
func New(ctx context.Context, cfg *Config) (*Generator, error) {
	backend, err := newBackend(ctx, cfg)
	if err != nil {
		logger.FromContext(ctx).Warn(
			"Generation backend unavailable",
			"mode", cfg.Mode,
			"provider", cfg.Provider,
			"error", err,
		)
		backend = unavailableBackend{err: err}
	}
	return NewGenerator(
		backend,
		WithMode(cfg.Mode),
		WithPersona(cfg.Persona),
		WithTemperature(cfg.Temperature),
		WithMaxTokens(cfg.MaxTokens),
	)
}

func newBackend(ctx context.Context, cfg *Config) (Backend, error) {
	if cfg.Mode == ModeGrounded {
		return NewGroundedBackend(cfg)
	}
	model, err := newModel(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewLLMBackend(model), nil
}

type unavailableBackend struct {
	err error
}

func (u unavailableBackend) Generate(context.Context, BackendRequest) (BackendResponse, error) {
	return BackendResponse{}, knowledge.Wrap(
		knowledge.ErrConfiguration,
		knowledge.Wrap(knowledge.ErrGenerationService, u.err, "build client"),
		"generation service unavailable",
	)
}
