package appstate

import (
	"context"
	"fmt"

	"github.com/compozy/kbchat/engine/knowledge/ingest"
	"github.com/compozy/kbchat/engine/knowledge/uc"
	"github.com/compozy/kbchat/pkg/config"
	"github.com/gin-gonic/gin"
)

type contextKey string

const (
	stateKey contextKey = "app_state"
)

// UseCases groups the operations exposed over HTTP and the CLI.
type UseCases struct {
	Ingest       *uc.Ingest
	Query        *uc.Query
	Search       *uc.Search
	ListSources  *uc.ListSources
	GetSource    *uc.GetSource
	DeleteSource *uc.DeleteSource
	Sync         *uc.Sync
}

// CheckFunc probes a backing dependency for the health endpoint.
type CheckFunc func(ctx context.Context) error

type State struct {
	UseCases
	Config *config.Config
	Runner *ingest.Runner
	Checks map[string]CheckFunc
}

func NewState(cfg *config.Config, useCases UseCases, runner *ingest.Runner) (*State, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if useCases.Ingest == nil || useCases.Query == nil {
		return nil, fmt.Errorf("ingest and query use cases are required")
	}
	return &State{UseCases: useCases, Config: cfg, Runner: runner, Checks: map[string]CheckFunc{}}, nil
}

// Probe runs every registered check and returns the failures by name.
func (s *State) Probe(ctx context.Context) map[string]error {
	failed := make(map[string]error)
	for name, check := range s.Checks {
		if err := check(ctx); err != nil {
			failed[name] = err
		}
	}
	return failed
}

func WithState(ctx context.Context, state *State) context.Context {
	return context.WithValue(ctx, stateKey, state)
}

func GetState(ctx context.Context) (*State, error) {
	state, ok := ctx.Value(stateKey).(*State)
	if !ok || state == nil {
		return nil, fmt.Errorf("app state not found in context")
	}
	return state, nil
}

func StateMiddleware(state *State) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := WithState(c.Request.Context(), state)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
