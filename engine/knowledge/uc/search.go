package uc

import (
	"context"
	"strings"

	"github.com/compozy/kbchat/engine/knowledge"
	"github.com/compozy/kbchat/engine/knowledge/retriever"
)

type SearchInput struct {
	Query   string
	Options retriever.Options
}

// Search exposes retrieval alone, without generation.
type Search struct {
	retriever *retriever.Service
}

func NewSearch(r *retriever.Service) *Search {
	return &Search{retriever: r}
}

func (uc *Search) Execute(ctx context.Context, in *SearchInput) ([]knowledge.RetrievedMatch, error) {
	if in == nil {
		return nil, ErrInvalidInput
	}
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, ErrQueryMissing
	}
	return uc.retriever.Retrieve(ctx, query, in.Options)
}
