package uc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/compozy/kbchat/engine/knowledge"
	"github.com/compozy/kbchat/engine/knowledge/answer"
	"github.com/compozy/kbchat/engine/knowledge/assemble"
	"github.com/compozy/kbchat/engine/knowledge/retriever"
	"github.com/compozy/kbchat/pkg/logger"
)

// Stage is a step of the query state machine.
type Stage string

const (
	StageReceived   Stage = "received"
	StageEmbedding  Stage = "embedding"
	StageSearching  Stage = "searching"
	StageAssembling Stage = "assembling"
	StageGenerating Stage = "generating"
	StageCompleted  Stage = "completed"
	StageFailed     Stage = "failed"
)

// StageError reports the stage a query failed in.
type StageError struct {
	Stage Stage
	Kind  knowledge.ErrorKind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("query failed while %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// StageObserver is told about every transition.
type StageObserver func(ctx context.Context, from, to Stage)

type QueryInput struct {
	Query   string
	History []knowledge.Message
	Options retriever.Options
}

type QueryOutput struct {
	Result  answer.Result
	Matches []knowledge.RetrievedMatch
	Mode    answer.Mode
}

// Query answers a question. In retrieval mode it walks
// received → embedding → searching → assembling → generating → completed.
// Grounded mode goes from received straight to generating. No stage retries.
type Query struct {
	retriever *retriever.Service
	generator *answer.Generator
	observer  StageObserver
}

type QueryOption func(*Query)

func WithStageObserver(o StageObserver) QueryOption {
	return func(q *Query) { q.observer = o }
}

// NewQuery builds the use case. The retriever may be nil in grounded mode.
func NewQuery(r *retriever.Service, g *answer.Generator, opts ...QueryOption) (*Query, error) {
	if g == nil {
		return nil, errors.New("query: generator is required")
	}
	if r == nil && g.Mode() == answer.ModeRetrieval {
		return nil, errors.New("query: retriever is required in retrieval mode")
	}
	q := &Query{retriever: r, generator: g}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

type queryRun struct {
	q     *Query
	ctx   context.Context
	stage Stage
}

func (r *queryRun) enter(next Stage) {
	prev := r.stage
	r.stage = next
	logger.FromContext(r.ctx).Debug("Query stage", "from", prev, "to", next)
	if r.q.observer != nil {
		r.q.observer(r.ctx, prev, next)
	}
}

func (r *queryRun) fail(err error) error {
	failed := r.stage
	kind := knowledge.KindOf(err)
	r.enter(StageFailed)
	knowledge.RecordQueryFailure(r.ctx, string(failed), kind)
	logger.FromContext(r.ctx).Error("Query failed", "stage", failed, "kind", kind, "error", err)
	return &StageError{Stage: failed, Kind: kind, Err: err}
}

func (uc *Query) Execute(ctx context.Context, in *QueryInput) (*QueryOutput, error) {
	if in == nil {
		return nil, ErrInvalidInput
	}
	question := strings.TrimSpace(in.Query)
	if question == "" {
		return nil, ErrQueryMissing
	}
	start := time.Now()
	mode := uc.generator.Mode()
	run := &queryRun{q: uc, ctx: ctx}
	run.enter(StageReceived)
	out := &QueryOutput{Mode: mode}
	req := answer.Request{Query: question, History: in.History}
	if mode == answer.ModeRetrieval {
		run.enter(StageEmbedding)
		vector, err := uc.retriever.Embed(ctx, question)
		if err != nil {
			return nil, run.fail(err)
		}
		run.enter(StageSearching)
		matches, err := uc.retriever.SearchVector(ctx, vector, in.Options)
		if err != nil {
			return nil, run.fail(err)
		}
		run.enter(StageAssembling)
		out.Matches = matches
		req.Matches = matches
		req.Context = assemble.Assemble(matches)
	}
	run.enter(StageGenerating)
	result, err := uc.generator.Answer(ctx, req)
	if err != nil {
		return nil, run.fail(err)
	}
	run.enter(StageCompleted)
	out.Result = result
	knowledge.RecordQueryLatency(ctx, string(mode), time.Since(start))
	return out, nil
}
