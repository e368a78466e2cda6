package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/compozy/kbchat/engine/knowledge"
	"github.com/compozy/kbchat/engine/knowledge/sources"
	appconfig "github.com/compozy/kbchat/pkg/config"
)

// ErrStillProcessing means polling gave up while the source was pending.
var ErrStillProcessing = errors.New("source is still processing")

type PollOptions struct {
	Interval    time.Duration
	MaxAttempts uint64
}

func PollOptionsFromConfig(cfg *appconfig.Config) PollOptions {
	return PollOptions{Interval: cfg.Knowledge.PollInterval, MaxAttempts: cfg.Knowledge.PollMaxAttempts}
}

// WaitForStatus polls the repository until the source leaves pending or the
// attempts run out. Repository errors end the poll immediately.
func WaitForStatus(
	ctx context.Context,
	repo sources.Repository,
	id string,
	opts PollOptions,
) (*knowledge.Source, error) {
	interval := opts.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	attempts := opts.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}
	backoff := retry.WithMaxRetries(attempts-1, retry.NewConstant(interval))
	var last *knowledge.Source
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		src, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		last = src
		if src.Status == knowledge.StatusPending {
			return retry.RetryableError(ErrStillProcessing)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrStillProcessing) {
			return last, fmt.Errorf("%w: %s after %d attempts", ErrStillProcessing, id, attempts)
		}
		return last, err
	}
	return last, nil
}
