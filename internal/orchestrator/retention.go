package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// RetentionConfig controls periodic pruning of finished jobs. An empty
// schedule disables it.
type RetentionConfig struct {
	Schedule string
	MaxAge   time.Duration
}

type pruneFunc func(ctx context.Context, olderThan time.Duration) (int, error)

type retention struct {
	cron   *cron.Cron
	logger *slog.Logger
}

func newRetention(cfg RetentionConfig, prune pruneFunc, logger *slog.Logger) (*retention, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	_, err := c.AddFunc(cfg.Schedule, func() {
		started := time.Now()
		n, err := prune(context.Background(), cfg.MaxAge)
		if err != nil {
			logger.Error("Retention run failed",
				slog.Int("pruned", n),
				slog.Any("error", err),
			)
			return
		}
		logger.Debug("Retention run finished",
			slog.Int("pruned", n),
			slog.Duration("took", time.Since(started)),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", cfg.Schedule, err)
	}

	return &retention{cron: c, logger: logger}, nil
}

func (r *retention) start() {
	r.cron.Start()
	r.logger.Info("Retention scheduler started",
		slog.Int("entries", len(r.cron.Entries())),
	)
}

// stop waits for a running prune to finish
func (r *retention) stop() {
	<-r.cron.Stop().Done()
}
