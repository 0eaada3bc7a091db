package worker

import (
	"context"
	"time"

	"github.com/jwalitptl/clinic-sync/internal/repository"
	"github.com/jwalitptl/clinic-sync/pkg/logger"
)

// OutboxCleanupWorker deletes relayed events older than the retention period.
type OutboxCleanupWorker struct {
	repo      repository.OutboxRepository
	retention time.Duration
	interval  time.Duration
	logger    *logger.Logger
	now       func() time.Time
}

func NewOutboxCleanupWorker(repo repository.OutboxRepository, retention, interval time.Duration, log *logger.Logger) *OutboxCleanupWorker {
	if log == nil {
		log = logger.Nop()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &OutboxCleanupWorker{
		repo:      repo,
		retention: retention,
		interval:  interval,
		logger:    log,
		now:       time.Now,
	}
}

func (w *OutboxCleanupWorker) Start(ctx context.Context) {
	if w.retention <= 0 {
		w.logger.Info("Outbox retention disabled")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.logger.Error(err, "Failed to clean up outbox")
			}
		}
	}
}

// RunOnce deletes processed events older than the retention period.
func (w *OutboxCleanupWorker) RunOnce(ctx context.Context) (int64, error) {
	deleted, err := w.repo.DeleteProcessedBefore(ctx, w.now().Add(-w.retention))
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		w.logger.Info("Deleted processed outbox events", "count", deleted)
	}
	return deleted, nil
}
