package workers

import (
	"context"
	"time"

	"github.com/donorlog/donorlog/pkg/logger"
)

// rankingRefresher is the part of services.RankingService the worker needs.
type rankingRefresher interface {
	UpdateRankedUsersView(ctx context.Context) error
}

// RankingWorker keeps the ranked users snapshot fresh. Rankings shown to users
// lag behind stored amounts by at most one interval.
type RankingWorker struct {
	*BaseWorker
	ranking  rankingRefresher
	interval time.Duration
	timeout  time.Duration
}

// NewRankingWorker creates a worker refreshing every interval. Each refresh is
// bounded by the same duration so a slow database cannot pile runs up.
func NewRankingWorker(workerID string, ranking rankingRefresher, interval time.Duration) *RankingWorker {
	return &RankingWorker{
		BaseWorker: NewBaseWorker(workerID),
		ranking:    ranking,
		interval:   interval,
		timeout:    interval,
	}
}

// Start refreshes immediately and then on every tick until stopped
func (w *RankingWorker) Start(ctx context.Context) error {
	w.setRunning(true)
	defer w.setRunning(false)
	logger.WithField("worker_id", w.WorkerID).Info("Ranking worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.refresh(ctx)

		select {
		case <-ctx.Done():
			logger.WithField("worker_id", w.WorkerID).Info("Ranking worker stopping due to context cancellation")
			return ctx.Err()
		case <-w.StopChan:
			logger.WithField("worker_id", w.WorkerID).Info("Ranking worker stopping")
			return nil
		case <-ticker.C:
		}
	}
}

func (w *RankingWorker) refresh(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	if err := w.ranking.UpdateRankedUsersView(runCtx); err != nil && ctx.Err() == nil {
		logger.WithField("worker_id", w.WorkerID).WithError(err).Error("Failed to update ranked users view")
	}
}
