package job

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Publisher is the part of the scheduler the sweeper drives.
type Publisher interface {
	ProcessDue(ctx context.Context, limit int) (int, error)
	FailStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// PublishSweepJob publishes due schedules whose queued task never ran, for
// example because the queue was unavailable when they were created, and fails
// schedules abandoned in processing.
type PublishSweepJob struct {
	publisher  Publisher
	batchSize  int
	staleAfter time.Duration
	timeout    time.Duration
	logger     *zap.Logger
	guard      runGuard
}

func NewPublishSweepJob(publisher Publisher, batchSize int, staleAfter, timeout time.Duration, logger *zap.Logger) *PublishSweepJob {
	return &PublishSweepJob{
		publisher:  publisher,
		batchSize:  batchSize,
		staleAfter: staleAfter,
		timeout:    timeout,
		logger:     logger.Named("publish_sweep_job"),
	}
}

func (j *PublishSweepJob) Sweep() {
	if !j.guard.start() {
		j.logger.Debug("previous sweep still running, skipping")
		return
	}
	defer j.guard.done()

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	if _, err := j.publisher.FailStale(ctx, j.staleAfter); err != nil {
		j.logger.Error("failed to fail stale schedules", zap.Error(err))
	}

	n, err := j.publisher.ProcessDue(ctx, j.batchSize)
	if err != nil {
		j.logger.Error("failed to process due schedules", zap.Error(err))
		return
	}
	if n > 0 {
		j.logger.Info("swept due schedules", zap.Int("count", n))
	}
}

type runGuard struct {
	running atomic.Bool
}

func (g *runGuard) start() bool {
	return g.running.CompareAndSwap(false, true)
}

func (g *runGuard) done() {
	g.running.Store(false)
}
