package service

import (
	"context"
	"fmt"
	"time"

	"github.com/notifyco/notify-engine/internal/queue"
	"github.com/notifyco/notify-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultScanInterval = 5 * time.Second
	scanBatchSize       = 100
)

// RetryScanner republishes jobs whose backoff delay has elapsed. Delays live
// in the store as next_retry_at rather than in the broker, so a due job is
// simply a PENDING row with an expired timestamp waiting for a new message.
type RetryScanner struct {
	jobs      repository.JobRepository
	publisher queue.Publisher
	interval  time.Duration
	logger    *zap.Logger
}

func NewRetryScanner(
	jobs repository.JobRepository,
	publisher queue.Publisher,
	interval time.Duration,
	logger *zap.Logger,
) (*RetryScanner, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if interval <= 0 {
		interval = defaultScanInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryScanner{
		jobs:      jobs,
		publisher: publisher,
		interval:  interval,
		logger:    logger,
	}, nil
}

// Start scans immediately, then on every tick until the context ends.
func (s *RetryScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.logger.Info("retry scanner started", zap.Duration("interval", s.interval))

	if err := s.ScanOnce(ctx); err != nil {
		s.logger.Error("retry scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retry scanner stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.ScanOnce(ctx); err != nil {
				s.logger.Error("retry scan failed", zap.Error(err))
			}
		}
	}
}

// ScanOnce republishes every currently-due job. The redelivery timestamp is
// cleared only after a successful publish, so a broker outage leaves the job
// due and the next scan picks it up again.
func (s *RetryScanner) ScanOnce(ctx context.Context) error {
	due, err := s.jobs.GetDueForRetry(ctx, scanBatchSize)
	if err != nil {
		return fmt.Errorf("failed to load due jobs: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	republished := 0
	for i := range due {
		job := &due[i]

		msg := queue.JobMessage{
			JobID:      job.ID,
			CustomerID: job.CustomerID,
			Type:       job.Type,
			Priority:   job.Priority,
			IsRetry:    true,
		}

		if err := s.publisher.Publish(ctx, queue.QueueName(job.Type), msg); err != nil {
			s.logger.Error("failed to republish due job",
				zap.String("jobId", job.ID),
				zap.Error(err),
			)
			continue
		}

		if err := s.jobs.ClearNextRetryAt(ctx, job.ID); err != nil {
			// Worst case the next scan republishes and the claim CAS
			// swallows the duplicate delivery.
			s.logger.Warn("failed to clear redelivery timestamp",
				zap.String("jobId", job.ID),
				zap.Error(err),
			)
		}

		republished++
	}

	if republished > 0 {
		s.logger.Info("republished due jobs", zap.Int("count", republished))
	}

	return nil
}
