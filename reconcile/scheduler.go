package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler runs the job on a cron expression such as "@every 1h" or "0 3 * * *".
// Scheduled runs share a context that Stop cancels.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
}

func NewScheduler(job *Job, spec string, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:   cron.New(cron.WithParser(cronParser)),
		ctx:    ctx,
		cancel: cancel,
		logger: logger.Named("scheduler"),
	}

	_, err := s.cron.AddFunc(spec, func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("scheduled reconcile panicked", zap.Any("panic", r))
			}
		}()

		sum, err := job.Run(s.ctx, nil)
		if errors.Is(err, ErrRunning) {
			s.logger.Info("skipping scheduled reconcile, previous run still active")
			return
		}
		if errors.Is(err, context.Canceled) {
			s.logger.Info("scheduled reconcile cancelled", zap.Int("processed", sum.Processed))
			return
		}
		if err != nil {
			s.logger.Error("scheduled reconcile failed", zap.Error(err))
			return
		}
		s.logger.Info("scheduled reconcile done",
			zap.Int("processed", sum.Processed),
			zap.Int("errors", sum.Errors))
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("invalid reconcile schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling, cancels a running job and waits for it to return
// or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
