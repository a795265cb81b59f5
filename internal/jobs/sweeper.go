// Package jobs runs the periodic expiry sweeps for waitlist offers and approval requests.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
)

const (
	OfferSweepJob    = "expire-waitlist-offers"
	ApprovalSweepJob = "expire-stale-approvals"
)

// OfferExpirer expires lapsed waitlist offers and promotes the next entries.
type OfferExpirer interface {
	ExpireOffers(ctx context.Context) (int, error)
}

// ApprovalExpirer cancels pending approvals whose reservation has already started.
type ApprovalExpirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

// SweepResult counts what one sweep changed.
type SweepResult struct {
	ExpiredOffers    int
	ExpiredApprovals int
}

// Sweeper runs both expiry passes. Either expirer may be nil.
type Sweeper struct {
	offers    OfferExpirer
	approvals ApprovalExpirer
	logger    *slog.Logger
}

func NewSweeper(offers OfferExpirer, approvals ApprovalExpirer, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{offers: offers, approvals: approvals, logger: logger.With("component", "sweeper")}
}

// RunOnce performs one pass of every sweep. A failing pass does not stop the other.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	var (
		result SweepResult
		errs   []error
	)
	if n, err := s.sweepOffers(ctx); err != nil {
		errs = append(errs, err)
	} else {
		result.ExpiredOffers = n
	}
	if n, err := s.sweepApprovals(ctx); err != nil {
		errs = append(errs, err)
	} else {
		result.ExpiredApprovals = n
	}
	return result, errors.Join(errs...)
}

func (s *Sweeper) sweepOffers(ctx context.Context) (int, error) {
	if s.offers == nil {
		return 0, nil
	}
	n, err := s.offers.ExpireOffers(ctx)
	if err != nil {
		return 0, fmt.Errorf("expire offers: %w", err)
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "expired waitlist offers", "count", n)
	}
	return n, nil
}

func (s *Sweeper) sweepApprovals(ctx context.Context) (int, error) {
	if s.approvals == nil {
		return 0, nil
	}
	n, err := s.approvals.ExpireStale(ctx)
	if err != nil {
		return 0, fmt.Errorf("expire approvals: %w", err)
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "expired approval requests", "count", n)
	}
	return n, nil
}

// Runner owns the gocron scheduler driving a Sweeper.
type Runner struct {
	scheduler gocron.Scheduler
	cancel    context.CancelFunc
	logger    *slog.Logger
}

// Start registers both sweeps as singleton interval jobs and starts them immediately.
// Runs that would overlap a still running pass are rescheduled rather than queued.
func Start(ctx context.Context, sweeper *Sweeper, interval time.Duration, logger *slog.Logger) (*Runner, error) {
	if sweeper == nil {
		return nil, errors.New("jobs: sweeper is required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("jobs: interval must be positive, got %s", interval)
	}
	if logger == nil {
		logger = slog.Default()
	}

	scheduler, err := gocron.NewScheduler(
		gocron.WithLogger(logger.With("component", "gocron")),
		gocron.WithStopTimeout(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("jobs: create scheduler: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	runner := &Runner{scheduler: scheduler, cancel: cancel, logger: logger}

	onError := gocron.WithEventListeners(gocron.AfterJobRunsWithError(func(jobID uuid.UUID, jobName string, err error) {
		logger.ErrorContext(runCtx, "sweep failed", "job", jobName, "job_id", jobID.String(), "error", err)
	}))

	jobs := []struct {
		name string
		run  func(context.Context) (int, error)
	}{
		{OfferSweepJob, sweeper.sweepOffers},
		{ApprovalSweepJob, sweeper.sweepApprovals},
	}
	for _, job := range jobs {
		run := job.run
		_, err := scheduler.NewJob(
			gocron.DurationJob(interval),
			gocron.NewTask(func() error {
				_, err := run(runCtx)
				return err
			}),
			gocron.WithName(job.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
			onError,
		)
		if err != nil {
			cancel()
			_ = scheduler.Shutdown()
			return nil, fmt.Errorf("jobs: register %s: %w", job.name, err)
		}
	}

	scheduler.Start()
	logger.InfoContext(ctx, "sweeper started", "interval", interval)
	return runner, nil
}

// Shutdown stops scheduling and waits for running sweeps to finish.
func (r *Runner) Shutdown() error {
	if r == nil {
		return nil
	}
	r.cancel()
	if err := r.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("jobs: shutdown scheduler: %w", err)
	}
	r.logger.Info("sweeper stopped")
	return nil
}
