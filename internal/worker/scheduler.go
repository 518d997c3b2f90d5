package worker

import (
	"context"
	"fmt"
	"time"

	"evshop-payment/internal/util"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Expirer cancels abandoned orders
type Expirer interface {
	ExpireStaleOrders(ctx context.Context) (int, error)
}

// ExpiryScheduler runs the expiry sweep on a fixed interval
type ExpiryScheduler struct {
	scheduler gocron.Scheduler
	expirer   Expirer
	interval  time.Duration
	logger    *zap.Logger
}

// NewExpiryScheduler creates the scheduler; call Start to begin sweeping
func NewExpiryScheduler(expirer Expirer, interval time.Duration) (*ExpiryScheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("error initializing scheduler: %w", err)
	}
	return &ExpiryScheduler{
		scheduler: s,
		expirer:   expirer,
		interval:  interval,
		logger:    util.GetLogger(),
	}, nil
}

// Start registers the sweep job. Runs never overlap; a run still going when
// the next is due skips that tick.
func (e *ExpiryScheduler) Start(ctx context.Context) error {
	j, err := e.scheduler.NewJob(
		gocron.DurationJob(e.interval),
		gocron.NewTask(e.sweep, ctx),
		gocron.WithName("expire-stale-orders"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("error creating expiry job: %w", err)
	}
	e.scheduler.Start()
	e.logger.Info("Expiry scheduler started",
		zap.String("job_id", j.ID().String()),
		zap.Duration("interval", e.interval))
	return nil
}

func (e *ExpiryScheduler) sweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	n, err := e.expirer.ExpireStaleOrders(ctx)
	if err != nil {
		e.logger.Error("Expiry sweep failed", zap.Error(err))
		return
	}
	e.logger.Debug("Expiry sweep finished", zap.Int("expired", n))
}

// Stop waits for a running sweep and shuts the scheduler down
func (e *ExpiryScheduler) Stop() error {
	return e.scheduler.Shutdown()
}
