// Package jobs schedules auto-recharge passes inside the service process.
package jobs

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"frameworks/purser-recharge/internal/recharge"
	"frameworks/purser-recharge/pkg/logging"
)

// Runner executes one auto-recharge pass.
type Runner interface {
	RunPass(ctx context.Context) (recharge.Report, error)
}

// Coalesced collapses concurrent in-process pass requests (cron trigger and
// ticker) into a single running pass whose result every caller receives.
type Coalesced struct {
	runner Runner
	group  singleflight.Group
}

func NewCoalesced(runner Runner) *Coalesced {
	return &Coalesced{runner: runner}
}

func (c *Coalesced) RunPass(ctx context.Context) (recharge.Report, error) {
	v, err, _ := c.group.Do("auto-recharge", func() (any, error) {
		// A pass runs to completion even if the caller that started it goes away.
		return c.runner.RunPass(context.WithoutCancel(ctx))
	})
	report, _ := v.(recharge.Report)
	return report, err
}

// JobManager runs the periodic auto-recharge pass.
type JobManager struct {
	runner   Runner
	interval time.Duration
	logger   logging.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewJobManager(runner Runner, interval time.Duration, log logging.Logger) *JobManager {
	return &JobManager{
		runner:   runner,
		interval: interval,
		logger:   log,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the ticker loop. A non-positive interval leaves scheduling to
// the external cron trigger.
func (jm *JobManager) Start(ctx context.Context) {
	if jm.interval <= 0 {
		jm.logger.Info("In-process auto-recharge scheduler disabled, waiting for cron trigger")
		return
	}

	jm.logger.WithField("interval", jm.interval.String()).Info("Starting auto-recharge job manager")
	jm.wg.Add(1)
	go jm.runAutoRecharge(ctx)
}

// Stop stops the loop and waits for an in-flight pass to finish.
func (jm *JobManager) Stop() {
	jm.stopOnce.Do(func() {
		jm.logger.Info("Stopping auto-recharge job manager")
		close(jm.stopCh)
	})
	jm.wg.Wait()
}

func (jm *JobManager) runAutoRecharge(ctx context.Context) {
	defer jm.wg.Done()

	ticker := time.NewTicker(jm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-jm.stopCh:
			return
		case <-ticker.C:
			jm.runPass(ctx)
		}
	}
}

func (jm *JobManager) runPass(ctx context.Context) {
	report, err := jm.runner.RunPass(ctx)
	if err != nil {
		jm.logger.WithError(err).Error("Scheduled auto-recharge pass failed")
		return
	}
	if len(report.Errors) > 0 {
		jm.logger.WithFields(logging.Fields{
			"processed": report.Processed,
			"errors":    report.Errors,
		}).Warn("Scheduled auto-recharge pass completed with errors")
	}
}
