package notify

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"frameworks/purser-recharge/pkg/logging"
)

const (
	defaultMaxInFlight = 32
	defaultSendTimeout = 10 * time.Second
)

// Dispatcher runs sink deliveries in the background. When MaxInFlight
// deliveries are already running, new notifications are dropped.
type Dispatcher struct {
	sink    Sink
	logger  logging.Logger
	sem     *semaphore.Weighted
	timeout time.Duration
	wg      sync.WaitGroup
}

type DispatcherConfig struct {
	MaxInFlight int64
	SendTimeout time.Duration
}

func NewDispatcher(sink Sink, logger logging.Logger, cfg DispatcherConfig) *Dispatcher {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = defaultMaxInFlight
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	return &Dispatcher{
		sink:    sink,
		logger:  logger,
		sem:     semaphore.NewWeighted(cfg.MaxInFlight),
		timeout: cfg.SendTimeout,
	}
}

func (d *Dispatcher) Notify(n Notification) {
	fields := logging.Fields{
		"organization_id":   n.OrganizationID,
		"notification_type": n.Type,
	}
	if !d.sem.TryAcquire(1) {
		d.logger.WithFields(fields).Warn("Notification dropped, too many deliveries in flight")
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.sem.Release(1)

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.sink.Send(ctx, n); err != nil {
			d.logger.WithError(err).WithFields(fields).Warn("Failed to deliver notification")
		}
	}()
}

// Wait blocks until every accepted notification has been attempted.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
