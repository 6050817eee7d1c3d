package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/outreach-dispatch/internal/errors"
	"github.com/unclebandit/outreach-dispatch/internal/logging"
)

// Worker drives the dispatcher and the janitor on fixed intervals.
type Worker struct {
	Dispatcher    *Dispatcher
	Janitor       *Janitor
	BatchSize     int
	Interval      time.Duration
	SweepInterval time.Duration
}

// Constructor
func NewWorker(d *Dispatcher, j *Janitor, batchSize int, interval, sweepInterval time.Duration) *Worker {
	return &Worker{
		Dispatcher:    d,
		Janitor:       j,
		BatchSize:     batchSize,
		Interval:      interval,
		SweepInterval: sweepInterval,
	}
}

// Start runs until ctx is cancelled. It returns early only when the
// dispatcher has no transport configured.
func (w *Worker) Start(ctx context.Context) error {
	dispatchTick := time.NewTicker(w.Interval)
	defer dispatchTick.Stop()
	sweepTick := time.NewTicker(w.SweepInterval)
	defer sweepTick.Stop()

	logrus.WithFields(logrus.Fields{
		"batch_size":     w.BatchSize,
		"interval":       w.Interval,
		"sweep_interval": w.SweepInterval,
	}).Info("worker started")

	if err := w.dispatch(ctx); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			logrus.Info("worker stopped")
			return nil
		case <-dispatchTick.C:
			if err := w.dispatch(ctx); err != nil {
				return err
			}
		case <-sweepTick.C:
			w.sweep(ctx)
		}
	}
}

func (w *Worker) dispatch(ctx context.Context) error {
	_, err := w.Dispatcher.DispatchBatch(ctx, w.BatchSize)
	if errors.Is(err, appErrors.ErrTransportNotConfigured) {
		return err
	}
	if err != nil && ctx.Err() == nil {
		logging.ReportError("dispatch_batch", err, logrus.Fields{})
	}
	return nil
}

func (w *Worker) sweep(ctx context.Context) {
	if w.Janitor == nil {
		return
	}
	if _, err := w.Janitor.SweepStale(ctx, time.Now()); err != nil && ctx.Err() == nil {
		logging.ReportError("stale_sweep", err, logrus.Fields{})
	}
}
