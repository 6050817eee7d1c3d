package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/outreach-dispatch/internal/app"
	"github.com/unclebandit/outreach-dispatch/internal/config"
	"github.com/unclebandit/outreach-dispatch/internal/logging"
	"github.com/unclebandit/outreach-dispatch/internal/queue"
	"github.com/unclebandit/outreach-dispatch/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)
	if err := logging.InitSentry(cfg.Sentry.DSN, cfg.Environment); err != nil {
		logrus.WithError(err).Warn("sentry disabled")
	}
	defer logging.Flush()

	if err := run(cfg); err != nil {
		logging.ReportError("worker", err, logrus.Fields{})
		logging.Flush()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	subscribeStatus(a.Queue)

	worker := service.NewWorker(a.Dispatcher, a.Janitor, cfg.Dispatch.BatchSize, cfg.Dispatch.Interval, cfg.Dispatch.SweepInterval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Start(gctx)
	})

	err = g.Wait()
	if q, ok := a.Queue.(*queue.InMemoryQueue); ok {
		q.Wait()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logrus.Info("worker exited")
	return nil
}

// subscribeStatus surfaces campaign lifecycle events in the worker log.
func subscribeStatus(q queue.Queue) {
	if err := q.Subscribe(queue.TopicCampaignStatus, logCampaignStatus); err != nil {
		logrus.WithError(err).Warn("campaign status events not subscribed")
	}
}

func logCampaignStatus(payload any) error {
	var ev queue.CampaignStatusEvent
	if err := queue.Decode(payload, &ev); err != nil || ev.CampaignID == 0 {
		return nil
	}
	logging.Event("campaign.status", logrus.Fields{"campaign_id": ev.CampaignID, "status": ev.Status})
	return nil
}
