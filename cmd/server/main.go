// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/outreach-dispatch/internal/app"
	"github.com/unclebandit/outreach-dispatch/internal/config"
	"github.com/unclebandit/outreach-dispatch/internal/controller"
	"github.com/unclebandit/outreach-dispatch/internal/handler"
	"github.com/unclebandit/outreach-dispatch/internal/logging"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, true)
	if err != nil {
		logging.ReportError("startup", err, logrus.Fields{"component": "server"})
		logging.Flush()
		os.Exit(1)
	}
	defer a.Close()

	controllers := handler.Controllers{
		Campaigns: &controller.CampaignController{CampaignService: a.Campaigns},
		Imports: &controller.ImportController{
			ImportService:  a.Imports,
			MaxBodyBytes:   cfg.Server.MaxBodyBytes,
			MaxReportItems: cfg.Server.MaxReportItems,
		},
		Messages: &controller.MessageController{CampaignService: a.Campaigns},
		Dispatch: &controller.DispatchController{
			Dispatcher:     a.Dispatcher,
			Janitor:        a.Janitor,
			BatchSize:      cfg.Dispatch.BatchSize,
			MaxReportItems: cfg.Server.MaxReportItems,
		},
	}
	if a.DB != nil {
		controllers.Health = a.DB
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handler.NewRouter(controllers),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logrus.WithField("addr", srv.Addr).Info("server running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logging.ReportError("server", err, logrus.Fields{})
		return
	}
	logrus.Info("server stopped")
}
