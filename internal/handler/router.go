// Package handler assembles the HTTP routes.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/unclebandit/outreach-dispatch/internal/controller"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Controllers holds everything the router dispatches to. Health is
// optional.
type Controllers struct {
	Campaigns *controller.CampaignController
	Imports   *controller.ImportController
	Messages  *controller.MessageController
	Dispatch  *controller.DispatchController
	Health    Pinger
}

func NewRouter(c Controllers) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", healthz(c.Health))

	// Campaign routes
	r.Route("/campaigns", func(r chi.Router) {
		r.Post("/", c.Campaigns.CreateCampaign)
		r.Get("/", c.Campaigns.ListCampaigns)
		r.Get("/{id}", c.Campaigns.GetCampaignDetails)
		r.Post("/{id}/start", c.Campaigns.StartCampaign)
		r.Post("/{id}/pause", c.Campaigns.PauseCampaign)
		r.Post("/{id}/resume", c.Campaigns.ResumeCampaign)
		r.Post("/{id}/cancel", c.Campaigns.CancelCampaign)
		r.Post("/{id}/personalized-preview", c.Campaigns.PersonalizedPreview)
	})

	r.Post("/imports", c.Imports.Import)
	r.Post("/imports/preview", c.Imports.Preview)
	r.Post("/messages/{id}/retry", c.Messages.RetryMessage)
	r.Post("/webhooks/delivery", c.Messages.DeliveryWebhook)
	r.Post("/dispatch/run", c.Dispatch.Run)

	return r
}

func healthz(p Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if p != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := p.PingContext(ctx); err != nil {
				logrus.WithError(err).Warn("health check failed")
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		w.Write([]byte(`{"status":"ok"}`))
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			logrus.WithFields(logrus.Fields{
				"request_id": middleware.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start).String(),
			}).Info("http request")
		}()
		next.ServeHTTP(ww, r)
	})
}
