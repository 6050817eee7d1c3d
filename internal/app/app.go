// Package app wires configuration into the stores, queues and services
// shared by the binaries under cmd/.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/unclebandit/outreach-dispatch/internal/config"
	"github.com/unclebandit/outreach-dispatch/internal/db"
	"github.com/unclebandit/outreach-dispatch/internal/model"
	"github.com/unclebandit/outreach-dispatch/internal/phone"
	"github.com/unclebandit/outreach-dispatch/internal/queue"
	"github.com/unclebandit/outreach-dispatch/internal/repository"
	"github.com/unclebandit/outreach-dispatch/internal/repository/memory"
	"github.com/unclebandit/outreach-dispatch/internal/service"
	"github.com/unclebandit/outreach-dispatch/internal/transport"
)

type App struct {
	Config *config.Config
	DB     *sql.DB // nil with the memory store
	Store  repository.Store
	Queue  queue.Queue
	Policy phone.Policy

	Campaigns  *service.CampaignService
	Imports    *service.ImportService
	Dispatcher *service.Dispatcher
	Janitor    *service.Janitor

	closers []func() error
}

// New opens the configured store and event queue and builds the services.
// Transports are only attached when withTransports is set.
func New(ctx context.Context, cfg *config.Config, withTransports bool) (*App, error) {
	a := &App{
		Config: cfg,
		Policy: phone.Policy{
			DefaultCountryCode: cfg.Phone.DefaultCountryCode,
			NationalLength:     cfg.Phone.NationalLength,
		},
	}

	switch cfg.Store.Driver {
	case "memory":
		logrus.Warn("using the in-memory store, data is lost on exit")
		a.Store = memory.New()
	default:
		conn, err := db.Open(cfg.Database)
		if err != nil {
			return nil, err
		}
		a.DB = conn
		a.Store = repository.NewPostgresStore(conn)
		a.closers = append(a.closers, conn.Close)
	}

	if cfg.AMQP.Enabled {
		q, err := queue.NewAMQPQueue(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect amqp: %w", err)
		}
		a.Queue = q
		a.closers = append(a.closers, q.Close)
	} else {
		a.Queue = queue.NewInMemoryQueue()
	}

	a.Campaigns = &service.CampaignService{
		Store:             a.Store,
		Queue:             a.Queue,
		Policy:            a.Policy,
		DefaultMaxRetries: cfg.Dispatch.DefaultMaxRetries,
		DefaultPriority:   cfg.Dispatch.DefaultPriority,
	}
	a.Imports = &service.ImportService{
		Store:     a.Store,
		Campaigns: a.Campaigns,
		Queue:     a.Queue,
		Policy:    a.Policy,
	}
	a.Janitor = &service.Janitor{
		Store:        a.Store,
		Campaigns:    a.Campaigns,
		StaleAfter:   cfg.Dispatch.StaleAfter,
		AutoComplete: cfg.Dispatch.AutoComplete,
	}
	a.Dispatcher = &service.Dispatcher{
		Store:  a.Store,
		Queue:  a.Queue,
		Policy: a.Policy,
	}

	if withTransports {
		a.Dispatcher.Transports = Transports(cfg)
		pacer, err := a.pacer(ctx)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Dispatcher.Pacer = pacer
	}
	return a, nil
}

// Transports builds the channel transports enabled in cfg.
func Transports(cfg *config.Config) transport.Router {
	router := transport.Router{}
	if cfg.SMS.Mock {
		logrus.WithField("success_rate", cfg.SMS.MockSuccessRate).Warn("using the mock SMS gateway")
		router[model.ChannelSMS] = transport.NewMockSMSGateway(cfg.SMS.MockSuccessRate, time.Now().UnixNano())
	} else if cfg.SMS.BaseURL != "" {
		router[model.ChannelSMS] = transport.NewHTTPSMSGateway(cfg.SMS.BaseURL, cfg.SMS.APIKey, cfg.SMS.SenderID, cfg.SMS.Timeout)
	}
	if cfg.SMTP.Enabled {
		router[model.ChannelEmail] = transport.NewSMTPTransport(
			cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From, cfg.SMTP.Subject)
	}
	return router
}

func (a *App) pacer(ctx context.Context) (transport.Pacer, error) {
	delay := a.Config.Dispatch.SendDelay
	if !a.Config.Redis.Enabled {
		return transport.NewFixedPacer(delay), nil
	}
	client, err := transport.NewRedisClient(ctx, a.Config.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	return transport.NewRedisPacer(client, a.Config.Redis.RateKey, delay), nil
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logrus.WithError(err).Warn("close failed")
		}
	}
	a.closers = nil
}
