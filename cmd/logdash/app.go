package main

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"logdash/internal/analysis"
	"logdash/internal/auth"
	"logdash/internal/config"
	"logdash/internal/connectors/backend"
	"logdash/internal/connectors/events"
	"logdash/internal/logging"
)

// app holds the collaborators shared by every command.
type app struct {
	cfg       config.Config
	logger    *zap.Logger
	client    *backend.Client
	endpoints []analysis.Endpoint
}

func newApp(cfg config.Config) (*app, error) {
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	endpoints, err := analysis.LoadCatalog(cfg.EndpointsFile)
	if err != nil {
		return nil, fmt.Errorf("load endpoint catalog: %w", err)
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		client:    backend.NewClient(cfg.BackendURL, tokenProvider(cfg), cfg.BackendTimeout),
		endpoints: endpoints,
	}, nil
}

func tokenProvider(cfg config.Config) auth.Provider {
	if cfg.AuthTokenURL != "" {
		return auth.NewIssuer(cfg.AuthTokenURL, cfg.AuthClientID, cfg.AuthClientSecret, cfg.BackendTimeout)
	}
	return auth.Static(cfg.AuthToken)
}

func (a *app) fetcher(observer analysis.Observer) *analysis.Fetcher {
	return analysis.NewFetcher(a.client, analysis.FetcherOptions{
		Timeout:     a.cfg.FetchTimeout,
		Concurrency: a.cfg.FetchConcurrency,
		Observer:    observer,
	}, a.logger)
}

// eventSinks opens every configured sink. The returned store is the first
// SQL-backed one, or nil when only broadcast sinks are configured.
func (a *app) eventSinks() (events.Multi, *events.SQLStore, error) {
	var (
		sinks events.Multi
		store *events.SQLStore
	)
	closeAll := func(err error) (events.Multi, *events.SQLStore, error) {
		return nil, nil, errors.Join(err, sinks.Close())
	}

	if a.cfg.EventsSQLitePath != "" {
		s, err := events.NewSQLiteStore(a.cfg.EventsSQLitePath)
		if err != nil {
			return closeAll(err)
		}
		sinks = append(sinks, s)
		store = s
		a.logger.Info("event store enabled", zap.String("driver", s.Driver()), zap.String("path", a.cfg.EventsSQLitePath))
	}
	if a.cfg.EventsDBEnabled {
		s, err := events.NewMySQLStore(a.cfg.EventsMySQLDSN(), a.cfg.EventsDBQueryTimeout)
		if err != nil {
			return closeAll(err)
		}
		sinks = append(sinks, s)
		if store == nil {
			store = s
		}
		a.logger.Info("event store enabled", zap.String("driver", s.Driver()), zap.String("host", a.cfg.EventsDBHost))
	}
	if a.cfg.EventsAMQPURL != "" {
		p, err := events.NewAMQPPublisher(a.cfg.EventsAMQPURL, a.cfg.EventsAMQPExchange)
		if err != nil {
			return closeAll(err)
		}
		sinks = append(sinks, p)
		a.logger.Info("event broadcast enabled", zap.String("exchange", a.cfg.EventsAMQPExchange))
	}
	return sinks, store, nil
}
