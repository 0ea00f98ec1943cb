package main

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"chainflow/internal/admin"
	"chainflow/internal/bootstrap"
	"chainflow/internal/config"
	"chainflow/internal/engine"
	"chainflow/internal/executor"
	"chainflow/internal/metrics"
	"chainflow/internal/store"
)

// app holds the services built once at startup and shared by every command.
type app struct {
	db       *sqlx.DB
	repo     store.Repository
	engine   *engine.Engine
	admin    *admin.Service
	registry *prometheus.Registry
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	repo := store.NewSQLiteRepo(db)

	tf, err := config.LoadTaskFile(cfg.TasksFile)
	if err != nil {
		db.Close()
		return nil, err
	}
	if _, err := bootstrap.Seed(ctx, repo, tf); err != nil {
		db.Close()
		return nil, err
	}

	baseURL := cfg.ResolveBaseURL(tf)
	log.Info().Str("db", cfg.DBPath).Str("base_url", baseURL).Msg("store ready")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	eng := engine.New(repo, executor.New(baseURL, cfg.HTTPTimeout), engine.Options{
		PollInterval: cfg.PollInterval,
		Workers:      cfg.Workers,
		Metrics:      metrics.New(reg),
	})
	return &app{
		db:       db,
		repo:     repo,
		engine:   eng,
		admin:    admin.New(repo, eng),
		registry: reg,
	}, nil
}

func (a *app) Close() {
	a.engine.Wait()
	if err := a.db.Close(); err != nil {
		log.Error().Err(err).Msg("close db")
	}
}
