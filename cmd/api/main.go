package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/juju/clock"

	"notecrm/api/internal/app"
	"notecrm/api/internal/config"
	"notecrm/api/internal/jobs"
	"notecrm/api/internal/logging"
	"notecrm/api/internal/push"
	"notecrm/api/internal/search"
	"notecrm/api/internal/session"
	"notecrm/api/internal/store"
	"notecrm/api/internal/titlegen"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.MigrationsDir).Msg("migrations failed")
	}

	dataStore := store.NewPostgresStore(db)
	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logging.Component(logger, "search"))
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts, logging.Component(logger, "search"))

	var service *app.Service
	if strings.TrimSpace(cfg.RedisURL) != "" {
		logger.Info().Msg("using redis for session storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		service = app.New(cfg, dataStore, redisStore, searchService, logging.Component(logger, "app"))
	} else {
		logger.Info().Msg("using postgres for session storage")
		service = app.New(cfg, dataStore, nil, searchService, logging.Component(logger, "app"))
	}

	registry := push.NewRegistry()
	broadcaster := push.NewBroadcaster(registry, logging.Component(logger, "push"))

	var runner *jobs.Runner
	if cfg.TitleGenerationActive() {
		generator := titlegen.NewHTTPGenerator(cfg.TitleGenURL, cfg.TitleGenAPIKey, cfg.TitleGenModel, cfg.TitleGenTimeout)
		runner = jobs.NewRunner(generator, service, broadcaster, jobs.RunnerConfig{
			MaxConcurrent: cfg.TitleGenMaxConcurrent,
			Timeout:       cfg.TitleGenTimeout,
			Clock:         clock.WallClock,
			Logger:        logging.Component(logger, "jobs"),
		})
		service.SetTitleScheduler(runner)
		logger.Info().Str("model", cfg.TitleGenModel).Int("max_concurrent", cfg.TitleGenMaxConcurrent).Msg("title generation enabled")
	} else if cfg.TitleGenEnabled {
		logger.Warn().Msg("TITLEGEN_ENABLED is set but TITLEGEN_URL is empty, title generation disabled")
	} else {
		logger.Info().Msg("title generation disabled, notes keep their fallback titles")
	}

	if err := service.Bootstrap(ctx); err != nil {
		logger.Warn().Err(err).Msg("bootstrap error (will retry on next restart)")
	}

	endpoint := push.NewEndpoint(registry, service, push.EndpointConfig{
		KeepAlive:      cfg.PushKeepAlive,
		WriteTimeout:   cfg.PushWriteTimeout,
		AllowedOrigins: strings.Split(cfg.CORSOrigin, ","),
	}, logging.Component(logger, "push"))

	httpServer := app.NewHTTPServer(service, app.HTTPConfig{
		CORSOrigin:  cfg.CORSOrigin,
		Events:      endpoint,
		Connections: registry.Len,
		Logger:      logging.Component(logger, "http"),
	})
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("notecrm api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
	// Hijacked websocket connections are not closed by Shutdown.
	registry.CloseAll()
	if runner != nil {
		if err := runner.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("title jobs still running at exit")
		}
	}
}
