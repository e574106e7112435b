package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"pims/api/internal/app"
	"pims/api/internal/cache"
	"pims/api/internal/config"
	"pims/api/internal/events"
	"pims/api/internal/notify"
	"pims/api/internal/store"
	"pims/api/internal/timeline"
	"pims/api/internal/workflow"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}

	dataStore := store.NewPostgresStore(db)

	// The approval graph is validated once at boot so a broken revise
	// edge or duplicate step surfaces before any request hits it.
	workflows, err := dataStore.ListWorkflows(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("load workflows failed")
	}
	graph := workflow.NewGraph(workflows)
	if err := graph.Validate(); err != nil {
		log.Fatal().Err(err).Msg("workflow graph is inconsistent")
	}

	var snapshots *cache.Cache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		snapshots, err = cache.New(cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, serving without snapshot cache")
			snapshots = nil
		} else {
			defer snapshots.Close()
		}
	}

	dispatcher := events.NewDispatcher(log)
	timeline.NewRecorder(dataStore, log).Register(dispatcher)

	mailer := notify.NewMailer(notify.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if mailer.IsConfigured() {
		notify.NewNotifier(mailer, dataStore, graph, log).Register(dispatcher)
	} else {
		log.Info().Msg("smtp not configured, action notifications disabled")
	}

	service := app.NewService(dataStore, db, cfg, dispatcher, snapshots, log)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, log)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("PIMS API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}
