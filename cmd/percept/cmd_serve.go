// Copyright (C) 2025 Percept Labs (oss@getpercept.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/GetPercept/percept/services/percept"
	"github.com/GetPercept/percept/services/percept/authz"
	"github.com/GetPercept/percept/services/percept/config"
	"github.com/GetPercept/percept/services/percept/contacts"
	"github.com/GetPercept/percept/services/percept/entity"
	"github.com/GetPercept/percept/services/percept/intent"
	"github.com/GetPercept/percept/services/percept/reasoner"
	"github.com/GetPercept/percept/services/percept/storage"
	"github.com/GetPercept/percept/services/percept/stt"
	"github.com/GetPercept/percept/services/percept/vector"
)

func newServeCommand() *cobra.Command {
	var traceStdout bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Percept ingest server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), traceStdout)
		},
	}
	cmd.Flags().BoolVar(&traceStdout, "trace-stdout", false, "Export OTel spans to stdout (development only)")
	return cmd
}

func runServe(ctx context.Context, traceStdout bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := setupLogger()
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// W3C TraceContext flows from incoming headers through all handlers.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if traceStdout {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("stdout trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		otel.SetTracerProvider(tp)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
	}

	db, err := storage.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open data dir %s: %w", cfg.DataDir, err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("store close failed", slog.Any("error", err))
		}
	}()
	store := storage.NewBadgerStore(db, logger)

	client := buildReasonerClient(cfg, logger)
	classifier := intent.NewClassifier(
		intent.NewRules(contacts.NewStoreBook(store, logger), ""),
		client,
		intent.NewCache(db, cfg.Intent.CacheTTL, logger),
		intent.ClassifierOptions{
			ReasonerTimeout: cfg.Intent.ReasonerTimeout,
			HumanFloor:      cfg.Intent.HumanFloor,
		},
		logger,
	)

	var searcher vector.Searcher
	if cfg.Vector.Enabled {
		ws, err := vector.NewWeaviateSearcher(ctx, cfg.Vector.Scheme, cfg.Vector.Host, cfg.Vector.Class, logger)
		if err != nil {
			logger.Warn("weaviate unavailable, semantic search disabled", slog.Any("error", err))
		} else {
			searcher = ws
		}
	}

	var executor reasoner.Executor
	if cfg.Reasoner.AgentURL != "" {
		executor = reasoner.NewHTTPExecutor(cfg.Reasoner.AgentURL, logger)
	}
	var transcriber stt.Transcriber
	if cfg.STT.Endpoint != "" {
		transcriber = stt.NewHTTPTranscriber(cfg.STT.Endpoint, logger)
	}

	// Wake phrases hot-reload from the config file while the server runs.
	watcher := config.NewWatcher(configPath, cfg.WakePhrases, logger)
	go watcher.Watch(ctx)

	svc, err := percept.NewService(cfg, percept.Deps{
		Store:       store,
		Gate:        authz.NewGate(cfg.Authz.AllowedSpeakers, store, logger),
		Classifier:  classifier,
		Resolver:    entity.NewResolver(store, searcher, cfg.Entity.FuzzyThreshold, logger),
		Searcher:    searcher,
		Transcriber: transcriber,
		Executor:    executor,
		Summarizer:  client,
		WakePhrases: watcher.WakePhrases,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	router := buildRouter(svc, store, logger)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("percept server starting",
			slog.String("address", cfg.ListenAddr),
			slog.Int("wake_phrases", len(cfg.WakePhrases)),
			slog.Bool("vector", searcher != nil),
			slog.Bool("reasoner", client != nil),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if debugMode {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// buildReasonerClient selects the tier-2 backend. Returns nil when no
// provider is configured; the classifier then degrades unknown commands to
// human review.
func buildReasonerClient(cfg *config.Config, logger *slog.Logger) reasoner.Client {
	var client reasoner.Client
	switch cfg.Reasoner.Provider {
	case "ollama":
		c, err := reasoner.NewOllamaClient(cfg.Reasoner.Model, cfg.Reasoner.BaseURL)
		if err != nil {
			logger.Warn("ollama client unavailable, tier-2 disabled", slog.Any("error", err))
			return nil
		}
		client = c
	case "agent":
		client = reasoner.NewAgentClient(cfg.Reasoner.AgentURL, logger)
	case "", "none":
		return nil
	default:
		logger.Warn("unknown reasoner provider, tier-2 disabled",
			slog.String("provider", cfg.Reasoner.Provider))
		return nil
	}
	if cfg.Reasoner.RatePerMinute > 0 {
		client = reasoner.NewRateLimited(client, cfg.Reasoner.RatePerMinute, 2)
	}
	return client
}

func buildRouter(svc *percept.Service, store storage.Store, logger *slog.Logger) *gin.Engine {
	if debugMode {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("percept"))
	if debugMode {
		router.Use(gin.Logger())
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	percept.RegisterRoutes(v1, percept.NewHandlers(svc, store, logger))
	return router
}
