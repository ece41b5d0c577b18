// Command cardsync runs the webhook receiver: it accepts Trello
// notifications, dispatches them through the extraction pipeline, and
// drives the retry queue until every write lands.
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

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cardsync/internal/config"
	"cardsync/internal/dispatcher"
	"cardsync/internal/extractor"
	"cardsync/internal/intake"
	"cardsync/internal/intake/overflow"
	"cardsync/internal/metrics"
	"cardsync/internal/middleware"
	"cardsync/internal/retry"
	"cardsync/internal/source"
	"cardsync/internal/store"
)

const intakeChannelDepth = 256

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if cfg.LogLevel == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.SourceProject, cfg.SourceDataset)
	if err != nil {
		logger.Error("failed to open analytical store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	overflowLog, err := overflow.Open(cfg.OverflowLogPath)
	if err != nil {
		logger.Error("failed to open intake overflow log", "error", err)
		os.Exit(1)
	}
	defer overflowLog.Close()

	sourceClient := source.NewClient(cfg.SourceAPIKey, cfg.SourceAPIToken, cfg.SourceFetchTimeout, logger)

	extractor.Init(cfg.ExtractorAPIKey, cfg.ExtractorModelID, cfg.ExtractorTimeout, cfg.MaxInputLength, logger)
	defer extractor.Close()

	intakeCh := make(chan intake.Notification, intakeChannelDepth)

	dispatch := dispatcher.New(st, sourceClient, extractor.Extract, logger)
	go dispatch.Run(ctx, cfg.WorkerConcurrency, intakeCh)

	retryWorker := retry.New(st, retry.Config{
		Tick:       cfg.RetryTick,
		MaxRetries: cfg.RetryMaxAttempts,
		RetryBase:  cfg.RetryBase,
	}, logger)
	go retryWorker.Run(ctx)

	go metrics.StartRetryQueueDepthCollector(ctx, st, cfg.RetryTick)
	go intake.DrainOverflow(ctx, intakeCh, overflowLog, cfg.RetryTick, logger)

	handler := intake.NewHandler(intakeCh, overflowLog, logger)
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID, chimiddleware.Recoverer)
	handler.Mount(router, "/webhook-callback")
	router.Method(http.MethodGet, "/healthz", middleware.WrapHandler(metrics.EndpointHealth, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: router,
	}

	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.MetricsHost, cfg.MetricsPort),
			Handler: metricsMux,
		}
		go func() {
			logger.Info("metrics server starting", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	go func() {
		logger.Info("cardsync server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received, draining in-flight work")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", "error", err)
		}
	}

	close(intakeCh)
	logger.Info("cardsync stopped")
}
