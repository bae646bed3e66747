package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/expense-tracker/internal/api"
	"github.com/dvloznov/expense-tracker/internal/config"
	"github.com/dvloznov/expense-tracker/internal/gcsuploader"
	"github.com/dvloznov/expense-tracker/internal/infra"
	"github.com/dvloznov/expense-tracker/internal/jobs"
	"github.com/dvloznov/expense-tracker/internal/jobs/inmemory"
	"github.com/dvloznov/expense-tracker/internal/logger"
	"github.com/dvloznov/expense-tracker/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logger.New()
		boot.Fatal().Err(err).Msg("Invalid configuration")
	}

	port := flag.String("port", cfg.Port, "HTTP server port (or set PORT env)")
	flag.Parse()

	log := logger.NewWithOptions(os.Stdout, logger.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON})
	ctx := logger.WithContext(context.Background(), log)

	st, err := infra.OpenStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.StoreBackend).Msg("Failed to open store")
	}
	defer st.Close()

	opts := []pipeline.Option{
		pipeline.WithMaxFileBytes(cfg.MaxUploadBytes),
		pipeline.WithSettingsRetries(cfg.SettingsMaxRetries),
	}

	if cfg.GCSBucket != "" {
		gcs, err := gcsuploader.New(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create storage client")
		}
		defer gcs.Close()
		opts = append(opts, pipeline.WithArchiver(gcsuploader.NewArchiver(gcs, cfg.GCSBucket)))
		log.Info().Str("bucket", cfg.GCSBucket).Msg("Archiving uploads")
	} else {
		log.Warn().Msg("No GCS bucket configured - uploads will not be archived")
	}

	importer := pipeline.NewImporter(st, st, opts...)

	// Background imports
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(inmemory.Options{
		BufferSize: cfg.JobQueueSize,
		Workers:    cfg.JobWorkers,
		MaxRetries: cfg.JobMaxRetries,
	}, jobStore)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	if err := jobQueue.Start(workerCtx, jobs.ImportHandler(importer)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job workers")
	}
	log.Info().Int("workers", cfg.JobWorkers).Msg("Started job workers")

	if cfg.JWTSecret == "" {
		log.Warn().Msg("JWT_SECRET not set - trusting the X-User-ID header")
	}

	handler := api.NewRouter(api.Deps{
		Importer:  importer,
		Publisher: jobQueue,
		Jobs:      jobStore,
		JWTSecret: cfg.JWTSecret,
		Log:       log,
	})

	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", *port).Str("backend", cfg.StoreBackend).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	log.Info().Msg("Server exited")
}
