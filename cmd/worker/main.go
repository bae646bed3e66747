package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dvloznov/expense-tracker/internal/config"
	"github.com/dvloznov/expense-tracker/internal/domain"
	"github.com/dvloznov/expense-tracker/internal/gcsuploader"
	"github.com/dvloznov/expense-tracker/internal/infra"
	"github.com/dvloznov/expense-tracker/internal/jobs"
	"github.com/dvloznov/expense-tracker/internal/jobs/inmemory"
	"github.com/dvloznov/expense-tracker/internal/logger"
	"github.com/dvloznov/expense-tracker/internal/pipeline"
)

// worker imports a batch of exports for one user through the job queue and
// exits once every job has finished. Sources may be local paths or gs:// URIs.
//
//	worker -user u1 -mode merge 2023.xlsx 2024.csv gs://bucket/exports/2025.json
func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logger.New()
		boot.Fatal().Err(err).Msg("Invalid configuration")
	}

	user := flag.String("user", "", "user ID (required)")
	mode := flag.String("mode", string(domain.ModeMerge), "override or merge")
	flag.Parse()

	log := logger.NewWithOptions(os.Stderr, logger.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON})

	importMode, err := domain.ParseImportMode(*mode)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid mode")
	}
	if *user == "" || flag.NArg() == 0 {
		log.Fatal().Msg("Usage: worker -user ID [-mode merge] FILE...")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	st, err := infra.OpenStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer st.Close()

	importer := pipeline.NewImporter(st, st,
		pipeline.WithMaxFileBytes(cfg.MaxUploadBytes),
		pipeline.WithSettingsRetries(cfg.SettingsMaxRetries),
	)

	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(inmemory.Options{
		BufferSize: flag.NArg(),
		Workers:    cfg.JobWorkers,
		MaxRetries: cfg.JobMaxRetries,
	}, jobStore)

	if err := jobQueue.Start(ctx, jobs.ImportHandler(importer)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	var gcs *gcsuploader.Client
	for _, source := range flag.Args() {
		filename, data, err := readSource(ctx, &gcs, source)
		if err != nil {
			log.Fatal().Err(err).Str("source", source).Msg("Failed to read source")
		}

		job := &jobs.ImportJob{UserID: *user, Filename: filename, Mode: importMode, Data: data}
		if err := jobQueue.PublishImport(ctx, job); err != nil {
			log.Fatal().Err(err).Msg("Failed to enqueue job")
		}
		log.Info().Str("job_id", job.JobID).Str("source", source).Msg("Queued import")
	}
	if gcs != nil {
		gcs.Close()
	}

	failed := wait(ctx, jobStore, *user, flag.NArg())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	if failed > 0 {
		log.Error().Int("failed", failed).Msg("Some imports failed")
		os.Exit(1)
	}
	log.Info().Msg("All imports completed")
}

// wait polls the job store until all n jobs are terminal and prints their
// outcome. It returns the number of failed jobs.
func wait(ctx context.Context, store jobs.JobStore, user string, n int) int {
	log := logger.FromContext(ctx)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		list, err := store.ListJobs(ctx, jobs.JobFilter{UserID: user})
		if err != nil {
			log.Error().Err(err).Msg("Failed to list jobs")
			return n
		}

		done := 0
		for _, j := range list {
			if j.Status.IsTerminal() {
				done++
			}
		}

		if done == n {
			failed := 0
			for _, j := range list {
				if j.Status == jobs.JobStatusFailed {
					failed++
					fmt.Printf("%s: failed: %s\n", j.Filename, j.Error)
					continue
				}
				fmt.Printf("%s: %s\n", j.Filename, j.Result.Message())
			}
			return failed
		}

		select {
		case <-ctx.Done():
			log.Warn().Int("finished", done).Int("total", n).Msg("Interrupted while waiting for jobs")
			return n - done
		case <-ticker.C:
		}
	}
}

func readSource(ctx context.Context, gcs **gcsuploader.Client, source string) (string, []byte, error) {
	if !gcsuploader.IsGCSURI(source) {
		data, err := os.ReadFile(source)
		return filepath.Base(source), data, err
	}

	if *gcs == nil {
		client, err := gcsuploader.New(ctx)
		if err != nil {
			return "", nil, err
		}
		*gcs = client
	}

	data, err := (*gcs).FetchFromGCS(ctx, source)
	return gcsuploader.ExtractFilenameFromGCSURI(source), data, err
}
