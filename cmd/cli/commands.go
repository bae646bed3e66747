package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dvloznov/expense-tracker/internal/api/middleware"
	"github.com/dvloznov/expense-tracker/internal/config"
	"github.com/dvloznov/expense-tracker/internal/domain"
	"github.com/dvloznov/expense-tracker/internal/gcsuploader"
	"github.com/dvloznov/expense-tracker/internal/pipeline"
	"github.com/dvloznov/expense-tracker/internal/store"
	"github.com/spf13/cobra"
)

// app carries what every command needs. Tests swap openStore and fetch.
type app struct {
	cfg       config.Config
	ctx       context.Context
	openStore func(ctx context.Context, cfg config.Config) (store.Store, error)
	fetch     func(ctx context.Context, uri string) ([]byte, error)
}

func newRootCommand(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cli",
		Short: "Expense tracker import tool",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newImportCommand(a),
		newCountCommand(a),
		newSettingsCommand(a),
		newResetCommand(a),
		newUploadCommand(a),
		newTokenCommand(a),
	)
	return rootCmd
}

// withImporter opens the configured store and runs fn with an importer over it.
func (a *app) withImporter(fn func(ctx context.Context, importer *pipeline.Importer) error) error {
	st, err := a.openStore(a.ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("opening %s store: %w", a.cfg.StoreBackend, err)
	}
	defer st.Close()

	importer := pipeline.NewImporter(st, st,
		pipeline.WithMaxFileBytes(a.cfg.MaxUploadBytes),
		pipeline.WithSettingsRetries(a.cfg.SettingsMaxRetries),
	)
	return fn(a.ctx, importer)
}

// readSource loads a local file or a gs:// object.
func (a *app) readSource(ctx context.Context, source string) (string, []byte, error) {
	if !gcsuploader.IsGCSURI(source) {
		data, err := os.ReadFile(source)
		if err != nil {
			return "", nil, fmt.Errorf("reading %s: %w", source, err)
		}
		return filepath.Base(source), data, nil
	}

	fetch := a.fetch
	if fetch == nil {
		client, err := gcsuploader.New(ctx)
		if err != nil {
			return "", nil, err
		}
		defer client.Close()
		fetch = client.FetchFromGCS
	}

	data, err := fetch(ctx, source)
	if err != nil {
		return "", nil, err
	}
	return gcsuploader.ExtractFilenameFromGCSURI(source), data, nil
}

func newImportCommand(a *app) *cobra.Command {
	var file, user, mode string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a JSON, CSV, XLSX or XLS export for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			importMode, err := domain.ParseImportMode(mode)
			if err != nil {
				return err
			}

			return a.withImporter(func(ctx context.Context, importer *pipeline.Importer) error {
				filename, data, err := a.readSource(ctx, file)
				if err != nil {
					return err
				}

				result, err := importer.Import(ctx, pipeline.ImportRequest{
					UserID:   user,
					Filename: filename,
					Data:     data,
					Mode:     importMode,
				})
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintln(out, result.Message())
				for _, r := range result.Rejections {
					fmt.Fprintf(out, "  row %d: %s %s\n", r.Row, r.Reason, r.Detail)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "local path or gs://bucket/object (required)")
	cmd.Flags().StringVar(&user, "user", "", "user ID (required)")
	cmd.Flags().StringVar(&mode, "mode", string(domain.ModeOverride), "override or merge")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func newCountCommand(a *app) *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "count",
		Short: "Print how many transactions a user has",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withImporter(func(ctx context.Context, importer *pipeline.Importer) error {
				n, err := importer.CountTransactions(ctx, user)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), n)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "user ID (required)")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func newSettingsCommand(a *app) *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Print a user's settings as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withImporter(func(ctx context.Context, importer *pipeline.Importer) error {
				settings, err := importer.Settings(ctx, user)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(settings)
			})
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "user ID (required)")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func newResetCommand(a *app) *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete a user's transactions and reset their settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withImporter(func(ctx context.Context, importer *pipeline.Importer) error {
				deleted, err := importer.ResetUserData(ctx, user)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d transactions and reset settings\n", deleted)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "user ID (required)")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func newUploadCommand(a *app) *cobra.Command {
	var bucket, file, object string

	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload a local export to a GCS bucket",
		RunE: func(cmd *cobra.Command, args []string) error {
			if bucket == "" {
				bucket = a.cfg.GCSBucket
			}
			if bucket == "" {
				return fmt.Errorf("--bucket or GCS_BUCKET is required")
			}
			if object == "" {
				object = filepath.Base(file)
			}

			client, err := gcsuploader.New(a.ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.UploadFile(a.ctx, bucket, object, file); err != nil {
				return fmt.Errorf("upload failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s to gs://%s/%s\n", file, bucket, object)
			return nil
		},
	}

	cmd.Flags().StringVar(&bucket, "bucket", "", "GCS bucket name (defaults to GCS_BUCKET)")
	cmd.Flags().StringVar(&file, "file", "", "path to local file (required)")
	cmd.Flags().StringVar(&object, "object", "", "object name (defaults to the file name)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func newTokenCommand(a *app) *cobra.Command {
	var user string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API access token signed with JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.JWTSecret == "" {
				return fmt.Errorf("JWT_SECRET is not set")
			}
			token, err := middleware.SignToken(a.cfg.JWTSecret, user, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "user ID (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
