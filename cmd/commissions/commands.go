package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/smallbiznis/commissions/internal/adapter"
	"github.com/smallbiznis/commissions/internal/adapter/tabular"
	"github.com/smallbiznis/commissions/internal/commission/domain"
	"github.com/smallbiznis/commissions/internal/config"
	"github.com/smallbiznis/commissions/internal/migration"
	"github.com/smallbiznis/commissions/internal/observability"
	"github.com/smallbiznis/commissions/internal/pipeline"
	"github.com/smallbiznis/commissions/internal/registry"
	"github.com/smallbiznis/commissions/internal/seed"
	"github.com/smallbiznis/commissions/internal/storage"
	"github.com/smallbiznis/commissions/internal/worker"
	"github.com/smallbiznis/commissions/pkg/db"
	"github.com/smallbiznis/commissions/pkg/money"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const startTimeout = 30 * time.Second

// runOnce starts app, runs fn and stops the app again.
func runOnce(ctx context.Context, app *fx.App, fn func(ctx context.Context) error) error {
	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}

	runErr := fn(ctx)

	stopCtx, cancelStop := context.WithTimeout(context.Background(), startTimeout)
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil && runErr == nil {
		return err
	}
	return runErr
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the worker that processes queued submissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(
				coreModules(),
				worker.Module,
			)
			app.Run()
			return app.Err()
		},
	}
}

func newProcessCmd() *cobra.Command {
	var (
		variant      string
		reportID     string
		period       string
		manufacturer int64
		uploader     int64
		declared     string
	)
	cmd := &cobra.Command{
		Use:   "process FILE",
		Short: "Register a report file and run it through the pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			month, year, err := parsePeriod(period)
			if err != nil {
				return err
			}
			submission := domain.Submission{
				ReportID:       reportID,
				ReportVariant:  variant,
				ReportingMonth: month,
				ReportingYear:  year,
				ManufacturerID: manufacturer,
				UploaderID:     uploader,
			}
			if strings.TrimSpace(declared) != "" {
				cents, err := money.ParseCents(declared)
				if err != nil {
					return fmt.Errorf("declared commission: %w", err)
				}
				submission.DeclaredCommissionCents = &cents
			}
			if submission.ReportID == "" {
				submission.ReportID = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}

			var (
				orch  *pipeline.Orchestrator
				files storage.FileStore
			)
			app := fx.New(coreModules(), fx.NopLogger, fx.Populate(&orch, &files))
			return runOnce(cmd.Context(), app, func(ctx context.Context) error {
				summary, err := processFile(ctx, orch, files, submission, args[0])
				if summary.SubmissionID != 0 {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					if encErr := enc.Encode(summary); encErr != nil && err == nil {
						err = encErr
					}
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&variant, "variant", "", "report variant, as listed by the variants command")
	cmd.Flags().StringVar(&reportID, "report-id", "", "manufacturer report id; defaults to the file name")
	cmd.Flags().StringVar(&period, "period", "", "reporting period as YYYY-MM")
	cmd.Flags().Int64Var(&manufacturer, "manufacturer", 0, "manufacturer id")
	cmd.Flags().Int64Var(&uploader, "uploader", 0, "uploading user id")
	cmd.Flags().StringVar(&declared, "declared-commission", "", "commission total declared on the report, e.g. 1,234.56")
	_ = cmd.MarkFlagRequired("variant")
	_ = cmd.MarkFlagRequired("period")
	_ = cmd.MarkFlagRequired("manufacturer")
	return cmd
}

// processFile stores the upload, registers the submission and processes it.
func processFile(ctx context.Context, orch *pipeline.Orchestrator, files storage.FileStore, submission domain.Submission, path string) (pipeline.Summary, error) {
	src, err := os.Open(path)
	if err != nil {
		return pipeline.Summary{}, err
	}
	defer src.Close()

	uri, err := files.Save(ctx, fmt.Sprintf("%d/%02d/%s", submission.ReportingYear, submission.ReportingMonth, filepath.Base(path)), src)
	if err != nil {
		return pipeline.Summary{}, fmt.Errorf("store upload: %w", err)
	}
	submission.SourceURI = uri

	id, err := orch.Register(ctx, &submission)
	if err != nil {
		return pipeline.Summary{}, err
	}
	stored, err := files.Open(ctx, uri)
	if err != nil {
		return pipeline.Summary{SubmissionID: id}, err
	}
	defer stored.Close()
	return orch.Process(ctx, id, stored)
}

func parsePeriod(raw string) (int, int, error) {
	t, err := time.Parse("2006-01", strings.TrimSpace(raw))
	if err != nil {
		return 0, 0, fmt.Errorf("period must look like 2026-02: %w", err)
	}
	return int(t.Month()), t.Year(), nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				conn *gorm.DB
				cfg  config.Config
				log  *zap.Logger
			)
			app := fx.New(
				config.Module,
				observability.Module,
				db.Module,
				fx.NopLogger,
				fx.Populate(&conn, &cfg, &log),
			)
			return runOnce(cmd.Context(), app, func(ctx context.Context) error {
				if err := migration.Migrate(conn, cfg.DBType); err != nil {
					return err
				}
				log.Info("schema migrated", zap.String("type", cfg.DBType))
				return nil
			})
		},
	}
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed FILE",
		Short: "Load reference mappings and branches from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := seed.Load(args[0])
			if err != nil {
				return err
			}
			var (
				svc *registry.Service
				log *zap.Logger
			)
			app := fx.New(coreModules(), fx.NopLogger, fx.Populate(&svc, &log))
			return runOnce(cmd.Context(), app, func(ctx context.Context) error {
				result, err := seed.EnsureReference(ctx, svc, ref)
				if err != nil {
					return err
				}
				log.Info("reference seeded",
					zap.Int("inserted", result.Inserted),
					zap.Int("existing", result.Existing),
				)
				return nil
			})
		},
	}
}

func newVariantsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "variants",
		Short: "List the report variants with a registered adapter",
		RunE: func(cmd *cobra.Command, args []string) error {
			var adapters *adapter.Registry
			app := fx.New(
				config.Module,
				observability.Module,
				tabular.Module,
				fx.NopLogger,
				fx.Populate(&adapters),
			)
			return runOnce(cmd.Context(), app, func(ctx context.Context) error {
				for _, variant := range adapters.Variants() {
					fmt.Fprintln(cmd.OutOrStdout(), variant)
				}
				return nil
			})
		},
	}
}
