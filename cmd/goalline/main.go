// Command goalline drives the football-data ETL pipeline and its
// data-quality experiment harness.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/goalline-labs/goalline-go/internal/audit"
	"github.com/goalline-labs/goalline-go/internal/client"
	"github.com/goalline-labs/goalline-go/internal/config"
	"github.com/goalline-labs/goalline-go/internal/discovery"
	"github.com/goalline-labs/goalline-go/internal/domain"
	"github.com/goalline-labs/goalline-go/internal/experiment"
	"github.com/goalline-labs/goalline-go/internal/ingest"
	"github.com/goalline-labs/goalline-go/internal/loader"
	"github.com/goalline-labs/goalline-go/internal/mutate"
	"github.com/goalline-labs/goalline-go/internal/platform/env"
	"github.com/goalline-labs/goalline-go/internal/platform/objectstore"
	"github.com/goalline-labs/goalline-go/internal/platform/postgres"
	"github.com/goalline-labs/goalline-go/internal/postvalidate"
	"github.com/goalline-labs/goalline-go/internal/registry"
	"github.com/goalline-labs/goalline-go/internal/stagetools"
	"github.com/goalline-labs/goalline-go/internal/validate"
	"github.com/goalline-labs/goalline-go/internal/valstore"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	root := &cobra.Command{
		Use:           "goalline",
		Short:         "Football-data ETL pipeline and data-quality experiment harness",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newIngestCmd(logger),
		newCopyCmd(logger),
		newLoadCmd(logger),
		newStageValidateCmd(logger),
		newPostValidateCmd(logger),
		newExperimentCmd(logger),
	)

	if err := root.Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func openDB(ctx context.Context) (*sql.DB, error) {
	cfg, err := postgres.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return postgres.Open(ctx, cfg)
}

func newRunID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.NewString()[:8])
}

func newIngestCmd(logger *slog.Logger) *cobra.Command {
	var (
		dagID          string
		runID          string
		applyMutations bool
		mutationsPath  string
		runValidations bool
		validationsPath string
		seasons        []int
		scorersLimit   int
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Pull the football-data.org catalogue into the raw staging layer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			resolver := config.DefaultResolver()
			var mutations *config.MutationDoc
			if applyMutations {
				if mutations, err = config.LoadMutationDoc(resolver, mutationsPath); err != nil {
					return err
				}
			}
			var validations *config.ValidationDoc
			if runValidations {
				if validations, err = config.LoadValidationDoc(resolver, validationsPath); err != nil {
					return err
				}
			}

			apiCfg, err := client.ConfigFromEnv()
			if err != nil {
				return err
			}
			rateCalls, err := env.Int("FOOTBALL_API_RATE_CALLS", 10)
			if err != nil {
				return err
			}
			rateWindow, err := env.Duration("FOOTBALL_API_RATE_WINDOW", time.Minute)
			if err != nil {
				return err
			}

			trail := audit.NewTrail(db)
			runs := registry.NewStore(db)
			checks := valstore.NewStore(db)
			runner := validate.NewRunner(trail, runs, checks, validate.DefaultRegistry())
			suites := validate.NewSuiteRunner(trail, checks, runner)

			if runID == "" {
				runID = newRunID("manual")
			}
			pipeline := ingest.NewPipeline(db, client.NewFootball(apiCfg),
				client.NewRateLimiter(rateCalls, rateWindow),
				runs, trail, mutate.NewPayloadInjector(trail), suites, logger)
			rows, err := pipeline.Run(ctx, ingest.Params{
				DagID:          dagID,
				RunID:          runID,
				ApplyMutations: applyMutations,
				Mutations:      mutations,
				RunValidations: runValidations,
				Validations:    validations,
				Seasons:        seasons,
				ScorersLimit:   scorersLimit,
			})
			if err != nil {
				return err
			}
			logger.Info("ingestion finished", "run_id", runID, "rows", rows)
			return nil
		},
	}
	cmd.Flags().StringVar(&dagID, "dag-id", "stg_load_football_api", "dag id recorded in the registry and audit trail")
	cmd.Flags().StringVar(&runID, "run-id", "", "run id (generated when empty)")
	cmd.Flags().BoolVar(&applyMutations, "apply-mutations", false, "inject payload mutations before storing")
	cmd.Flags().StringVar(&mutationsPath, "mutations", "stg_mutations.yml", "payload mutation config")
	cmd.Flags().BoolVar(&runValidations, "validate", true, "run the staging validation suites after ingestion")
	cmd.Flags().StringVar(&validationsPath, "validations", "stg_validations.yml", "staging validation config")
	cmd.Flags().IntSliceVar(&seasons, "seasons", nil, "season start years to ingest")
	cmd.Flags().IntVar(&scorersLimit, "scorers-limit", 0, "scorers page size")
	return cmd
}

func newCopyCmd(logger *slog.Logger) *cobra.Command {
	var (
		dagID          string
		sourceRunID    string
		targetRunID    string
		applyMutations bool
		mutationsPath  string
	)
	cmd := &cobra.Command{
		Use:   "copy",
		Short: "Clone a raw run under a new run id, optionally mutating payloads",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			var mutations *config.MutationDoc
			if applyMutations {
				if mutations, err = config.LoadMutationDoc(config.DefaultResolver(), mutationsPath); err != nil {
					return err
				}
			}
			if targetRunID == "" {
				targetRunID = newRunID(domain.ExperimentRunPrefix + "copy")
			}

			trail := audit.NewTrail(db)
			copier := loader.NewCopier(db, registry.NewStore(db), trail, mutate.NewPayloadInjector(trail), logger)
			rows, err := copier.CopyRawRun(ctx, loader.CopyParams{
				DagID:          dagID,
				SourceRunID:    sourceRunID,
				TargetRunID:    targetRunID,
				ParentRunID:    sourceRunID,
				ApplyMutations: applyMutations,
				Mutations:      mutations,
			})
			if err != nil {
				return err
			}
			logger.Info("raw run copied", "source_run_id", sourceRunID, "target_run_id", targetRunID, "rows", rows)
			return nil
		},
	}
	cmd.Flags().StringVar(&dagID, "dag-id", "stg_copy_football_api", "dag id recorded in the registry and audit trail")
	cmd.Flags().StringVar(&sourceRunID, "source-run-id", "", "raw run to copy from")
	cmd.Flags().StringVar(&targetRunID, "target-run-id", "", "run id of the copy (generated when empty)")
	cmd.Flags().BoolVar(&applyMutations, "apply-mutations", false, "inject payload mutations while copying")
	cmd.Flags().StringVar(&mutationsPath, "mutations", "stg_mutations.yml", "payload mutation config")
	_ = cmd.MarkFlagRequired("source-run-id")
	return cmd
}

func newLoadCmd(logger *slog.Logger) *cobra.Command {
	var (
		dagID          string
		runID          string
		applyMutations bool
		mutationsPath  string
	)
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load every pending raw run into the warehouse star schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			var mutations *config.MutationDoc
			if applyMutations {
				if mutations, err = config.LoadMutationDoc(config.DefaultResolver(), mutationsPath); err != nil {
					return err
				}
			}
			if runID == "" {
				runID = newRunID("dds")
			}

			trail := audit.NewTrail(db)
			warehouse := loader.NewWarehouse(db, registry.NewStore(db), trail, logger)

			var afterLoad func(ctx context.Context, tx postgres.DB, parentRunID string) error
			if applyMutations {
				injector := mutate.NewWarehouseInjector(trail)
				afterLoad = func(ctx context.Context, tx postgres.DB, _ string) error {
					_, err := injector.Mutate(ctx, tx, mutations, dagID, runID)
					return err
				}
			}
			loaded, err := warehouse.LoadPending(ctx, dagID, runID, afterLoad)
			if err != nil {
				return err
			}
			logger.Info("warehouse load finished", "run_id", runID, "parents", len(loaded))
			return nil
		},
	}
	cmd.Flags().StringVar(&dagID, "dag-id", "dds_load_football_api", "dag id recorded in the registry and audit trail")
	cmd.Flags().StringVar(&runID, "run-id", "", "warehouse run id (generated when empty)")
	cmd.Flags().BoolVar(&applyMutations, "apply-mutations", false, "plant warehouse defect classes inside the load transaction")
	cmd.Flags().StringVar(&mutationsPath, "mutations", "dds_mutations.yml", "warehouse mutation config")
	return cmd
}

func newStageValidateCmd(logger *slog.Logger) *cobra.Command {
	var (
		stageRaw   string
		tool       string
		configPath string
		outputDir  string
		dagID      string
	)
	cmd := &cobra.Command{
		Use:   "stage-validate",
		Short: "Run an external validation tool over one ETL stage's targets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			stage, err := domain.ParseStage(stageRaw)
			if err != nil {
				return err
			}
			db, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			toolsCfg, err := config.LoadToolsConfig(config.DefaultResolver(), configPath)
			if err != nil {
				return err
			}

			runs := registry.NewStore(db)
			checks := valstore.NewStore(db)
			driver := stagetools.NewDriver(discovery.NewFinder(db), runs, checks, logger)
			driver.Register(stagetools.NewSQLTool(db, runs, checks, logger))

			summary, err := driver.RunStageTool(ctx, stagetools.SessionParams{
				Stage:     stage,
				Tool:      tool,
				Config:    toolsCfg,
				OutputDir: outputDir,
				DagID:     dagID,
			})
			if err != nil {
				return err
			}
			logger.Info("stage validation finished",
				"stage", string(summary.Stage), "tool", summary.Tool, "status", summary.Status,
				"targets", summary.Targets, "success", summary.Success, "failed", summary.Failed)
			if summary.Failed > 0 {
				return fmt.Errorf("%d of %d targets failed %s validation", summary.Failed, summary.Targets, summary.Tool)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&stageRaw, "stage", "", "ETL stage: E, T or L")
	cmd.Flags().StringVar(&tool, "tool", "sql", "validation tool to run")
	cmd.Flags().StringVar(&configPath, "config", "tools.yml", "stage tools config")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "report directory (config default when empty)")
	cmd.Flags().StringVar(&dagID, "dag-id", "", "dag id override")
	_ = cmd.MarkFlagRequired("stage")
	return cmd
}

func newPostValidateCmd(logger *slog.Logger) *cobra.Command {
	var (
		dagID           string
		baselineStg     string
		onlyUnprocessed bool
		validationsPath string
	)
	cmd := &cobra.Command{
		Use:   "post-validate",
		Short: "Re-check finished warehouse runs under the POST layer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			validations, err := config.LoadValidationDoc(config.DefaultResolver(), validationsPath)
			if err != nil {
				return err
			}
			runner := postvalidate.NewRunner(discovery.NewFinder(db), registry.NewStore(db),
				valstore.NewStore(db), validate.DefaultRegistry(), db, logger)
			results, err := runner.Run(ctx, postvalidate.Params{
				DagID:            dagID,
				BaselineStgRunID: baselineStg,
				OnlyUnprocessed:  onlyUnprocessed,
				Validations:      validations,
			})
			if err != nil {
				return err
			}
			failed := 0
			for _, r := range results {
				if r.Status != domain.RunSuccess {
					failed++
				}
				logger.Info("post validation target",
					"dds_run_id", r.Target.DdsRunID, "status", string(r.Status),
					"checks_total", r.ChecksTotal, "checks_failed", r.ChecksFailed)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d warehouse runs failed post validation", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dagID, "dag-id", "post_validation", "dag id recorded in the registry")
	cmd.Flags().StringVar(&baselineStg, "baseline-stg-run-id", "", "baseline raw run (latest successful when empty)")
	cmd.Flags().BoolVar(&onlyUnprocessed, "only-unprocessed", true, "skip runs already validated at the POST layer")
	cmd.Flags().StringVar(&validationsPath, "validations", "dds_validations.yml", "warehouse validation config")
	return cmd
}

func newExperimentCmd(logger *slog.Logger) *cobra.Command {
	var (
		configPath string
		outputDir  string
		publish    bool
	)
	cmd := &cobra.Command{
		Use:   "experiment",
		Short: "Run a data-quality experiment plan and render its report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			resolver := config.DefaultResolver()
			plan, err := config.LoadExperimentConfig(resolver, configPath)
			if err != nil {
				return err
			}
			base, err := loadBundle(resolver, plan.Defaults)
			if err != nil {
				return err
			}

			db, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			trail := audit.NewTrail(db)
			runs := registry.NewStore(db)
			checks := valstore.NewStore(db)
			runner := validate.NewRunner(trail, runs, checks, validate.DefaultRegistry())
			suites := validate.NewSuiteRunner(trail, checks, runner)

			orch := experiment.NewOrchestrator(experiment.Deps{
				DB:        db,
				Tx:        experiment.SQLTxRunner{DB: db},
				Copier:    loader.NewCopier(db, runs, trail, mutate.NewPayloadInjector(trail), logger),
				Warehouse: loader.NewWarehouse(db, runs, trail, logger),
				Runs:      runs,
				Injector:  mutate.NewWarehouseInjector(trail),
				Suites:    suites,
				Trail:     trail,
				Log:       logger,
			})
			result, err := orch.Run(ctx, plan, base)
			if err != nil {
				return err
			}

			dir := outputDir
			if dir == "" {
				dir = plan.Defaults.OutputDir
			}
			if dir == "" {
				dir = "reports"
			}
			path, err := experiment.WriteReport(result, dir, time.Now())
			if err != nil {
				return err
			}
			logger.Info("experiment report written", "experiment", plan.Name, "report", path)

			if publish {
				storeCfg, err := objectstore.ConfigFromEnv()
				if err != nil {
					return err
				}
				if !storeCfg.Enabled() {
					return fmt.Errorf("report publishing requested but OBJECTSTORE_ENDPOINT is not set")
				}
				mc, err := objectstore.NewClient(storeCfg)
				if err != nil {
					return err
				}
				if err := objectstore.EnsureBucket(ctx, mc, storeCfg); err != nil {
					return err
				}
				key, err := objectstore.PublishReport(ctx, mc, storeCfg, path)
				if err != nil {
					return err
				}
				logger.Info("experiment report published", "bucket", storeCfg.BucketReports, "key", key)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "experiment.yml", "experiment plan")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "report directory (plan default when empty)")
	cmd.Flags().BoolVar(&publish, "publish", false, "upload the report to the object store")
	return cmd
}

// loadBundle reads the four config documents the plan's defaults name.
// Absent paths leave the matching document nil, which disables that concern.
func loadBundle(resolver *config.Resolver, d config.ExperimentDefaults) (config.Bundle, error) {
	var bundle config.Bundle
	var err error
	if d.StgMutationConfig != "" {
		if bundle.StgMutations, err = config.LoadMutationDoc(resolver, d.StgMutationConfig); err != nil {
			return bundle, err
		}
	}
	if d.DdsMutationConfig != "" {
		if bundle.DdsMutations, err = config.LoadMutationDoc(resolver, d.DdsMutationConfig); err != nil {
			return bundle, err
		}
	}
	if d.StgValidationConfig != "" {
		if bundle.StgValidations, err = config.LoadValidationDoc(resolver, d.StgValidationConfig); err != nil {
			return bundle, err
		}
	}
	if d.DdsValidationConfig != "" {
		if bundle.DdsValidations, err = config.LoadValidationDoc(resolver, d.DdsValidationConfig); err != nil {
			return bundle, err
		}
	}
	return bundle, nil
}
