package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/surgical-cohort/pkg/cohort"
	"github.com/synaptica-ai/surgical-cohort/pkg/common/config"
	"github.com/synaptica-ai/surgical-cohort/pkg/common/database"
	"github.com/synaptica-ai/surgical-cohort/pkg/common/kafka"
	"github.com/synaptica-ai/surgical-cohort/pkg/common/logger"
	"github.com/synaptica-ai/surgical-cohort/pkg/common/models"
	"github.com/synaptica-ai/surgical-cohort/pkg/extract"
	"github.com/synaptica-ai/surgical-cohort/pkg/identity"
	"github.com/synaptica-ai/surgical-cohort/pkg/storage"
)

func main() {
	logger.Init()
	cfg := config.Load()

	flag.StringVar(&cfg.IdentityPath, "identity", cfg.IdentityPath, "identity extract (CSV)")
	flag.StringVar(&cfg.SurgeryPath, "surgery", cfg.SurgeryPath, "surgery extract (CSV)")
	flag.StringVar(&cfg.VisitPath, "visits", cfg.VisitPath, "visit extract (CSV)")
	flag.StringVar(&cfg.ColumnMapPath, "columns", cfg.ColumnMapPath, "YAML column mapping")
	flag.StringVar(&cfg.OutputDir, "out", cfg.OutputDir, "per-episode output directory")
	flag.StringVar(&cfg.VisitKind, "kind", cfg.VisitKind, "visit kind kept in the cohort, * for all")
	flag.StringVar(&cfg.RunLogPath, "log", cfg.RunLogPath, "run log, appended to")
	flag.Parse()

	if cfg.RunLogPath != "" {
		closer, err := logger.AttachRunLog(cfg.RunLogPath)
		if err != nil {
			logger.Log.WithError(err).Fatal("Failed to open run log")
		}
		defer closer.Close()
	}

	mapping, err := extract.LoadMapping(cfg.ColumnMapPath)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to load column mapping")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []cohort.Option{
		cohort.WithLogger(logger.Log),
		cohort.WithSource("cohort-builder"),
		cohort.WithExtracts(extract.Paths{
			Identity: cfg.IdentityPath,
			Surgery:  cfg.SurgeryPath,
			Visit:    cfg.VisitPath,
		}, mapping),
	}
	if cfg.WriteFiles {
		opts = append(opts, cohort.WithExport(cfg.OutputDir))
	}

	if cfg.Persist {
		db, err := database.GetPostgres(cfg)
		if err != nil {
			logger.Log.WithError(err).Fatal("Failed to connect to PostgreSQL")
		}
		defer database.ClosePostgres()

		runs := cohort.NewRepository(db)
		audits := identity.NewRepository(db)
		if err := runs.AutoMigrate(); err != nil {
			logger.Log.WithError(err).Fatal("Failed to migrate cohort tables")
		}
		if err := audits.AutoMigrate(); err != nil {
			logger.Log.WithError(err).Fatal("Failed to migrate audit tables")
		}
		opts = append(opts, cohort.WithRunStore(runs), cohort.WithAuditStore(audits))
	}

	if cfg.Cache {
		client, err := database.GetRedis(cfg)
		if err != nil {
			logger.Log.WithError(err).Warn("Episode cache disabled")
		} else {
			defer database.CloseRedis()
			opts = append(opts, cohort.WithEpisodeCache(storage.NewEpisodeCache(client, cfg.CacheTTL)))
		}
	}

	if cfg.Publish {
		producer := kafka.NewProducer(cfg, cfg.EventTopic)
		defer producer.Close()
		opts = append(opts, cohort.WithPublisher(producer))
	}

	svc := cohort.NewService(cfg.VisitKind, opts...)
	run, _, err := svc.Build(ctx, models.CohortBuildRequest{
		VisitKind:   cfg.VisitKind,
		RequestedBy: os.Getenv("USER"),
	})
	if err != nil {
		logger.Log.WithError(err).WithField("run_id", run.ID.String()).Error("Cohort build failed")
		os.Exit(1)
	}

	logger.Log.WithFields(logrus.Fields{
		"run_id":          run.ID.String(),
		"included":        run.Counts.Included,
		"readmitted":      run.Counts.Readmitted,
		"no_episode":      run.Counts.NoEpisode,
		"no_visit":        run.Counts.NoVisit,
		"no_periop":       run.Counts.NoPeriop,
		"rows":            run.Counts.Rows,
		"mean_duration":   run.Durations.Mean,
		"median_duration": run.Durations.Median,
	}).Info("Cohort build finished")
}
