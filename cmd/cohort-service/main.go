package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/surgical-cohort/pkg/cohort"
	"github.com/synaptica-ai/surgical-cohort/pkg/common/config"
	"github.com/synaptica-ai/surgical-cohort/pkg/common/database"
	"github.com/synaptica-ai/surgical-cohort/pkg/common/kafka"
	"github.com/synaptica-ai/surgical-cohort/pkg/common/logger"
	"github.com/synaptica-ai/surgical-cohort/pkg/common/middleware"
	"github.com/synaptica-ai/surgical-cohort/pkg/extract"
	"github.com/synaptica-ai/surgical-cohort/pkg/identity"
	"github.com/synaptica-ai/surgical-cohort/pkg/observability/metrics"
	"github.com/synaptica-ai/surgical-cohort/pkg/storage"
)

func main() {
	logger.Init()
	cfg := config.Load()

	mapping, err := extract.LoadMapping(cfg.ColumnMapPath)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to load column mapping")
	}

	opts := []cohort.Option{
		cohort.WithLogger(logger.Log),
		cohort.WithSource("cohort-service"),
		cohort.WithExtracts(extract.Paths{
			Identity: cfg.IdentityPath,
			Surgery:  cfg.SurgeryPath,
			Visit:    cfg.VisitPath,
		}, mapping),
		cohort.WithExtractRoot(cfg.ExtractRoot),
	}
	if cfg.WriteFiles {
		opts = append(opts, cohort.WithExport(cfg.OutputDir))
	}

	if cfg.Persist {
		db, err := database.GetPostgres(cfg)
		if err != nil {
			logger.Log.WithError(err).Fatal("Failed to connect to PostgreSQL")
		}
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
		if client, err := database.GetRedis(cfg); err != nil {
			logger.Log.WithError(err).Warn("Episode cache disabled")
		} else {
			opts = append(opts, cohort.WithEpisodeCache(storage.NewEpisodeCache(client, cfg.CacheTTL)))
		}
	}

	var producer *kafka.Producer
	if cfg.Publish {
		producer = kafka.NewProducer(cfg, cfg.EventTopic)
		opts = append(opts, cohort.WithPublisher(producer))
	}

	svc := cohort.NewService(cfg.VisitKind, opts...)
	runner := cohort.NewRunner(svc, cfg.MaxWorkers)

	router := mux.NewRouter()
	router.Use(middleware.Recovery(logger.Log), middleware.Logging(logger.Log))
	router.HandleFunc("/health", healthCheck).Methods(http.MethodGet)
	router.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w)
	}).Methods(http.MethodGet)
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.BodyLimit(cfg.MaxRequestBody), middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
	cohort.NewHTTPHandler(svc, runner).Register(api)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	consumeCtx, cancelConsume := context.WithCancel(context.Background())
	var consumer *kafka.Consumer
	if cfg.RequestTopic != "" {
		consumer = kafka.NewConsumer(cfg, cfg.RequestTopic, cfg.KafkaGroupID)
		go func() {
			if err := consumer.Consume(consumeCtx, runner.HandleEvent); err != nil && err != context.Canceled {
				logger.Log.WithError(err).Error("Build request consumer stopped")
			}
		}()
		logger.Log.WithField("topic", cfg.RequestTopic).Info("Listening for build requests")
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("Cohort Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Cohort Service...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cancelConsume()
	if consumer != nil {
		consumer.Close()
	}
	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}
	runner.Wait()
	if producer != nil {
		producer.Close()
	}
	database.CloseRedis()
	database.ClosePostgres()

	logger.Log.Info("Cohort Service stopped")
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}
