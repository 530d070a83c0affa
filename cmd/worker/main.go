package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Devlore1501/identitysync-pro-sub001/internal/archive"
	archch "github.com/Devlore1501/identitysync-pro-sub001/internal/archive/clickhouse"
	"github.com/Devlore1501/identitysync-pro-sub001/internal/config"
	"github.com/Devlore1501/identitysync-pro-sub001/internal/consumer"
	"github.com/Devlore1501/identitysync-pro-sub001/internal/dispatch"
	"github.com/Devlore1501/identitysync-pro-sub001/internal/identity"
	"github.com/Devlore1501/identitysync-pro-sub001/internal/ingest"
	"github.com/Devlore1501/identitysync-pro-sub001/internal/logger"
	"github.com/Devlore1501/identitysync-pro-sub001/internal/predictive"
	"github.com/Devlore1501/identitysync-pro-sub001/internal/queue/sqs"
	"github.com/Devlore1501/identitysync-pro-sub001/internal/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log, err := logger.New(cfg.Service.Environment)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer func(log *zap.Logger) {
		if err := log.Sync(); err != nil {
			log.Error("Failed to sync logger", zap.Error(err))
		}
	}(log)

	log.Info("Starting worker service",
		zap.String("environment", cfg.Service.Environment))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := sqlite.Open(cfg.Database.Path, log)
	if err != nil {
		log.Fatal("Failed to open store", zap.Error(err))
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error("Failed to close store", zap.Error(err))
		}
	}()

	sqsClient, err := sqs.NewClient(ctx, cfg.SQS, log)
	if err != nil {
		log.Fatal("Failed to create SQS client", zap.Error(err))
	}

	var archiver ingest.EventArchiver
	var recorder *archive.Recorder
	if cfg.ClickHouse.Host != "" {
		chClient, err := archch.NewClient(ctx, &cfg.ClickHouse, log)
		if err != nil {
			log.Fatal("Failed to create ClickHouse client", zap.Error(err))
		}
		defer func() {
			if err := chClient.Close(); err != nil {
				log.Error("Failed to close ClickHouse client", zap.Error(err))
			}
		}()

		arch := archch.NewArchive(chClient, log)
		if err := arch.InitSchema(ctx); err != nil {
			log.Fatal("Failed to initialize archive schema", zap.Error(err))
		}

		recorder = archive.NewRecorder(arch, archive.RecorderConfig{}, log)
		archiver = recorder
	}

	resolver := identity.NewResolver(st, log)
	ingestService := ingest.NewService(st, st, st, st, resolver, archiver, log)

	queueConsumer := consumer.NewConsumer(cfg.Consumer, sqsClient, ingestService, log)
	dispatcher := dispatch.NewDispatcher(st, st, st, cfg.Dispatch.RequestTimeout, cfg.Dispatch.BatchSize, log)
	engine := predictive.NewEngine(st, st, st, st, log)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("Queue consumer starting")
		return queueConsumer.Start(ctx)
	})

	g.Go(func() error {
		log.Info("Dispatcher starting", zap.Duration("interval", cfg.Dispatch.Interval))
		ticker := time.NewTicker(cfg.Dispatch.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Info("Dispatcher shutting down")
				return nil
			case <-ticker.C:
				stats, err := dispatcher.RunOnce(ctx, time.Now().UTC())
				if err != nil {
					log.Error("Dispatch pass failed", zap.Error(err))
					continue
				}
				if stats.Claimed > 0 {
					log.Info("Dispatch pass complete",
						zap.Int("claimed", stats.Claimed),
						zap.Int("delivered", stats.Delivered),
						zap.Int("rescheduled", stats.Rescheduled),
						zap.Int("failed", stats.Failed))
				}
			}
		}
	})

	g.Go(func() error {
		log.Info("Predictive engine starting", zap.Duration("interval", cfg.Predictive.Interval))
		ticker := time.NewTicker(cfg.Predictive.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Info("Predictive engine shutting down")
				return nil
			case <-ticker.C:
				stats, err := engine.Sweep(ctx, time.Now().UTC())
				if err != nil {
					log.Error("Predictive sweep failed", zap.Error(err))
					continue
				}
				if stats.SignalsUpserted > 0 || stats.FlowsTriggered > 0 || stats.SignalsExpired > 0 {
					log.Info("Predictive sweep complete",
						zap.Int("profiles_evaluated", stats.ProfilesEvaluated),
						zap.Int("signals_upserted", stats.SignalsUpserted),
						zap.Int("flows_triggered", stats.FlowsTriggered),
						zap.Int64("signals_expired", stats.SignalsExpired))
				}
			}
		}
	})

	if recorder != nil {
		g.Go(func() error {
			recorder.Start(ctx)
			return nil
		})
	}

	// Health endpoint for container orchestration.
	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			if err := st.Ping(r.Context()); err != nil {
				log.Warn("Health check failed", zap.Error(err))
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		})

		addr := ":" + cfg.Consumer.HealthCheckPort
		log.Info("Health check server starting", zap.String("address", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error("Health check server error", zap.Error(err))
		}
	}()

	if err := g.Wait(); err != nil {
		log.Fatal("Worker exited with error", zap.Error(err))
	}
	log.Info("Worker shut down cleanly")
}
