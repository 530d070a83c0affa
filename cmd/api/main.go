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

	"github.com/Devlore1501/identitysync-pro-sub001/internal/archive"
	archch "github.com/Devlore1501/identitysync-pro-sub001/internal/archive/clickhouse"
	"github.com/Devlore1501/identitysync-pro-sub001/internal/config"
	"github.com/Devlore1501/identitysync-pro-sub001/internal/domain"
	"github.com/Devlore1501/identitysync-pro-sub001/internal/handler"
	"github.com/Devlore1501/identitysync-pro-sub001/internal/identity"
	"github.com/Devlore1501/identitysync-pro-sub001/internal/ingest"
	"github.com/Devlore1501/identitysync-pro-sub001/internal/logger"
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

	log.Info("Starting API service",
		zap.String("environment", cfg.Service.Environment),
		zap.String("port", cfg.Service.APIPort))

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

	// Analytics archive is optional; without it the API still collects,
	// resolves, and syncs, it just cannot answer metrics queries.
	var archiver ingest.EventArchiver
	var metrics handler.MetricsProvider
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

		recorder := archive.NewRecorder(arch, archive.RecorderConfig{}, log)
		go recorder.Start(ctx)

		archiver = recorder
		metrics = arch
	}

	resolver := identity.NewResolver(st, log)
	ingestService := ingest.NewService(st, st, st, st, resolver, archiver, log)

	if cfg.Service.Environment == "development" {
		if err := bootstrapDev(ctx, st, log); err != nil {
			log.Fatal("Failed to seed development tenant", zap.Error(err))
		}
	}

	h := handler.NewHandler(ingestService, st, sqsClient, metrics, log)

	addr := fmt.Sprintf(":%s", cfg.Service.APIPort)
	server := &http.Server{Addr: addr, Handler: h}

	go func() {
		log.Info("API server starting", zap.String("address", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start API server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down API server gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Failed to shut down API server", zap.Error(err))
	}
}

// bootstrapDev seeds a local tenant so the pipeline is usable out of the box.
// Upserts are idempotent; restarting does not duplicate anything.
func bootstrapDev(ctx context.Context, st *sqlite.Store, log *zap.Logger) error {
	now := time.Now().UTC()

	if err := st.UpsertTenant(ctx, &domain.Tenant{
		ID:            "tn_demo",
		Name:          "Demo Shop",
		WebhookSecret: "whsec_dev",
		CreatedAt:     now,
	}); err != nil {
		return err
	}

	if err := st.UpsertAPIKey(ctx, &domain.APIKey{
		Key:          "pk_dev_local",
		TenantID:     "tn_demo",
		Capabilities: []string{domain.CapabilityCollect},
		CreatedAt:    now,
	}); err != nil {
		return err
	}

	destinations := []*domain.Destination{
		{
			ID:       "dst_demo_marketing",
			TenantID: "tn_demo",
			Kind:     domain.DestinationMarketing,
			Name:     "Local marketing sink",
			Enabled:  true,
			Credentials: domain.Properties{
				"endpoint": "http://localhost:9901/track",
				"api_key":  "dev",
			},
		},
		{
			ID:       "dst_demo_ads",
			TenantID: "tn_demo",
			Kind:     domain.DestinationAds,
			Name:     "Local ads sink",
			Enabled:  false,
			Credentials: domain.Properties{
				"endpoint":   "http://localhost:9902/conversions",
				"api_key":    "dev",
				"account_id": "act_dev",
			},
		},
	}
	for _, d := range destinations {
		if err := st.UpsertDestination(ctx, d); err != nil {
			return err
		}
	}

	log.Info("Development tenant seeded",
		zap.String("tenant_id", "tn_demo"),
		zap.String("api_key", "pk_dev_local"))
	return nil
}
