package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/harborcms/harbor-backend/api/routes"
	"github.com/harborcms/harbor-backend/internal/config"
	"github.com/harborcms/harbor-backend/internal/handlers"
	"github.com/harborcms/harbor-backend/internal/repositories"
	mongorepo "github.com/harborcms/harbor-backend/internal/repositories/mongodb"
	"github.com/harborcms/harbor-backend/internal/services"
	"github.com/harborcms/harbor-backend/pkg/emailgateway"
	"github.com/harborcms/harbor-backend/pkg/mongodb"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// .env is optional; real deployments inject environment variables
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	mongoClient, err := mongodb.NewClient(cfg.MongoDB.URI)
	if err != nil {
		logger.Fatal("failed to connect to MongoDB", zap.Error(err))
	}
	defer func() {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			logger.Error("error disconnecting from MongoDB", zap.Error(err))
		}
	}()

	db := mongoClient.Database(cfg.MongoDB.Database)

	var campaignRepo repositories.CampaignRepository = mongorepo.NewCampaignRepository(db)
	var trackingRepo repositories.EmailTrackingRepository = mongorepo.NewEmailTrackingRepository(db)
	var bounceRepo repositories.BounceRepository = mongorepo.NewBounceRepository(db)
	var contactRepo repositories.ContactRepository = mongorepo.NewContactRepository(db)
	var auditRepo repositories.AuditLogRepository = mongorepo.NewAuditLogRepository(db)

	var gateway emailgateway.Gateway
	if cfg.Email.MockGateway {
		gateway = emailgateway.NewMockGateway("HarborCMS")
		logger.Warn("using mock email gateway; no real mail will be sent")
	} else {
		gateway = emailgateway.NewHTTPGateway(cfg.Email.BaseURL, cfg.Email.APIKey, cfg.Email.FromAddress, cfg.Email.FromName)
	}

	auditService := services.NewAuditService(auditRepo, logger)
	dispatcher := services.NewDispatchService(trackingRepo, gateway, logger)
	campaignService := services.NewCampaignService(campaignRepo, trackingRepo, contactRepo, dispatcher, auditService, cfg, logger)
	retryService := services.NewRetryService(trackingRepo, campaignRepo, dispatcher,
		time.Duration(cfg.Engine.RetrySweepInterval)*time.Minute, logger)
	schedulerService := services.NewSchedulerService(campaignRepo, campaignService,
		time.Duration(cfg.Engine.SchedulerScanInterval)*time.Minute, logger)
	bounceService := services.NewBounceService(bounceRepo, trackingRepo, campaignRepo, logger)

	deps := routes.HandlerDependencies{
		CampaignHandler:  handlers.NewCampaignHandler(campaignService),
		RetryHandler:     handlers.NewRetryHandler(retryService),
		SchedulerHandler: handlers.NewSchedulerHandler(schedulerService),
		WebhookHandler:   handlers.NewWebhookHandler(bounceService, logger),
		TrackingHandler:  handlers.NewTrackingHandler(bounceService, dispatcher),
	}
	router := routes.SetupRouter(cfg, logger, deps)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	go retryService.Start(workerCtx)
	go schedulerService.Start(workerCtx)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	logger.Info("server starting", zap.String("port", cfg.Server.Port))

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	stopWorkers()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
	logger.Info("server exited")
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
