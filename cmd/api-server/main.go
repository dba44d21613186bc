package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	_ "github.com/noah-isme/academy-portal-api/api/swagger"
	"github.com/noah-isme/academy-portal-api/internal/repository"
	"github.com/noah-isme/academy-portal-api/internal/router"
	"github.com/noah-isme/academy-portal-api/internal/service"
	"github.com/noah-isme/academy-portal-api/pkg/cache"
	"github.com/noah-isme/academy-portal-api/pkg/config"
	"github.com/noah-isme/academy-portal-api/pkg/database"
	"github.com/noah-isme/academy-portal-api/pkg/jobs"
	"github.com/noah-isme/academy-portal-api/pkg/logger"
	"github.com/noah-isme/academy-portal-api/pkg/mailer"
)

// @title Academy Portal API
// @version 1.0.0
// @description Multi-tenant academy management portal
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, feed caching disabled", "error", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsSvc := service.NewMetricsService()
	accountRepo := repository.NewAccountRepository(db).WithMetrics(metricsSvc)
	contentRepo := repository.NewContentRepository(db).WithMetrics(metricsSvc)
	notificationRepo := repository.NewNotificationRepository(db).WithMetrics(metricsSvc)
	billingRepo := repository.NewBillingRepository(db).WithMetrics(metricsSvc)
	cacheRepo := repository.NewCacheRepository(redisClient, logr).WithMetrics(metricsSvc)

	mail := mailer.New(cfg.Mail, logr)
	mailQueue := jobs.NewQueue("mail", mailHandler(mail, cfg.Mail, logr), jobs.QueueConfig{
		Workers:    cfg.Mail.Workers,
		MaxRetries: cfg.Mail.MaxRetries,
		RetryDelay: cfg.Mail.RetryDelay,
		Logger:     logr,
	})
	mailQueue.Start(ctx)
	defer mailQueue.Stop()

	familySvc := service.NewFamilyService(accountRepo, logr)
	accessSvc := service.NewAccessService(familySvc, logr)
	authSvc := service.NewAuthService(accountRepo, nil, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "academy-portal-api",
	})
	accountSvc := service.NewAccountService(accountRepo, nil, logr)

	var feedCache *repository.CacheRepository
	if cfg.Feed.CacheEnabled {
		feedCache = cacheRepo
	}
	contentSvc := service.NewContentService(contentRepo, familySvc, feedCache, cfg.Feed.CacheTTL, nil, logr)
	distributionSvc := service.NewDistributionService(contentRepo, accountRepo, mailQueue, cacheRepo, nil, logr)
	notificationSvc := service.NewNotificationService(notificationRepo, familySvc, accessSvc, nil, logr)
	billingSvc := service.NewBillingService(billingRepo, accountRepo, cfg.Billing.DueDayOfMonth, nil, logr)

	engine := router.New(router.Dependencies{
		Config:        cfg,
		Logger:        logr,
		Accounts:      accountRepo,
		Auth:          authSvc,
		Account:       accountSvc,
		Family:        familySvc,
		Access:        accessSvc,
		Content:       contentSvc,
		Distribution:  distributionSvc,
		Notifications: notificationSvc,
		Billing:       billingSvc,
		Metrics:       metricsSvc,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}

// mailHandler delivers queued broadcast mail jobs.
func mailHandler(m mailer.Mailer, cfg config.MailConfig, logr *zap.Logger) jobs.Handler {
	return func(ctx context.Context, job jobs.Job) error {
		msg, ok := job.Payload.(mailer.Message)
		if !ok {
			logr.Sugar().Errorw("dropping mail job with unexpected payload", "job_id", job.ID, "type", job.Type)
			return nil
		}
		if cfg.SubjectPrefix != "" {
			msg.Subject = cfg.SubjectPrefix + msg.Subject
		}
		return m.Send(ctx, msg)
	}
}
