package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/noah-isme/academy-portal-api/internal/handler"
	"github.com/noah-isme/academy-portal-api/internal/middleware"
	"github.com/noah-isme/academy-portal-api/internal/models"
	"github.com/noah-isme/academy-portal-api/internal/repository"
	"github.com/noah-isme/academy-portal-api/internal/service"
	"github.com/noah-isme/academy-portal-api/pkg/config"
	"github.com/noah-isme/academy-portal-api/pkg/export"
	"github.com/noah-isme/academy-portal-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/academy-portal-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/academy-portal-api/pkg/middleware/requestid"

	"go.uber.org/zap"
)

// Dependencies collects everything route registration needs.
type Dependencies struct {
	Config   *config.Config
	Logger   *zap.Logger
	Accounts *repository.AccountRepository

	Auth          *service.AuthService
	Account       *service.AccountService
	Family        *service.FamilyService
	Access        *service.AccessService
	Content       *service.ContentService
	Distribution  *service.DistributionService
	Notifications *service.NotificationService
	Billing       *service.BillingService
	Metrics       *service.MetricsService
}

// New builds the gin engine with all middleware and routes registered.
func New(deps Dependencies) *gin.Engine {
	cfg := deps.Config

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(deps.Logger))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.Metrics))
	r.Use(middleware.WithResponseMeta())

	registerOperational(r, cfg, deps)
	registerAPI(r, cfg, deps)

	return r
}

func registerOperational(r *gin.Engine, cfg *config.Config, deps Dependencies) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	metricsHandler := handler.NewMetricsHandler(deps.Metrics)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}
}

func registerAPI(r *gin.Engine, cfg *config.Config, deps Dependencies) {
	authHandler := handler.NewAuthHandler(deps.Auth)
	accountHandler := handler.NewAccountHandler(deps.Account, deps.Access, deps.Family)
	contentHandler := handler.NewContentHandler(deps.Content, deps.Distribution)
	notificationHandler := handler.NewNotificationHandler(deps.Notifications)
	billingHandler := handler.NewBillingHandler(deps.Billing, deps.Account, deps.Access, deps.Family, export.NewReceiptRenderer(cfg.Mail.FromName))
	metricsHandler := handler.NewMetricsHandler(deps.Metrics)

	requireAuth := middleware.JWT(deps.Auth)
	adminOnly := middleware.RBAC(string(models.RoleAdmin))

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", requireAuth, authHandler.Logout)
		auth.POST("/change-password", requireAuth, authHandler.ChangePassword)
		auth.GET("/me", requireAuth, authHandler.Me)
	}

	api.GET("/family", requireAuth, accountHandler.Family)

	accounts := api.Group("/accounts", requireAuth)
	{
		accounts.POST("", adminOnly, accountHandler.Register)
		accounts.GET("", adminOnly, accountHandler.List)
		accounts.GET("/:id", accountHandler.Get)
		accounts.PUT("/:id", adminOnly, accountHandler.Update)
		accounts.DELETE("/:id", adminOnly, accountHandler.Delete)
		accounts.POST("/:id/restore", adminOnly, accountHandler.Restore)
		accounts.DELETE("/:id/purge", adminOnly, accountHandler.Purge)
	}

	content := api.Group("/content/:variant", requireAuth)
	{
		content.POST("", adminOnly, contentHandler.Create)
		content.GET("", adminOnly, contentHandler.List)
		content.GET("/:id", contentHandler.Get)
		content.POST("/:id/assign", adminOnly, contentHandler.Assign)
	}

	api.GET("/feed/:variant", requireAuth, contentHandler.Feed)

	notifications := api.Group("/notifications", requireAuth)
	{
		notifications.GET("", notificationHandler.List)
		notifications.POST("/:id/read", notificationHandler.MarkRead)
		notifications.POST("/broadcast", adminOnly, notificationHandler.Broadcast)
	}

	billing := api.Group("/billing", requireAuth)
	{
		billing.GET("/fees", adminOnly, billingHandler.ListFees)
		billing.POST("/fees", adminOnly, billingHandler.CreateFee)
		billing.PUT("/fees/:id", adminOnly, billingHandler.UpdateFee)
		billing.DELETE("/fees/:id", adminOnly, billingHandler.DeleteFee)

		billing.POST("/invoices/generate", adminOnly, billingHandler.GenerateInvoices)
		billing.POST("/invoices", adminOnly, billingHandler.CreateInvoice)
		billing.GET("/invoices", billingHandler.ListInvoices)
		billing.GET("/invoices/:id", billingHandler.GetInvoice)
		billing.POST("/invoices/:id/pay", adminOnly, billingHandler.Pay)
		billing.GET("/invoices/:id/receipt",
			middleware.Audit(deps.Accounts, models.AuditActionReceiptDownload, "invoices"),
			billingHandler.Receipt)
	}

	api.GET("/metrics/snapshot", requireAuth, adminOnly, metricsHandler.Snapshot)
}
