// Package app wires the application together.
package app

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	providerclient "github.com/genforge/server/internal/adapter/outbound/provider"
	redisadapter "github.com/genforge/server/internal/adapter/outbound/redis"
	s3adapter "github.com/genforge/server/internal/adapter/outbound/s3"
	"github.com/genforge/server/internal/infra/events"
	"github.com/genforge/server/internal/module/credits"
	"github.com/genforge/server/internal/module/generation"
	"github.com/genforge/server/internal/module/pricing"
	"github.com/genforge/server/internal/module/webhook"
	"github.com/genforge/server/internal/shared/cache"
	"github.com/genforge/server/internal/shared/config"
	"github.com/genforge/server/internal/shared/database"
	"github.com/genforge/server/internal/shared/logger"
	"github.com/genforge/server/internal/utils/metrics"
	"github.com/genforge/server/internal/utils/middleware"
)

// App holds the wired application.
type App struct {
	config *config.Config
	logger *zap.Logger
	db     *gorm.DB
	redis  redis.UniversalClient
	router *gin.Engine

	eventBus *events.Bus
	metrics  *metrics.Metrics

	generationService *generation.Service
	webhookGateway    *webhook.Gateway

	creditsHandler    *credits.Handler
	generationHandler *generation.Handler
	webhookHandler    *webhook.Handler
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	if err := db.AutoMigrate(
		&credits.CreditBalance{},
		&credits.CreditTransaction{},
		&credits.Plan{},
		&generation.Generation{},
	); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	app := &App{
		config:   cfg,
		logger:   log,
		db:       db,
		eventBus: events.NewBus(log),
		metrics:  metrics.New("genforge"),
	}

	// Redis is optional; without it the plan generation caps degrade to
	// unenforced and everything else keeps working.
	var counters credits.UsageCounters
	if cfg.Redis.Address != "" {
		redisClient, err := cache.NewRedisClient(&cfg.Redis)
		if err != nil {
			log.Warn("redis unavailable, generation caps disabled", zap.Error(err))
		} else {
			app.redis = redisClient
			counters = redisadapter.NewUsageCounters(redisClient)
		}
	}

	ledger := credits.NewLedger(credits.NewRepository(db), counters, log)

	converter := pricing.NewConverter(pricing.ConverterConfig{
		ProfitMargin:    decimal.NewFromFloat(cfg.Billing.ProfitMargin),
		CreditUnitValue: decimal.NewFromFloat(cfg.Billing.CreditUnitValue),
		MinCredits:      cfg.Billing.MinCredits,
	})

	catalog := buildCatalog(cfg.Provider.MonitoredModels)

	provClient := providerclient.NewClient(providerclient.Config{
		BaseURL:     cfg.Provider.BaseURL,
		Token:       cfg.Provider.Token,
		WebhookURL:  cfg.Provider.WebhookURL,
		SyncTimeout: cfg.Provider.SyncTimeout,
		AckTimeout:  cfg.Provider.AckTimeout,
	}, log)

	// Storage is optional; without it outputs are served from the
	// provider's URLs until they expire.
	var uploader generation.StorageUploader
	if cfg.Storage.Bucket != "" {
		up, err := s3adapter.NewUploader(cfg.Storage, log)
		if err != nil {
			log.Warn("storage unavailable, output archival disabled", zap.Error(err))
		} else {
			uploader = up
		}
	}

	app.generationService = generation.NewService(generation.ServiceConfig{
		Repo:               generation.NewRepository(db),
		Ledger:             ledger,
		Provider:           provClient,
		Catalog:            catalog,
		Converter:          converter,
		Uploader:           uploader,
		Publisher:          app.eventBus,
		Metrics:            app.metrics,
		Logger:             log,
		MaxConcurrentUnits: cfg.Provider.MaxConcurrentUnits,
	})

	app.webhookGateway = webhook.NewGateway(app.generationService, catalog, app.metrics, log)

	app.creditsHandler = credits.NewHandler(ledger)
	app.generationHandler = generation.NewHandler(app.generationService, catalog)
	app.webhookHandler = webhook.NewHandler(
		webhook.NewVerifier(cfg.Provider.WebhookSecret),
		app.webhookGateway,
		app.metrics,
		log,
	)

	app.router = app.setupRouter()
	return app, nil
}

func (a *App) setupRouter() *gin.Engine {
	if a.config.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Logging(a.logger))
	router.Use(middleware.Recovery(a.logger))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	router.Use(a.metrics.Middleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")

	// Webhook deliveries authenticate with the HMAC signature.
	a.webhookHandler.RegisterRoutes(api)

	validator := middleware.NewJWTValidator(a.config.Auth.JWTSecret)
	authed := api.Group("")
	authed.Use(middleware.RequireAuth(validator))
	a.creditsHandler.RegisterRoutes(authed)
	a.generationHandler.RegisterRoutes(authed)

	admin := api.Group("/admin")
	admin.Use(middleware.RequireAuth(validator), middleware.RequireAdmin())
	a.creditsHandler.RegisterAdminRoutes(admin)

	return router
}

// Router returns the HTTP router.
func (a *App) Router() *gin.Engine {
	return a.router
}

// Stop releases application resources.
func (a *App) Stop() {
	if a.redis != nil {
		if err := cache.Close(a.redis); err != nil {
			a.logger.Warn("close redis", zap.Error(err))
		}
	}
	if err := database.Close(a.db); err != nil {
		a.logger.Warn("close database", zap.Error(err))
	}
	_ = a.logger.Sync()
}
