package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/notecompanion/server/internal/adapter/outbound/aiprovider"
	"github.com/notecompanion/server/internal/adapter/outbound/keyverify"
	"github.com/notecompanion/server/internal/adapter/outbound/storage"
	"github.com/notecompanion/server/internal/model"
	"github.com/notecompanion/server/internal/module/auth"
	"github.com/notecompanion/server/internal/module/billing"
	"github.com/notecompanion/server/internal/module/gate"
	"github.com/notecompanion/server/internal/module/ledger"
	"github.com/notecompanion/server/internal/module/notes"
	"github.com/notecompanion/server/internal/module/reset"
	"github.com/notecompanion/server/internal/module/tier"
	"github.com/notecompanion/server/internal/shared/config"
	"github.com/notecompanion/server/internal/shared/metrics"
	"github.com/notecompanion/server/internal/shared/middleware"
)

// App wires configuration, storage, and all modules into a running
// HTTP application.
type App struct {
	config  *config.Config
	logger  *zap.Logger
	db      *gorm.DB
	redis   goredis.UniversalClient
	metrics *metrics.Metrics
	router  *gin.Engine

	ledgerService *ledger.Service
	authService   *auth.Service
	gate          *gate.Gate
	tierCatalog   *tier.Catalog

	authHandler   *auth.Handler
	tierHandler   *tier.Handler
	notesHandler  *notes.Handler
	resetHandler  *reset.Handler
	stripeHandler *billing.StripeHandler
	alipayHandler *billing.AlipayHandler
}

// New creates the application from configuration.
func New(cfg *config.Config) (*App, error) {
	log, err := ProvideLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := ProvideDatabase(cfg)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	redisClient, err := ProvideRedis(cfg)
	if err != nil {
		// Redis only backs rate limiting, so a failed connection
		// degrades the app instead of stopping it.
		log.Warn("redis connection failed, rate limiting disabled", zap.Error(err))
		redisClient = nil
	}

	return assemble(cfg, log, db, redisClient, ProvideMetrics())
}

// assemble builds the module graph on top of already-initialized
// infrastructure.
func assemble(
	cfg *config.Config,
	log *zap.Logger,
	db *gorm.DB,
	redisClient goredis.UniversalClient,
	m *metrics.Metrics,
) (*App, error) {
	app := &App{
		config:  cfg,
		logger:  log,
		db:      db,
		redis:   redisClient,
		metrics: m,
	}

	if err := app.autoMigrate(); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	if err := app.initModules(); err != nil {
		return nil, fmt.Errorf("init modules: %w", err)
	}

	app.router = app.setupRouter()
	app.registerRoutes()

	// Seed the tier catalog eagerly so the first request does not pay
	// for it. A failure here is retried on first use.
	if err := app.tierCatalog.Init(context.Background()); err != nil {
		log.Warn("tier catalog seed deferred", zap.Error(err))
	}

	return app, nil
}

func (a *App) autoMigrate() error {
	return a.db.AutoMigrate(
		&model.UserUsage{},
		&model.Tier{},
		&auth.User{},
		&auth.RefreshToken{},
		&auth.APIKey{},
		&billing.WebhookEvent{},
	)
}

// initModules initializes all application modules in dependency order.
func (a *App) initModules() error {
	// Usage ledger
	ledgerRepo := ledger.NewRepository(a.db)
	a.ledgerService = ledger.NewService(ledgerRepo, a.metrics, a.logger)

	// Auth
	userRepo := auth.NewUserRepository(a.db)
	tokenRepo := auth.NewRefreshTokenRepository(a.db)
	apiKeyRepo := auth.NewAPIKeyRepository(a.db)

	jwtManager := auth.NewJWTManager(&auth.JWTConfig{
		Secret:             a.config.Auth.JWTSecret,
		AccessTokenExpiry:  a.config.Auth.AccessTokenExpiry,
		RefreshTokenExpiry: a.config.Auth.RefreshTokenExpiry,
	})

	var google *auth.GoogleProvider
	if a.config.Auth.GoogleClientID != "" && a.config.Auth.GoogleClientSecret != "" {
		google = auth.NewGoogleProvider(&a.config.Auth)
	}

	a.authService = auth.NewService(userRepo, tokenRepo, apiKeyRepo, jwtManager, google, a.metrics, a.logger)
	a.authHandler = auth.NewHandler(a.authService)

	// Authorization gate; the external verifier is optional and key
	// lookups fall back to the local table without it.
	var verifier keyverify.Verifier
	if a.config.KeyVerify.BaseURL != "" {
		verifier = keyverify.NewClient(&a.config.KeyVerify, a.metrics, a.logger)
	}
	a.gate = gate.New(verifier, a.authService, a.authService, a.ledgerService, a.metrics, a.logger)

	// Tier catalog
	a.tierCatalog = tier.NewCatalog(tier.NewRepository(a.db), tier.DefaultTiers(), a.logger)
	a.tierHandler = tier.NewHandler(a.tierCatalog)

	// Notes
	aiClient := aiprovider.NewClient(&a.config.AI, a.metrics, a.logger)

	var presigner storage.Presigner
	if a.config.Storage.Endpoint != "" && a.config.Storage.Bucket != "" {
		r2, err := storage.NewR2Client(&a.config.Storage)
		if err != nil {
			return fmt.Errorf("create R2 client: %w", err)
		}
		presigner = r2
	} else {
		a.logger.Warn("object storage not configured, audio uploads disabled")
	}

	notesService := notes.NewService(aiClient, presigner, a.ledgerService, a.logger)
	a.notesHandler = notes.NewHandler(notesService, a.gate)

	// Billing webhooks
	billingRepo := billing.NewRepository(a.db)
	billingService := billing.NewService(billingRepo, a.ledgerService, a.tierCatalog, a.metrics, a.logger)
	a.stripeHandler = billing.NewStripeHandler(billingService, &a.config.Billing, a.logger)
	a.alipayHandler = billing.NewAlipayHandler(billingService, &a.config.Billing, a.logger)

	// Scheduled reset
	resetService := reset.NewService(a.ledgerService, a.logger)
	a.resetHandler = reset.NewHandler(resetService, &a.config.Cron)

	return nil
}

// setupRouter creates and configures the Gin router.
func (a *App) setupRouter() *gin.Engine {
	if a.config.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(middleware.Recovery(a.logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logging(a.logger))
	r.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	r.Use(middleware.Metrics(a.metrics))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))

	return r
}

// registerRoutes mounts module routes onto the router.
func (a *App) registerRoutes() {
	api := a.router.Group("/api")

	if a.config.RateLimit.Enabled && a.redis != nil {
		limiter := middleware.NewRateLimiter(a.redis)
		api.Use(middleware.RateLimit(limiter, middleware.RateLimitConfig{
			Limit: int64(a.config.RateLimit.RequestsPerMinute),
		}))
	}

	a.authHandler.RegisterRoutes(api)
	a.tierHandler.RegisterRoutes(api)
	a.notesHandler.RegisterRoutes(api)
	a.resetHandler.RegisterRoutes(api)

	webhooks := a.router.Group("/webhooks")
	a.stripeHandler.RegisterRoutes(webhooks)
	a.alipayHandler.RegisterRoutes(webhooks)
}

// Router returns the HTTP router.
func (a *App) Router() *gin.Engine {
	return a.router
}

// Stop releases infrastructure connections.
func (a *App) Stop() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("close redis", zap.Error(err))
		}
	}

	if sqlDB, err := a.db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			a.logger.Warn("close database", zap.Error(err))
		}
	}

	_ = a.logger.Sync()
}
