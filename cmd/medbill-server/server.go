package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"

	"github.com/medbill/medbill/internal/config"
	"github.com/medbill/medbill/internal/domain/analysis"
	"github.com/medbill/medbill/internal/domain/bill"
	"github.com/medbill/medbill/internal/domain/chat"
	"github.com/medbill/medbill/internal/domain/dispute"
	"github.com/medbill/medbill/internal/domain/identity"
	"github.com/medbill/medbill/internal/domain/training"
	"github.com/medbill/medbill/internal/platform/auth"
	"github.com/medbill/medbill/internal/platform/blobstore"
	"github.com/medbill/medbill/internal/platform/db"
	"github.com/medbill/medbill/internal/platform/events"
	"github.com/medbill/medbill/internal/platform/metrics"
	"github.com/medbill/medbill/internal/platform/middleware"
	"github.com/medbill/medbill/internal/platform/reporting"
	"github.com/medbill/medbill/internal/platform/telemetry"
	"github.com/medbill/medbill/internal/platform/validation"
)

const (
	version         = "0.1.0"
	requestTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
	bodyLimit       = "10M"
	eventBuffer     = 1024
)

// resolveSigningKey returns the configured JWT secret, or a random 32-byte
// key when none is set. The second return value reports a generated key,
// which invalidates every token on restart.
func resolveSigningKey(secret string) ([]byte, bool, error) {
	if secret != "" {
		return []byte(secret), false, nil
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, false, fmt.Errorf("generate signing key: %w", err)
	}
	return key, true, nil
}

// newEcho builds the server with global middleware and the public operational
// endpoints. Domain routes are mounted on the returned /api/v1 group.
func newEcho(cfg *config.Config, logger zerolog.Logger, collector *metrics.Collector, tp trace.TracerProvider, jwtCfg auth.JWTConfig) (*echo.Echo, *echo.Group) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validation.Default()

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Tracing(tp))
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Metrics(collector))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "traceparent"},
	}))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(bodyLimit))
	e.Use(middleware.RequestTimeout(requestTimeout))

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/metrics", echo.WrapHandler(collector.Handler()))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1 := e.Group("/api/v1", middleware.RateLimit(rateLimitCfg))

	return e, apiV1
}

func newPublisher(cfg *config.Config, logger zerolog.Logger) (events.Publisher, error) {
	if len(cfg.KafkaBrokers) == 0 {
		logger.Info().Msg("no kafka brokers configured, events go to the log")
		return events.NewLogPublisher(logger), nil
	}
	pub, err := events.NewKafkaPublisher(events.KafkaConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaTopic,
	}, logger)
	if err != nil {
		return nil, err
	}
	logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("publishing events to kafka")
	return pub, nil
}

func newBlobStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (blobstore.Store, error) {
	if cfg.S3Bucket == "" {
		if cfg.IsProduction() {
			return nil, fmt.Errorf("S3_BUCKET is required in production")
		}
		logger.Warn().Msg("no S3 bucket configured, documents are kept in memory")
		return blobstore.NewMemoryStore(), nil
	}
	return blobstore.NewS3Store(ctx, blobstore.S3Config{
		Bucket:   cfg.S3Bucket,
		Region:   cfg.AWSRegion,
		Endpoint: cfg.AWSEndpointURL,
	})
}

type deps struct {
	tokens   *auth.TokenIssuer
	blobs    blobstore.Store
	emitter  *events.Emitter
	metrics  *metrics.Collector
	analyzer *analysis.Analyzer
	logger   zerolog.Logger
}

// registerDomains wires every bounded context onto the API group. All
// repositories share the pool and a single transactor.
func registerDomains(api *echo.Group, pool *pgxpool.Pool, d deps) {
	tx := db.NewTransactor(pool)

	identitySvc := identity.NewService(identity.NewUserRepoPG(pool), d.tokens)
	identity.NewHandler(identitySvc).RegisterRoutes(api)

	billSvc := bill.NewService(bill.NewBillRepoPG(pool), d.blobs, d.emitter, d.metrics)
	bill.NewHandler(billSvc).RegisterRoutes(api)

	analysisSvc := analysis.NewService(billSvc, analysis.NewAnalysisRepoPG(pool), analysis.NewStrategyRepoPG(pool),
		tx, d.analyzer, d.emitter, d.metrics, d.logger)
	analysis.NewHandler(analysisSvc, billSvc).RegisterRoutes(api)

	disputeSvc := dispute.NewService(dispute.NewDocumentRepoPG(pool), billSvc, analysisSvc, d.blobs,
		tx, d.emitter, d.metrics, d.logger)
	dispute.NewHandler(disputeSvc, billSvc).RegisterRoutes(api)

	chatSvc := chat.NewService(chat.NewSessionRepoPG(pool), chat.NewMessageRepoPG(pool), billSvc, tx, d.metrics, d.logger)
	chat.NewHandler(chatSvc).RegisterRoutes(api)

	trainingSvc := training.NewService(training.NewReposPG(pool), tx, d.emitter, d.metrics, d.logger)
	training.NewHandler(trainingSvc).RegisterRoutes(api)

	reporting.NewHandler(reporting.NewPGEvaluator(pool)).RegisterRoutes(api)
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		bootLogger := newLogger(os.Getenv("ENV"))
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg.Env)

	ctx := context.Background()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.OTelEnabled,
		Endpoint:       cfg.OTelEndpoint,
		ServiceVersion: version,
		Environment:    cfg.Env,
		SampleRate:     cfg.OTelSampleRate,
		Insecure:       cfg.IsDev(),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise tracing")
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	key, generated, err := resolveSigningKey(cfg.JWTSecret)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to resolve signing key")
	}
	if generated {
		logger.Warn().Msg("JWT_SECRET not set, using a random signing key; tokens will not survive a restart")
	}
	jwtCfg := auth.JWTConfig{Issuer: cfg.JWTIssuer, SigningKey: key, Skipper: auth.AuthSkipper}

	pub, err := newPublisher(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create event publisher")
	}
	defer pub.Close()

	blobs, err := newBlobStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create document store")
	}

	collector := metrics.NewCollector("medbill", nil)
	emitter := events.NewAsyncEmitter(pub, logger, collector, eventBuffer)

	e, apiV1 := newEcho(cfg, logger, collector, tp, jwtCfg)
	e.GET("/health/db", db.HealthHandler(pool))

	registerDomains(apiV1, pool, deps{
		tokens:   auth.NewTokenIssuer(key, cfg.JWTIssuer, cfg.JWTTTL),
		blobs:    blobs,
		emitter:  emitter,
		metrics:  collector,
		analyzer: analysis.NewAnalyzer(decimal.NewFromFloat(cfg.CharityCareThreshold)),
		logger:   logger,
	})

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if err := emitter.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("event delivery did not drain")
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("tracer shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
