package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/andrejvysny/spendly-sub003/internal/config"
	"github.com/andrejvysny/spendly-sub003/internal/constants"
	"github.com/andrejvysny/spendly-sub003/internal/execlog"
	"github.com/andrejvysny/spendly-sub003/internal/logger"
	"github.com/andrejvysny/spendly-sub003/internal/lookup"
	"github.com/andrejvysny/spendly-sub003/internal/management"
	"github.com/andrejvysny/spendly-sub003/internal/processing"
	"github.com/andrejvysny/spendly-sub003/internal/rules"
	"github.com/andrejvysny/spendly-sub003/internal/transactions"
	"github.com/andrejvysny/spendly-sub003/pkg/bootstrap"
	"github.com/andrejvysny/spendly-sub003/pkg/cel"
	"github.com/andrejvysny/spendly-sub003/pkg/circuitbreaker"
	"github.com/andrejvysny/spendly-sub003/pkg/health"
	"github.com/andrejvysny/spendly-sub003/pkg/logging"
	"github.com/andrejvysny/spendly-sub003/pkg/metrics"
	"github.com/andrejvysny/spendly-sub003/pkg/middleware"
	"github.com/andrejvysny/spendly-sub003/pkg/models"
	"github.com/andrejvysny/spendly-sub003/pkg/ratelimit"
	"github.com/andrejvysny/spendly-sub003/pkg/tracing"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

const serviceName = "rule-engine"

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	db             *sql.DB
	redisClient    *redis.Client
	mongoClient    *mongo.Client
	service        processing.Service
	eventHandler   *processing.EventHandler
	server         *http.Server
	tracerProvider *tracing.TracerProvider
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(serviceName)
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	if a.Config.Broker.Type != "" {
		if err := a.InitBroker(serviceName); err != nil {
			return fmt.Errorf("failed to initialize broker: %w", err)
		}
	}

	tp, err := tracing.Init(a.Config.Tracing, serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterEngineMetrics()
	metrics.RegisterLookupMetrics()
	metrics.RegisterHTTPMetrics()
	if a.Config.Broker.Type != "" {
		metrics.RegisterBrokerMetrics()
	}
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	if err := a.initRouter(ctx); err != nil {
		return fmt.Errorf("failed to initialize router: %w", err)
	}

	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db

	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		a.Logger.WarnwCtx(ctx, "Redis connection failed, lookups will hit PostgreSQL directly", "error", err)
	} else {
		a.redisClient = rdb
	}

	mongoClient, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		a.Logger.WarnwCtx(ctx, "MongoDB connection failed, execution logging disabled", "error", err)
	} else {
		a.mongoClient = mongoClient
	}

	return nil
}

func (a *App) initRouter(ctx context.Context) error {
	celEval, err := cel.NewEvaluator()
	if err != nil {
		return fmt.Errorf("failed to build expression evaluator: %w", err)
	}

	var resolver rules.EntityResolver = lookup.NewPostgresResolver(a.db)
	if a.redisClient != nil {
		var breaker *circuitbreaker.Wrapper
		if a.Config.CircuitBreaker.Enabled {
			breaker = circuitbreaker.NewWrapper(circuitbreaker.DefaultConfig("redis-lookup"))
		}
		ttl := a.Config.Lookup.CacheTTLSeconds
		if ttl <= 0 {
			ttl = constants.DefaultCacheTTLSeconds
		}
		resolver = lookup.NewCachedResolver(resolver, a.redisClient, breaker, ttl, a.Logger)
	}

	var notifier rules.Notifier = processing.NopNotifier{}
	if a.Producer != nil && a.Config.Broker.Kafka.NotificationTopic != "" {
		notifier = processing.NewKafkaNotifier(a.Producer, a.Config.Broker.Kafka.NotificationTopic, a.Logger)
	}

	var logRepo execlog.Repository = execlog.NoopRepository{}
	if a.mongoClient != nil {
		dbName := a.Config.Database.MongoDB.Database
		if dbName == "" {
			dbName = constants.DefaultMongoDBName
		}
		logRepo = execlog.NewMongoRepository(a.mongoClient, dbName)
	}

	evaluator := rules.NewEvaluator(a.Logger)
	executor := rules.NewExecutor(resolver, notifier, a.Logger)
	engine := rules.NewEngine(evaluator, executor, celEval, a.Logger)

	ruleRepo := rules.NewRepository(a.db)
	txRepo := transactions.NewRepository(a.db)

	a.service = processing.NewService(engine, ruleRepo, txRepo, logRepo,
		a.Config.Engine.Workers, a.Config.Engine.BatchSize, a.Logger)
	a.eventHandler = processing.NewEventHandler(a.service, a.Logger)

	mgmtRepo := management.NewRepository(a.db)
	validator := management.NewValidator(celEval)

	opts := []management.ServiceOption{
		management.WithVersioning(management.NewVersioningRepository(a.db)),
		management.WithExecutionLogs(logRepo),
	}
	if a.Producer != nil && a.Config.Broker.Kafka.RuleChangeTopic != "" {
		changeProducer := management.NewRuleChangeProducer(a.Producer, a.Config.Broker.Kafka.RuleChangeTopic, a.Logger)
		opts = append(opts, management.WithRuleChangeEvents(changeProducer))
	}
	mgmtService := management.NewService(mgmtRepo, validator, a.Logger, opts...)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(serviceName))
	}

	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.LoggerMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())

	if a.Config.Management.RateLimit.Enabled {
		rateLimitConfig := ratelimit.RateLimitConfig{
			RPS:             a.Config.Management.RateLimit.RPS,
			Burst:           a.Config.Management.RateLimit.Burst,
			CleanupInterval: time.Duration(a.Config.Management.RateLimit.CleanupInterval) * time.Second,
			MaxAge:          time.Duration(a.Config.Management.RateLimit.MaxAge) * time.Second,
		}
		router.Use(ratelimit.RateLimitMiddleware(rateLimitConfig))
		a.Logger.InfowCtx(ctx, "Rate limiting enabled", "rps", rateLimitConfig.RPS, "burst", rateLimitConfig.Burst)
	}

	processing.NewHandler(a.service, a.Logger).RegisterRoutes(router)
	management.NewHandler(mgmtService, a.Logger).RegisterRoutes(router)

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewPostgreSQLChecker(a.db))
	if a.redisClient != nil {
		healthRegistry.Register(health.NewRedisChecker(a.redisClient))
	}
	if a.mongoClient != nil {
		healthRegistry.Register(health.NewMongoDBChecker(a.mongoClient))
	}

	router.GET("/health", func(c *gin.Context) {
		h := healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      router,
		ReadTimeout:  a.Config.Server.ReadTimeoutSeconds * time.Second,
		WriteTimeout: a.Config.Server.WriteTimeoutSeconds * time.Second,
	}

	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	if a.Consumer != nil && a.Config.Broker.Kafka.TransactionsTopic != "" {
		topic := a.Config.Broker.Kafka.TransactionsTopic
		g.Go(func() error {
			consumeCtx := logging.WithServiceName(gCtx, serviceName)
			a.Logger.InfowCtx(consumeCtx, "Starting transaction event consumer", "topic", topic)
			return a.Consumer.Consume(gCtx, topic, func(cCtx context.Context, msg models.MessageEnvelope) error {
				return a.eventHandler.Handle(cCtx, msg)
			})
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		return a.Shutdown(context.Background())
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, serviceName)
	a.Logger.InfowCtx(shutdownCtx, "Shutting down rule engine")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.server != nil {
			serverCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()
			if err := a.server.Shutdown(serverCtx); err != nil {
				errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
			}
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redisClient, a.db, a.mongoClient)...)

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
