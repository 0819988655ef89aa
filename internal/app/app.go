package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/Dhoini/subscription-service/internal/config"
	"github.com/Dhoini/subscription-service/internal/db"
	grpcserver "github.com/Dhoini/subscription-service/internal/grpc"
	"github.com/Dhoini/subscription-service/internal/http/handlers"
	"github.com/Dhoini/subscription-service/internal/http/routes"
	"github.com/Dhoini/subscription-service/internal/interceptors"
	"github.com/Dhoini/subscription-service/internal/kafka"
	"github.com/Dhoini/subscription-service/internal/metrics"
	"github.com/Dhoini/subscription-service/internal/middleware"
	"github.com/Dhoini/subscription-service/internal/repository"
	"github.com/Dhoini/subscription-service/internal/services"
	stripegw "github.com/Dhoini/subscription-service/internal/stripe"
	"github.com/Dhoini/subscription-service/pkg/logger"
)

// App представляет собой контейнер для всех компонентов приложения
type App struct {
	cfg *config.Config
	log *logger.Logger

	Registry    *prometheus.Registry
	Store       repository.SubscriptionStore
	Provisioner *services.SubscriptionProvisioner
	Reconciler  *services.WebhookReconciler

	router     *gin.Engine
	httpServer *http.Server
	grpcServer *grpcserver.Server

	dbClient    *db.DBClient
	redisClient *redis.Client
	notifier    *kafka.Notifier
	pgLedger    *repository.PostgresEventLedger
}

// ledgerPruneInterval период очистки processed_webhook_events
const ledgerPruneInterval = time.Hour

// New собирает приложение по конфигурации. Пустые database.dsn, redis.addr и
// kafka.brokers отключают соответствующую инфраструктуру: хранилище в памяти,
// журнал событий в памяти, без публикации в Kafka.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{cfg: cfg, log: log, Registry: metrics.NewRegistry()}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := a.initStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}

	var notifier services.RecordNotifier
	if n := a.initKafka(ctx); n != nil {
		a.notifier = n
		notifier = n
	}

	stripeClient := stripegw.NewStripeClient(cfg.Stripe.APIKey, nil, log)
	catalog := config.NewPlanCatalog(cfg.Plans)
	log.Infow("Plan catalog loaded", "configured", catalog.Configured())

	authorizer := services.NewPaymentAuthorizer(stripeClient, stripeClient, cfg.Stripe.CallTimeout, log)
	binder := services.NewPaymentMethodBinder(stripeClient, cfg.Stripe.CallTimeout, log)
	a.Provisioner = services.NewSubscriptionProvisioner(
		authorizer, binder, stripeClient, catalog, a.Store, notifier,
		metrics.NewProvisioningMetrics(a.Registry),
		services.Timeouts{Call: cfg.Stripe.CallTimeout, Store: cfg.Database.QueryTimeout},
		log,
	)
	a.Reconciler = services.NewWebhookReconciler(
		stripegw.NewEventVerifier(cfg.Stripe.WebhookSecret, 0),
		a.Store, a.eventLedger(), notifier,
		metrics.NewReconcileMetrics(a.Registry),
		cfg.Database.QueryTimeout, log,
	)

	var validator middleware.TokenValidator
	opts := routes.Options{Registry: a.Registry, HTTPMetrics: metrics.NewHTTPMetrics(a.Registry)}
	if cfg.Auth.JWTSecret != "" {
		validator = middleware.NewHMACTokenValidator(cfg.Auth.JWTSecret)
		opts.Auth = middleware.NewJWTMiddleware(validator, log)
	} else {
		log.Warnw("auth.jwtSecret is not set, client routes are not protected")
	}

	a.router = gin.New()
	routes.SetupRoutes(a.router, routes.Handlers{
		Authorizations: handlers.NewAuthorizationHandler(authorizer, log),
		Subscriptions:  handlers.NewSubscriptionHandler(a.Provisioner, a.Store, log),
		Webhooks:       handlers.NewWebhookHandler(a.Reconciler, cfg.Stripe.MaxBodyBytes, log),
		Health:         handlers.NewHealthHandler(a.healthDeps()),
	}, opts, log)

	a.httpServer = &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      a.router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	unary := []grpc.UnaryServerInterceptor{interceptors.UnaryLogging(log)}
	if validator != nil {
		unary = append(unary, interceptors.NewAuthInterceptor(validator, log, publicGRPCMethods...).Unary())
	}
	a.grpcServer = grpcserver.NewServer(log, unary...)

	return a, nil
}

// Router HTTP обработчик приложения.
func (a *App) Router() http.Handler {
	return a.router
}

// Run запускает HTTP и gRPC серверы и блокируется до отмены ctx или ошибки сервера,
// после чего выполняет graceful shutdown.
func (a *App) Run(ctx context.Context) error {
	grpcListener, err := net.Listen("tcp", ":"+a.cfg.GRPC.Port)
	if err != nil {
		return fmt.Errorf("grpc listen on %s: %w", a.cfg.GRPC.Port, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Infow("Starting HTTP server", "port", a.cfg.App.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.grpcServer.Serve(grpcListener)
	})
	g.Go(func() error {
		<-gctx.Done()
		a.shutdown()
		return nil
	})
	if a.pgLedger != nil {
		g.Go(func() error {
			a.pruneLedger(gctx)
			return nil
		})
	}

	return g.Wait()
}

func (a *App) shutdown() {
	a.log.Infow("Shutting down servers")
	a.grpcServer.MarkNotServing()

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.log.Errorw("HTTP server shutdown error", "error", err)
	} else {
		a.log.Infow("HTTP server gracefully stopped")
	}

	a.grpcServer.Stop()
	a.log.Infow("gRPC server gracefully stopped")
}

// Close освобождает клиентов инфраструктуры. Notifier закрывается первым,
// чтобы дождаться публикаций, которые еще в полете.
func (a *App) Close() {
	if a.notifier != nil {
		if err := a.notifier.Close(); err != nil {
			a.log.Errorw("Error closing Kafka producer", "error", err)
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Errorw("Error closing Redis connection", "error", err)
		}
	}
	if a.dbClient != nil {
		if err := a.dbClient.Close(); err != nil {
			a.log.Errorw("Error closing database connection", "error", err)
		}
	}
}

// gRPC методы без токена
var publicGRPCMethods = []string{"/grpc.health.v1.Health/", "/grpc.reflection."}

func (a *App) initStorage(ctx context.Context) error {
	if a.cfg.Database.DSN == "" {
		a.log.Warnw("database.dsn is not set, using in-memory subscription store")
		a.Store = repository.NewInMemorySubscriptionStore()
	} else {
		dbClient, err := db.NewDBClient(ctx, a.cfg.Database.DSN, db.PoolOptions{
			MaxOpenConns:    a.cfg.Database.MaxOpenConns,
			MaxIdleConns:    a.cfg.Database.MaxIdleConns,
			ConnMaxLifetime: a.cfg.Database.ConnMaxLifetime,
		}, a.log)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		a.dbClient = dbClient
		if err := dbClient.EnsureSchema(ctx); err != nil {
			return err
		}
		a.Store = repository.NewPostgresSubscriptionStore(dbClient.DB(), a.log)
	}

	if a.cfg.Redis.Addr == "" {
		return nil
	}
	client, err := repository.NewRedisClient(a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB, a.log)
	if err != nil {
		// не фатально: без кеша и с журналом событий в памяти
		a.log.Warnw("Failed to initialize Redis, continuing without caching", "error", err)
		return nil
	}
	a.redisClient = client
	if a.dbClient != nil {
		cache := repository.NewRedisCacheRepository(client, a.cfg.Redis.RecordTTL, a.log)
		a.Store = repository.NewCachedSubscriptionStore(a.Store, cache, a.log)
		a.log.Infow("Using cached subscription store")
	}
	return nil
}

// eventLedger PostgreSQL, если есть база: журнал переживает рестарт и общий для реплик.
func (a *App) eventLedger() repository.EventLedger {
	if a.dbClient != nil {
		a.pgLedger = repository.NewPostgresEventLedger(a.dbClient.DB(), a.cfg.Redis.EventTTL, a.log)
		return a.pgLedger
	}
	if a.redisClient != nil {
		return repository.NewRedisEventLedger(a.redisClient, a.cfg.Redis.EventTTL, a.log)
	}
	return repository.NewInMemoryEventLedger(a.cfg.Redis.EventTTL)
}

func (a *App) pruneLedger(ctx context.Context) {
	ticker := time.NewTicker(ledgerPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruneCtx, cancel := context.WithTimeout(ctx, a.cfg.Database.QueryTimeout)
			_, _ = a.pgLedger.Prune(pruneCtx)
			cancel()
		}
	}
}

// initKafka nil - публикация отключена или продюсер не создан.
func (a *App) initKafka(ctx context.Context) *kafka.Notifier {
	kc := a.cfg.Kafka
	if len(kc.Brokers) == 0 {
		a.log.Warnw("kafka.brokers is not set, record events will not be published")
		return nil
	}

	topics := kafka.Topics{Provisioned: kc.TopicProvisioned, Reconciled: kc.TopicReconciled}
	setupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := kafka.EnsureKafkaTopics(setupCtx, kc.Brokers, topics.All(), a.log); err != nil {
		a.log.Warnw("Failed to ensure Kafka topics", "error", err)
	}

	var (
		producer kafka.Producer
		err      error
	)
	switch kc.Client {
	case kafka.ClientSarama:
		producer, err = kafka.NewSaramaProducer(kafka.NewConfig(kc.Brokers, kc.Client, topics), a.log)
	default:
		producer, err = kafka.NewKafkaProducer(kc.Brokers, a.log)
	}
	if err != nil {
		a.log.Errorw("Failed to initialize Kafka producer, continuing without event publishing", "error", err)
		return nil
	}
	return kafka.NewNotifier(producer, topics, a.log)
}

func (a *App) healthDeps() map[string]handlers.Pinger {
	deps := make(map[string]handlers.Pinger)
	if a.dbClient != nil {
		deps["postgres"] = a.dbClient
	}
	if a.redisClient != nil {
		client := a.redisClient
		deps["redis"] = handlers.PingFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	}
	return deps
}
