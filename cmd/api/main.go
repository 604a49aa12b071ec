package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/venue-bookings/internal/adapters/gateway"
	mongoadapter "github.com/robertarktes/venue-bookings/internal/adapters/mongo"
	"github.com/robertarktes/venue-bookings/internal/adapters/postgres"
	"github.com/robertarktes/venue-bookings/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/venue-bookings/internal/adapters/redis"
	"github.com/robertarktes/venue-bookings/internal/booking"
	"github.com/robertarktes/venue-bookings/internal/config"
	httphandler "github.com/robertarktes/venue-bookings/internal/http"
	"github.com/robertarktes/venue-bookings/internal/idempotency"
	"github.com/robertarktes/venue-bookings/internal/observability"
	"github.com/robertarktes/venue-bookings/internal/payment"
	"github.com/robertarktes/venue-bookings/internal/rateLimit"
	"github.com/robertarktes/venue-bookings/internal/tablesync"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

type brokerCheck struct {
	conn *amqp.Connection
}

func (b brokerCheck) Ping(ctx context.Context) error {
	if b.conn.IsClosed() {
		return errors.New("rabbitmq connection closed")
	}
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "venue-api")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger("venue-api", cfg.LogLevel)
	observability.InitMetrics()

	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()
	repo := postgres.NewRepository(pool)
	if cfg.MigrateOnStart {
		if err := repo.Migrate(ctx); err != nil {
			log.Fatalf("failed to migrate: %v", err)
		}
	}

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database(cfg.MongoDB)
	catalog := mongoadapter.NewCatalogRepository(mongoDB, logger)
	audit := mongoadapter.NewAuditLogger(mongoDB, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	cache := redisadapter.NewCache(redisClient)
	idemp := idempotency.NewIdempotency(redisadapter.NewResponseStore(redisClient), cfg.IdempotencyTTL)
	rl := rateLimit.NewRateLimiter(cache)

	rabbitConn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer rabbitConn.Close()

	applier := tablesync.NewApplier(repo, logger, cfg.TableSyncRetries, cfg.TableSyncBackoff)
	initiator := payment.NewInitiator(cfg, repo, gateway.NewClient(cfg.Providers, cfg.ProviderTimeout), logger)
	webhooks := payment.NewWebhookProcessor(cfg, repo, applier, audit, cache, logger)
	bookings := booking.NewService(cfg, repo, catalog, applier, audit, logger)

	adminAuth, err := httphandler.NewAdminAuth(cfg.JWTPublicKey, cfg.JWTSecret, logger)
	if err != nil {
		log.Fatalf("failed to setup admin auth: %v", err)
	}

	handlers := httphandler.NewHandlers(httphandler.Deps{
		Payments: initiator,
		Webhooks: webhooks,
		Verifier: payment.NewVerifier(cfg.WebhookSecret, cfg.WebhookTolerance),
		Bookings: bookings,
		Audit:    audit,
		Feed:     rabbit.NewFeed(rabbitConn),
		Checks: map[string]httphandler.Pinger{
			"postgres": repo,
			"mongo":    catalog,
			"redis":    cache,
			"rabbitmq": brokerCheck{conn: rabbitConn},
		},
		Logger: logger,
	})
	r := httphandler.SetupRouter(handlers, httphandler.RouterOptions{
		Logger:          logger,
		Idempotency:     idemp,
		RateLimiter:     rl,
		RateLimit:       cfg.RateLimit,
		RateLimitWindow: cfg.RateLimitWindow,
		AdminAuth:       adminAuth,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithFields(map[string]interface{}{"addr": cfg.HTTPAddr, "payment_mode": cfg.PaymentMode}).Info("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down api")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("api stopped with error")
		os.Exit(1)
	}
	logger.Info("api exited")
}
