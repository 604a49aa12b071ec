package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-co-op/gocron/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	mongoadapter "github.com/robertarktes/venue-bookings/internal/adapters/mongo"
	"github.com/robertarktes/venue-bookings/internal/adapters/postgres"
	"github.com/robertarktes/venue-bookings/internal/config"
	"github.com/robertarktes/venue-bookings/internal/observability"
	"github.com/robertarktes/venue-bookings/internal/tablesync"
	"github.com/robertarktes/venue-bookings/internal/worker"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "venue-worker")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger("venue-worker", cfg.LogLevel)
	observability.InitMetrics()

	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()
	repo := postgres.NewRepository(pool)

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	audit := mongoadapter.NewAuditLogger(mongoClient.Database(cfg.MongoDB), logger)

	applier := tablesync.NewApplier(repo, logger, cfg.TableSyncRetries, cfg.TableSyncBackoff)
	jobs := worker.NewJobs(repo, applier, audit, cfg.TableSyncGrace, cfg.PaymentTTL, logger)

	sched, err := gocron.NewScheduler()
	if err != nil {
		log.Fatalf("failed to create scheduler: %v", err)
	}

	schedule := func(name string, run func(context.Context) (int, error)) {
		_, err := sched.NewJob(
			gocron.DurationJob(cfg.WorkerInterval),
			gocron.NewTask(func() {
				n, err := run(ctx)
				entry := logger.WithFields(map[string]interface{}{"job": name, "processed": n})
				if err != nil {
					entry.WithError(err).Error("job failed")
					return
				}
				if n > 0 {
					entry.Info("job finished")
				}
			}),
			gocron.WithName(name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			log.Fatalf("failed to schedule %s: %v", name, err)
		}
	}
	schedule("table-sync", jobs.SyncTables)
	schedule("expire-awaiting-payment", jobs.ExpireAwaitingPayment)

	sched.Start()
	logger.WithField("interval", cfg.WorkerInterval.String()).Info("worker started")

	<-ctx.Done()
	logger.Info("shutting down worker")
	if err := sched.Shutdown(); err != nil {
		logger.WithError(err).Error("scheduler shutdown failed")
	}
}
