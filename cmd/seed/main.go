// Command seed loads the formula and menu catalog into MongoDB and the floor
// plan into Postgres from a YAML file. Running it twice is harmless.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	mongoadapter "github.com/robertarktes/venue-bookings/internal/adapters/mongo"
	"github.com/robertarktes/venue-bookings/internal/adapters/postgres"
	"github.com/robertarktes/venue-bookings/internal/config"
	"github.com/robertarktes/venue-bookings/internal/domain"
	"github.com/robertarktes/venue-bookings/internal/observability"
	"github.com/spf13/viper"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type seedTable struct {
	ID        int64  `mapstructure:"id"`
	Name      string `mapstructure:"name"`
	Kind      string `mapstructure:"kind"`
	Capacity  int    `mapstructure:"capacity"`
	FormulaID string `mapstructure:"formula_id"`
}

type seedFile struct {
	Formulas []mongoadapter.FormulaDoc `mapstructure:"formulas"`
	Menus    []mongoadapter.MenuDoc    `mapstructure:"menus"`
	Tables   []seedTable               `mapstructure:"tables"`
}

func main() {
	path := flag.String("file", "cmd/seed/venue.yaml", "seed file")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := observability.NewLogger("venue-seed", cfg.LogLevel)

	v := viper.New()
	v.SetConfigFile(*path)
	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("failed to read %s: %v", *path, err)
	}
	var seed seedFile
	if err := v.Unmarshal(&seed); err != nil {
		log.Fatalf("failed to decode %s: %v", *path, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()
	repo := postgres.NewRepository(pool)
	if err := repo.Migrate(ctx); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	catalog := mongoadapter.NewCatalogRepository(mongoClient.Database(cfg.MongoDB), logger)

	for _, f := range seed.Formulas {
		if err := catalog.UpsertFormula(ctx, f); err != nil {
			log.Fatalf("formula %s: %v", f.ID, err)
		}
	}
	for _, m := range seed.Menus {
		if err := catalog.UpsertMenu(ctx, m); err != nil {
			log.Fatalf("menu %s: %v", m.ID, err)
		}
	}
	for _, t := range seed.Tables {
		kind := domain.Kind(t.Kind)
		if !kind.Valid() {
			log.Fatalf("table %d: unknown kind %q", t.ID, t.Kind)
		}
		err := repo.UpsertTable(ctx, domain.Table{
			ID:        t.ID,
			Name:      t.Name,
			Kind:      kind,
			Capacity:  t.Capacity,
			FormulaID: t.FormulaID,
			Status:    domain.TableFree,
		})
		if err != nil {
			log.Fatalf("table %d: %v", t.ID, err)
		}
	}
	logger.WithFields(map[string]interface{}{
		"formulas": len(seed.Formulas),
		"menus":    len(seed.Menus),
		"tables":   len(seed.Tables),
	}).Info("seed applied")
}
