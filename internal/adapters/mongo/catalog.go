package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/venue-bookings/internal/domain"
	"github.com/robertarktes/venue-bookings/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type CatalogRepository struct {
	formulas *mongo.Collection
	menus    *mongo.Collection
	logger   observability.Logger
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		formulas: db.Collection("formulas"),
		menus:    db.Collection("menus"),
		logger:   logger,
	}
}

// FormulaDoc is a priced garden-table package.
type FormulaDoc struct {
	ID        string    `bson:"_id" json:"id"`
	Name      string    `bson:"name" json:"name"`
	Price     int64     `bson:"price" json:"price"`
	Capacity  int       `bson:"capacity" json:"capacity"`
	Amenities []string  `bson:"amenities" json:"amenities"`
	Active    bool      `bson:"active" json:"active"`
	CreatedAt time.Time `bson:"created_at" json:"-"`
	UpdatedAt time.Time `bson:"updated_at" json:"-"`
}

type MenuDoc struct {
	ID        string    `bson:"_id" json:"id"`
	Name      string    `bson:"name" json:"name"`
	Price     int64     `bson:"price" json:"price"`
	Active    bool      `bson:"active" json:"active"`
	CreatedAt time.Time `bson:"created_at" json:"-"`
	UpdatedAt time.Time `bson:"updated_at" json:"-"`
}

func (f FormulaDoc) toDomain() domain.Formula {
	return domain.Formula{ID: f.ID, Name: f.Name, Price: f.Price, Capacity: f.Capacity, Amenities: f.Amenities}
}

func (m MenuDoc) toDomain() domain.Menu {
	return domain.Menu{ID: m.ID, Name: m.Name, Price: m.Price}
}

func (c *CatalogRepository) GetFormula(ctx context.Context, id string) (*domain.Formula, error) {
	var doc FormulaDoc
	err := c.formulas.FindOne(ctx, bson.M{"_id": id, "active": true}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		c.logger.Error("failed to get formula", err)
		return nil, err
	}
	f := doc.toDomain()
	return &f, nil
}

func (c *CatalogRepository) ListFormulas(ctx context.Context) ([]domain.Formula, error) {
	cur, err := c.formulas.Find(ctx, bson.M{"active": true}, options.Find().SetSort(bson.D{{Key: "price", Value: 1}}))
	if err != nil {
		c.logger.Error("failed to list formulas", err)
		return nil, err
	}
	var docs []FormulaDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domain.Formula, len(docs))
	for i, d := range docs {
		out[i] = d.toDomain()
	}
	return out, nil
}

func (c *CatalogRepository) GetMenu(ctx context.Context, id string) (*domain.Menu, error) {
	var doc MenuDoc
	err := c.menus.FindOne(ctx, bson.M{"_id": id, "active": true}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		c.logger.Error("failed to get menu", err)
		return nil, err
	}
	m := doc.toDomain()
	return &m, nil
}

func (c *CatalogRepository) Ping(ctx context.Context) error {
	return c.formulas.Database().Client().Ping(ctx, nil)
}

func (c *CatalogRepository) UpsertFormula(ctx context.Context, f FormulaDoc) error {
	now := time.Now()
	f.UpdatedAt = now
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	_, err := c.formulas.ReplaceOne(ctx, bson.M{"_id": f.ID}, f, options.Replace().SetUpsert(true))
	if err != nil {
		c.logger.Error("failed to upsert formula", err)
		return err
	}
	return nil
}

func (c *CatalogRepository) UpsertMenu(ctx context.Context, m MenuDoc) error {
	now := time.Now()
	m.UpdatedAt = now
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	_, err := c.menus.ReplaceOne(ctx, bson.M{"_id": m.ID}, m, options.Replace().SetUpsert(true))
	if err != nil {
		c.logger.Error("failed to upsert menu", err)
		return err
	}
	return nil
}
