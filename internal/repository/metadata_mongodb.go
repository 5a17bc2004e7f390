package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"brickcache-api/internal/model"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDBMetadataRepository implements Repository using one MongoDB
// collection per record kind.
type MongoDBMetadataRepository struct {
	client  *mongo.Client
	db      *mongo.Database
	parts   *mongo.Collection
	figures *mongo.Collection
	prices  *mongo.Collection
	runs    *mongo.Collection
}

// NewMongoDBMetadataRepository connects and ensures the unique primary_id indexes.
func NewMongoDBMetadataRepository(uri, database string, tables Collections) (*MongoDBMetadataRepository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(50).
		SetMinPoolSize(5).
		SetMaxConnIdleTime(5 * time.Minute).
		SetRetryWrites(true)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	tables = tables.withDefaults()
	db := client.Database(database)
	r := &MongoDBMetadataRepository{
		client:  client,
		db:      db,
		parts:   db.Collection(tables.Part),
		figures: db.Collection(tables.Figure),
		prices:  db.Collection(tables.Price),
		runs:    db.Collection(tables.Runs),
	}

	unique := mongo.IndexModel{
		Keys:    bson.D{{Key: "primary_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	for _, coll := range []*mongo.Collection{r.parts, r.figures, r.prices} {
		if _, err := coll.Indexes().CreateOne(ctx, unique); err != nil {
			log.Warn().Err(err).Msgf("[MongoDB] Failed to create index on %s", coll.Name())
		}
	}
	due := mongo.IndexModel{Keys: bson.D{{Key: "expires_at", Value: 1}}}
	if _, err := r.prices.Indexes().CreateOne(ctx, due); err != nil {
		log.Warn().Err(err).Msg("[MongoDB] Failed to create expires_at index")
	}
	runIdx := mongo.IndexModel{Keys: bson.D{{Key: "started_at", Value: -1}}}
	if _, err := r.runs.Indexes().CreateOne(ctx, runIdx); err != nil {
		log.Warn().Err(err).Msg("[MongoDB] Failed to create started_at index")
	}

	log.Info().Msgf("[MongoDB] Connected to %s (%s, %s, %s)", database, tables.Part, tables.Figure, tables.Price)
	return r, nil
}

func (r *MongoDBMetadataRepository) metadataCollection(kind model.Kind) (*mongo.Collection, error) {
	switch kind {
	case model.KindPart:
		return r.parts, nil
	case model.KindFigure:
		return r.figures, nil
	default:
		return nil, errUnsupportedKind(kind)
	}
}

// GetMetadata finds one part or figure record by primary ID.
func (r *MongoDBMetadataRepository) GetMetadata(ctx context.Context, kind model.Kind, primaryID string) (*model.MetadataRecord, error) {
	coll, err := r.metadataCollection(kind)
	if err != nil {
		return nil, err
	}

	res := coll.FindOne(ctx, bson.M{"primary_id": primaryID})
	if err := res.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get %s metadata: %w", kind, err)
	}
	rec, err := decodeMetadata(res)
	if err != nil {
		return nil, fmt.Errorf("decode %s %s: %w", kind, primaryID, err)
	}
	rec.Kind = kind
	if rec.AvailableColors == nil {
		rec.AvailableColors = []model.ColorEntry{}
	}
	return rec, nil
}

// GetMetadataMany finds records by membership in ids.
func (r *MongoDBMetadataRepository) GetMetadataMany(ctx context.Context, kind model.Kind, ids []string) (map[string]*model.MetadataRecord, error) {
	coll, err := r.metadataCollection(kind)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*model.MetadataRecord, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	cursor, err := coll.Find(ctx, bson.M{"primary_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("failed to query %s metadata: %w", kind, err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var rec model.MetadataRecord
		if err := cursor.Decode(&rec); err != nil {
			log.Warn().Err(err).Msgf("[MongoDB] Skipping undecodable %s record", kind)
			continue
		}
		rec.Kind = kind
		if rec.AvailableColors == nil {
			rec.AvailableColors = []model.ColorEntry{}
		}
		out[rec.PrimaryID] = &rec
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s metadata: %w", kind, err)
	}
	return out, nil
}

// UpsertMetadata replaces the document for rec.PrimaryID.
func (r *MongoDBMetadataRepository) UpsertMetadata(ctx context.Context, kind model.Kind, rec *model.MetadataRecord) error {
	coll, err := r.metadataCollection(kind)
	if err != nil {
		return err
	}
	doc := *rec
	doc.Kind = kind
	if doc.AvailableColors == nil {
		doc.AvailableColors = []model.ColorEntry{}
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now().UTC()
	}

	opts := options.Replace().SetUpsert(true)
	if _, err := coll.ReplaceOne(ctx, bson.M{"primary_id": rec.PrimaryID}, doc, opts); err != nil {
		return fmt.Errorf("failed to upsert %s metadata: %w", kind, err)
	}
	return nil
}

// GetPrice finds the price record for a primary ID.
func (r *MongoDBMetadataRepository) GetPrice(ctx context.Context, primaryID string) (*model.PriceRecord, error) {
	res := r.prices.FindOne(ctx, bson.M{"primary_id": primaryID})
	if err := res.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get price: %w", err)
	}
	var rec model.PriceRecord
	if err := res.Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode price %s: %v: %w", primaryID, err, model.ErrMalformedCache)
	}
	normalizePriceTimes(&rec)
	return &rec, nil
}

// GetPrices finds price records by membership in ids.
func (r *MongoDBMetadataRepository) GetPrices(ctx context.Context, ids []string) (map[string]*model.PriceRecord, error) {
	out := make(map[string]*model.PriceRecord, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	recs, err := r.findPrices(ctx, bson.M{"primary_id": bson.M{"$in": ids}}, nil)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		out[rec.PrimaryID] = rec
	}
	return out, nil
}

// UpsertPrice supersedes the price document for rec.PrimaryID.
func (r *MongoDBMetadataRepository) UpsertPrice(ctx context.Context, rec *model.PriceRecord) error {
	doc := *rec
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now().UTC()
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := r.prices.ReplaceOne(ctx, bson.M{"primary_id": rec.PrimaryID}, doc, opts); err != nil {
		return fmt.Errorf("failed to upsert price: %w", err)
	}
	return nil
}

// ListDuePrices returns records past expiry or flagged expired, oldest first.
func (r *MongoDBMetadataRepository) ListDuePrices(ctx context.Context, now time.Time) ([]*model.PriceRecord, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"expires_at": bson.M{"$lt": now}},
		bson.M{"is_expired": true},
	}}
	return r.findPrices(ctx, filter, options.Find().SetSort(bson.D{{Key: "expires_at", Value: 1}}))
}

// MarkPricesExpired flags the given records as expired.
func (r *MongoDBMetadataRepository) MarkPricesExpired(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := r.prices.UpdateMany(ctx,
		bson.M{"primary_id": bson.M{"$in": ids}},
		bson.M{"$set": bson.M{"is_expired": true}})
	if err != nil {
		return 0, fmt.Errorf("failed to mark prices expired: %w", err)
	}
	return res.ModifiedCount, nil
}

func (r *MongoDBMetadataRepository) findPrices(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*model.PriceRecord, error) {
	var findOpts []*options.FindOptions
	if opts != nil {
		findOpts = append(findOpts, opts)
	}
	cursor, err := r.prices.Find(ctx, filter, findOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to query prices: %w", err)
	}
	defer cursor.Close(ctx)

	var out []*model.PriceRecord
	for cursor.Next(ctx) {
		var rec model.PriceRecord
		if err := cursor.Decode(&rec); err != nil {
			log.Warn().Err(err).Msg("[MongoDB] Skipping undecodable price record")
			continue
		}
		normalizePriceTimes(&rec)
		out = append(out, &rec)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to read prices: %w", err)
	}
	return out, nil
}

// BSON dates come back in local time with millisecond precision.
func normalizePriceTimes(rec *model.PriceRecord) {
	rec.ExpiresAt = rec.ExpiresAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
}

// GetStats returns per-collection counts.
func (r *MongoDBMetadataRepository) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := map[string]interface{}{"backend": "mongodb", "status": "connected"}
	for key, coll := range map[string]*mongo.Collection{
		"part_records":   r.parts,
		"figure_records": r.figures,
		"price_records":  r.prices,
	} {
		count, err := coll.CountDocuments(ctx, bson.M{})
		if err != nil {
			return stats, err
		}
		stats[key] = count
	}

	due, err := r.prices.CountDocuments(ctx, bson.M{"$or": bson.A{
		bson.M{"expires_at": bson.M{"$lt": time.Now()}},
		bson.M{"is_expired": true},
	}})
	if err == nil {
		stats["due_prices"] = due
	}

	result := r.db.RunCommand(ctx, bson.D{{Key: "collStats", Value: r.prices.Name()}})
	var collStats bson.M
	if err := result.Decode(&collStats); err == nil {
		if size, ok := collStats["size"].(int64); ok {
			stats["price_size_bytes"] = size
		} else if size, ok := collStats["size"].(int32); ok {
			stats["price_size_bytes"] = int64(size)
		}
	}
	return stats, nil
}

// Ping checks the connection.
func (r *MongoDBMetadataRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, nil)
}

// Close closes the MongoDB connection.
func (r *MongoDBMetadataRepository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}

var _ Repository = (*MongoDBMetadataRepository)(nil)

// decoder is satisfied by *mongo.SingleResult.
type decoder interface {
	Decode(v interface{}) error
}

// decodeMetadata maps a document that does not fit MetadataRecord to
// model.ErrMalformedCache, matching the SQL backends.
func decodeMetadata(d decoder) (*model.MetadataRecord, error) {
	var rec model.MetadataRecord
	if err := d.Decode(&rec); err != nil {
		return nil, fmt.Errorf("%v: %w", err, model.ErrMalformedCache)
	}
	return &rec, nil
}
