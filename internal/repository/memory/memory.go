package memory

import (
	"context"

	"voidnode/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type (
	MemoryRepo struct {
		collection *mongo.Collection
	}
)

func NewMemoryRepo(db *mongo.Database) *MemoryRepo {
	return &MemoryRepo{
		collection: db.Collection("memories"),
	}
}

func (r *MemoryRepo) Insert(ctx context.Context, rec *model.MemoryRecord) error {
	_, err := r.collection.InsertOne(ctx, rec)
	return err
}

// ExistsByHash answers whether a record with this content hash is already
// stored locally; the dedup primitive for imports.
func (r *MemoryRepo) ExistsByHash(ctx context.Context, contentHash string) (bool, error) {
	err := r.collection.FindOne(ctx, bson.M{"content_hash": contentHash},
		options.FindOne().SetProjection(bson.M{"_id": 1})).Err()
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Find applies export filters: category, stage, tags, importance floor and
// time window, capped by limit, newest first.
func (r *MemoryRepo) Find(ctx context.Context, filters model.MemoryFilters) ([]model.MemoryRecord, error) {
	query := bson.M{}
	if filters.Category != "" {
		query["category"] = filters.Category
	}
	if filters.Stage != "" {
		query["stage"] = filters.Stage
	}
	if len(filters.Tags) > 0 {
		query["tags"] = bson.M{"$all": filters.Tags}
	}
	if filters.MinImportance > 0 {
		query["importance"] = bson.M{"$gte": filters.MinImportance}
	}
	if filters.Since != nil {
		query["created_at"] = bson.M{"$gt": *filters.Since}
	}

	opts := options.Find().SetSort(bson.M{"created_at": -1})
	if filters.Limit > 0 {
		opts.SetLimit(filters.Limit)
	}
	cur, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var records []model.MemoryRecord
	if err := cur.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *MemoryRepo) Count(ctx context.Context) (int64, error) {
	return r.collection.CountDocuments(ctx, bson.M{})
}
