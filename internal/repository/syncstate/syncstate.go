package syncstate

import (
	"context"

	"voidnode/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type (
	// SyncStateRepo persists per-peer sync cursors so delta syncs survive
	// restarts.
	SyncStateRepo struct {
		collection *mongo.Collection
	}
)

func NewSyncStateRepo(db *mongo.Database) *SyncStateRepo {
	return &SyncStateRepo{
		collection: db.Collection("sync_states"),
	}
}

func (r *SyncStateRepo) Get(ctx context.Context, peerID string) (*model.SyncState, error) {
	var state model.SyncState
	err := r.collection.FindOne(ctx, bson.M{"_id": peerID}).Decode(&state)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (r *SyncStateRepo) Upsert(ctx context.Context, state *model.SyncState) error {
	_, err := r.collection.ReplaceOne(ctx,
		bson.M{"_id": state.PeerID}, state, options.Replace().SetUpsert(true))
	return err
}

func (r *SyncStateRepo) All(ctx context.Context) ([]model.SyncState, error) {
	cur, err := r.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var states []model.SyncState
	if err := cur.All(ctx, &states); err != nil {
		return nil, err
	}
	return states, nil
}
