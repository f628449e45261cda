package peer

import (
	"context"
	"time"

	"voidnode/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type (
	// PeerRepo persists peer records and trust edges. It is the durable side
	// of the trust and health store; the orchestrator keeps the hot copy.
	PeerRepo struct {
		peers *mongo.Collection
		trust *mongo.Collection
	}
)

func NewPeerRepo(db *mongo.Database) *PeerRepo {
	return &PeerRepo{
		peers: db.Collection("peers"),
		trust: db.Collection("trust_edges"),
	}
}

// Upsert registers or refreshes a peer keyed by server id. Trust level,
// health and creation time are only seeded on first insert so an upsert never
// resets an operator's decisions.
func (r *PeerRepo) Upsert(ctx context.Context, p *model.PeerRecord) error {
	filter := bson.M{"server_id": p.ServerID}
	update := bson.M{
		"$set": bson.M{
			"public_key":   p.PublicKey,
			"endpoint":     p.Endpoint,
			"version":      p.Version,
			"capabilities": p.Capabilities,
			"last_seen":    p.LastSeen,
		},
		"$setOnInsert": bson.M{
			"server_id":    p.ServerID,
			"trust_level":  model.TrustUnknown,
			"health_score": 1.0,
			"created_at":   time.Now().UTC(),
		},
	}
	_, err := r.peers.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func (r *PeerRepo) Get(ctx context.Context, serverID string) (*model.PeerRecord, error) {
	filter := bson.M{"server_id": serverID}

	var p model.PeerRecord
	err := r.peers.FindOne(ctx, filter).Decode(&p)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// List returns peers, optionally filtered by trust level.
func (r *PeerRepo) List(ctx context.Context, trust model.TrustLevel) ([]model.PeerRecord, error) {
	filter := bson.M{}
	if trust != "" {
		filter["trust_level"] = trust
	}
	cur, err := r.peers.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var peers []model.PeerRecord
	if err := cur.All(ctx, &peers); err != nil {
		return nil, err
	}
	return peers, nil
}

// Delete removes a peer explicitly. Reports whether anything was removed.
func (r *PeerRepo) Delete(ctx context.Context, serverID string) (bool, error) {
	res, err := r.peers.DeleteOne(ctx, bson.M{"server_id": serverID})
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}

func (r *PeerRepo) UpdateTrustLevel(ctx context.Context, serverID string, level model.TrustLevel) error {
	_, err := r.peers.UpdateOne(ctx,
		bson.M{"server_id": serverID},
		bson.M{"$set": bson.M{"trust_level": level}})
	return err
}

func (r *PeerRepo) UpdateHealth(ctx context.Context, serverID string, score float64, lastSeen time.Time) error {
	set := bson.M{"health_score": score}
	if !lastSeen.IsZero() {
		set["last_seen"] = lastSeen
	}
	_, err := r.peers.UpdateOne(ctx,
		bson.M{"server_id": serverID},
		bson.M{"$set": set})
	return err
}

// AddTrustEdge records a directed vouch. Idempotent per (from, to) pair.
func (r *PeerRepo) AddTrustEdge(ctx context.Context, edge *model.TrustRelationship) error {
	filter := bson.M{"from_peer": edge.FromPeer, "to_peer": edge.ToPeer}
	update := bson.M{
		"$set": bson.M{"note": edge.Note},
		"$setOnInsert": bson.M{
			"from_peer":  edge.FromPeer,
			"to_peer":    edge.ToPeer,
			"created_at": time.Now().UTC(),
		},
	}
	_, err := r.trust.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

// TrustedBy lists the direct vouches issued by one peer.
func (r *PeerRepo) TrustedBy(ctx context.Context, fromPeer string) ([]model.TrustRelationship, error) {
	cur, err := r.trust.Find(ctx, bson.M{"from_peer": fromPeer})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var edges []model.TrustRelationship
	if err := cur.All(ctx, &edges); err != nil {
		return nil, err
	}
	return edges, nil
}

// TrustGraph walks vouch edges outward from a peer up to maxDepth hops and
// returns every reachable peer id, nearest first.
func (r *PeerRepo) TrustGraph(ctx context.Context, fromPeer string, maxDepth int) ([]string, error) {
	if maxDepth < 1 {
		maxDepth = 1
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"from_peer": fromPeer}}},
		{{Key: "$graphLookup", Value: bson.M{
			"from":             "trust_edges",
			"startWith":        "$to_peer",
			"connectFromField": "to_peer",
			"connectToField":   "from_peer",
			"as":               "reachable",
			"maxDepth":         maxDepth - 1,
			"depthField":       "depth",
		}}},
	}
	cur, err := r.trust.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	seen := map[string]bool{fromPeer: true}
	var out []string
	for cur.Next(ctx) {
		var doc struct {
			ToPeer    string `bson:"to_peer"`
			Reachable []struct {
				ToPeer string `bson:"to_peer"`
			} `bson:"reachable"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		if !seen[doc.ToPeer] {
			seen[doc.ToPeer] = true
			out = append(out, doc.ToPeer)
		}
		for _, hop := range doc.Reachable {
			if !seen[hop.ToPeer] {
				seen[hop.ToPeer] = true
				out = append(out, hop.ToPeer)
			}
		}
	}
	return out, cur.Err()
}

// Stats aggregates peer counts by trust level and the mean health score.
func (r *PeerRepo) Stats(ctx context.Context) (*model.PeerStats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.M{
			"_id":        "$trust_level",
			"count":      bson.M{"$sum": 1},
			"avg_health": bson.M{"$avg": "$health_score"},
		}}},
	}
	cur, err := r.peers.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	stats := &model.PeerStats{ByTrust: make(map[string]int64)}
	var weighted float64
	for cur.Next(ctx) {
		var row struct {
			Trust     string  `bson:"_id"`
			Count     int64   `bson:"count"`
			AvgHealth float64 `bson:"avg_health"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		stats.ByTrust[row.Trust] = row.Count
		stats.Total += row.Count
		weighted += row.AvgHealth * float64(row.Count)
	}
	if stats.Total > 0 {
		stats.AvgHealth = weighted / float64(stats.Total)
	}
	return stats, cur.Err()
}
