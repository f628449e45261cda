package model

import "time"

type TrustLevel string

const (
	TrustUnknown  TrustLevel = "unknown"
	TrustSeen     TrustLevel = "seen"
	TrustVerified TrustLevel = "verified"
	TrustTrusted  TrustLevel = "trusted"
	TrustBlocked  TrustLevel = "blocked"
)

func (t TrustLevel) Valid() bool {
	switch t {
	case TrustUnknown, TrustSeen, TrustVerified, TrustTrusted, TrustBlocked:
		return true
	}
	return false
}

type (
	// PeerRecord is the durable record of a known peer. Created at first
	// contact with TrustUnknown; trust advances only through verification or
	// explicit admin action. Peers are never deleted implicitly.
	PeerRecord struct {
		ServerID     string     `json:"server_id" bson:"server_id"`
		PublicKey    []byte     `json:"public_key" bson:"public_key"`
		Endpoint     string     `json:"endpoint" bson:"endpoint"`
		Version      string     `json:"version" bson:"version"`
		Capabilities []string   `json:"capabilities" bson:"capabilities"`
		TrustLevel   TrustLevel `json:"trust_level" bson:"trust_level"`
		HealthScore  float64    `json:"health_score" bson:"health_score"`
		LastSeen     time.Time  `json:"last_seen" bson:"last_seen"`
		CreatedAt    time.Time  `json:"created_at" bson:"created_at"`
	}

	// TrustRelationship is a directed vouch edge between peers. Used for
	// trust-graph traversal only, never for routing.
	TrustRelationship struct {
		FromPeer  string    `json:"from_peer" bson:"from_peer"`
		ToPeer    string    `json:"to_peer" bson:"to_peer"`
		Note      string    `json:"note,omitempty" bson:"note,omitempty"`
		CreatedAt time.Time `json:"created_at" bson:"created_at"`
	}

	PeerStats struct {
		Total     int64            `json:"total"`
		ByTrust   map[string]int64 `json:"by_trust"`
		AvgHealth float64          `json:"avg_health"`
	}
)
