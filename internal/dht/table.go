package dht

import (
	"sort"
	"sync"
	"time"
)

const (
	// K is the bucket capacity and the answer size for find-node.
	K = 20
	// Alpha is the lookup fan-out per round.
	Alpha = 3
)

type (
	// Node is a remote DHT participant.
	Node struct {
		ID            NodeID    `json:"node_id"`
		ServerID      string    `json:"server_id"`
		Endpoint      string    `json:"endpoint"`
		PublicKey     []byte    `json:"public_key"`
		Capabilities  []string  `json:"capabilities,omitempty"`
		LastContacted time.Time `json:"last_contacted"`
	}

	// bucket holds up to K nodes ordered least- to most-recently contacted.
	bucket struct {
		nodes       []Node
		lastRefresh time.Time
	}

	// Table is the k-bucket routing table. Buckets are created lazily, keyed
	// by the shared-prefix length with the local ID, so a node lives in
	// exactly one bucket.
	Table struct {
		mu      sync.RWMutex
		selfID  NodeID
		buckets map[int]*bucket
	}

	InsertResult int
)

const (
	InsertedNew InsertResult = iota
	Refreshed
	BucketFull
)

func NewTable(selfID NodeID) *Table {
	return &Table{
		selfID:  selfID,
		buckets: make(map[int]*bucket),
	}
}

// Insert adds or refreshes a node. When its bucket is full the caller decides
// what to do with the candidate (probe-and-replace via ReplaceOldest).
func (t *Table) Insert(n Node) InsertResult {
	idx := t.selfID.BucketIndex(n.ID)
	if idx < 0 {
		return Refreshed // self, never stored
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.buckets[idx]
	if b == nil {
		b = &bucket{}
		t.buckets[idx] = b
	}

	for i := range b.nodes {
		if b.nodes[i].ID == n.ID {
			b.nodes = append(append(b.nodes[:i], b.nodes[i+1:]...), n)
			b.lastRefresh = time.Now()
			return Refreshed
		}
	}

	if len(b.nodes) >= K {
		return BucketFull
	}
	b.nodes = append(b.nodes, n)
	b.lastRefresh = time.Now()
	return InsertedNew
}

// Oldest returns the least-recently-contacted node in the candidate's bucket.
func (t *Table) Oldest(candidate NodeID) (Node, bool) {
	idx := t.selfID.BucketIndex(candidate)
	t.mu.RLock()
	defer t.mu.RUnlock()
	b := t.buckets[idx]
	if b == nil || len(b.nodes) == 0 {
		return Node{}, false
	}
	return b.nodes[0], true
}

// ReplaceOldest evicts the least-recently-contacted node of the candidate's
// bucket and inserts the candidate at the tail.
func (t *Table) ReplaceOldest(n Node) {
	idx := t.selfID.BucketIndex(n.ID)
	if idx < 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.buckets[idx]
	if b == nil || len(b.nodes) == 0 {
		t.buckets[idx] = &bucket{nodes: []Node{n}, lastRefresh: time.Now()}
		return
	}
	b.nodes = append(b.nodes[1:], n)
	b.lastRefresh = time.Now()
}

// Remove drops a node, e.g. after it failed a liveness probe.
func (t *Table) Remove(id NodeID) {
	idx := t.selfID.BucketIndex(id)
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.buckets[idx]
	if b == nil {
		return
	}
	for i := range b.nodes {
		if b.nodes[i].ID == id {
			b.nodes = append(b.nodes[:i], b.nodes[i+1:]...)
			return
		}
	}
}

// Closest returns up to k nodes sorted by ascending XOR distance to target,
// ties broken by node ID ascending.
func (t *Table) Closest(target NodeID, k int) []Node {
	t.mu.RLock()
	var all []Node
	for _, b := range t.buckets {
		all = append(all, b.nodes...)
	}
	t.mu.RUnlock()

	SortByDistance(all, target)
	if len(all) > k {
		all = all[:k]
	}
	return all
}

// SortByDistance orders nodes by ascending XOR distance to target, ties
// broken by node ID ascending.
func SortByDistance(nodes []Node, target NodeID) {
	sort.Slice(nodes, func(i, j int) bool {
		di, dj := nodes[i].ID.Distance(target), nodes[j].ID.Distance(target)
		if di == dj {
			return nodes[i].ID.Less(nodes[j].ID)
		}
		return di.Less(dj)
	})
}

// Size counts nodes across all buckets.
func (t *Table) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, b := range t.buckets {
		n += len(b.nodes)
	}
	return n
}

// All returns a snapshot of every known node.
func (t *Table) All() []Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var all []Node
	for _, b := range t.buckets {
		all = append(all, b.nodes...)
	}
	return all
}

// StaleBuckets lists buckets that produced no traffic since the cutoff,
// with a sample node ID in each bucket's range for re-querying.
func (t *Table) StaleBuckets(cutoff time.Time) []NodeID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var targets []NodeID
	for _, b := range t.buckets {
		if b.lastRefresh.Before(cutoff) && len(b.nodes) > 0 {
			targets = append(targets, b.nodes[0].ID)
		}
	}
	return targets
}

// BucketCount reports how many buckets exist.
func (t *Table) BucketCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.buckets)
}
