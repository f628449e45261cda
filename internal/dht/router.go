package dht

import (
	"context"
	"sync"
	"time"

	"voidnode/internal/utils/log"

	"go.uber.org/zap"
)

type (
	// RPC is the slice of the wire client the router needs; tests swap in a
	// fake network.
	RPC interface {
		Announce(ctx context.Context, endpoint string, self AnnounceRequest) (bool, error)
		FindNode(ctx context.Context, endpoint string, target NodeID, self AnnounceRequest) ([]Node, error)
		Ping(ctx context.Context, endpoint, fromServerID string) error
	}

	// Router owns the routing table and drives lookups, bootstrap and
	// periodic refresh. Lookup state machine per queried node:
	// querying -> (respond | timeout) -> done.
	Router struct {
		self           Node
		table          *Table
		rpc            RPC
		bootstrapNodes []string
		roundTimeout   time.Duration
		maxRounds      int

		// OnObserve fires whenever a remote node makes itself known, either
		// by announcing or as the sender of a find-node. The orchestrator
		// hooks this to upsert peer records.
		OnObserve func(Node)

		startedAt time.Time
	}

	Status struct {
		NodeID    NodeID `json:"node_id"`
		Nodes     int    `json:"nodes"`
		Buckets   int    `json:"buckets"`
		Bootstrap int    `json:"bootstrap_nodes"`
	}
)

func NewRouter(self Node, rpc RPC, bootstrapNodes []string) *Router {
	return &Router{
		self:           self,
		table:          NewTable(self.ID),
		rpc:            rpc,
		bootstrapNodes: bootstrapNodes,
		roundTimeout:   5 * time.Second,
		maxRounds:      16,
		startedAt:      time.Now(),
	}
}

func (r *Router) Table() *Table { return r.table }

func (r *Router) Self() Node { return r.self }

func (r *Router) selfAnnounce() AnnounceRequest {
	return AnnounceRequest{
		NodeID:       r.self.ID,
		ServerID:     r.self.ServerID,
		Endpoint:     r.self.Endpoint,
		PublicKey:    r.self.PublicKey,
		Capabilities: r.self.Capabilities,
	}
}

// ObservePeer records a node that contacted us. This is the explicit form of
// the announce-as-side-effect-of-find-node behavior, so it can be tested on
// its own.
func (r *Router) ObservePeer(n Node) bool {
	if n.ID == r.self.ID {
		return false
	}
	n.LastContacted = time.Now()

	switch r.table.Insert(n) {
	case InsertedNew:
		if r.OnObserve != nil {
			r.OnObserve(n)
		}
		return true
	case Refreshed:
		return true
	case BucketFull:
		// Probe the candidate; a live newcomer displaces the stalest entry.
		ctx, cancel := context.WithTimeout(context.Background(), r.roundTimeout)
		defer cancel()
		if err := r.rpc.Ping(ctx, n.Endpoint, r.self.ServerID); err != nil {
			return false
		}
		r.table.ReplaceOldest(n)
		if r.OnObserve != nil {
			r.OnObserve(n)
		}
		return true
	}
	return false
}

// HandleAnnounce processes an inbound announce and reports whether the node
// ended up in the table.
func (r *Router) HandleAnnounce(req AnnounceRequest) bool {
	return r.ObservePeer(Node{
		ID:           req.NodeID,
		ServerID:     req.ServerID,
		Endpoint:     req.Endpoint,
		PublicKey:    req.PublicKey,
		Capabilities: req.Capabilities,
	})
}

// HandleFindNode answers with the K closest local nodes and observes the
// requester as a side effect.
func (r *Router) HandleFindNode(req FindNodeRequest) []Node {
	if req.From.ServerID != "" {
		r.ObservePeer(Node{
			ID:           req.From.NodeID,
			ServerID:     req.From.ServerID,
			Endpoint:     req.From.Endpoint,
			PublicKey:    req.From.PublicKey,
			Capabilities: req.From.Capabilities,
		})
	}
	return r.table.Closest(req.Target, K)
}

// FindNode runs the iterative Kademlia lookup: query the Alpha closest known
// nodes in parallel, merge anything closer, repeat until no progress or the
// round cap. Slow nodes degrade the result, never block it.
func (r *Router) FindNode(ctx context.Context, target NodeID) []Node {
	shortlist := r.table.Closest(target, K)
	queried := map[NodeID]bool{r.self.ID: true}

	for round := 0; round < r.maxRounds; round++ {
		var batch []Node
		for _, n := range shortlist {
			if !queried[n.ID] {
				batch = append(batch, n)
				if len(batch) == Alpha {
					break
				}
			}
		}
		if len(batch) == 0 {
			break
		}

		results := r.queryRound(ctx, batch, target)
		for _, n := range batch {
			queried[n.ID] = true
		}

		progressed := false
		seen := make(map[NodeID]bool, len(shortlist))
		for _, n := range shortlist {
			seen[n.ID] = true
		}
		for _, n := range results {
			if n.ID == r.self.ID || seen[n.ID] {
				continue
			}
			seen[n.ID] = true
			shortlist = append(shortlist, n)
			r.table.Insert(n)
			progressed = true
		}
		if !progressed {
			break
		}

		SortByDistance(shortlist, target)
		if len(shortlist) > K {
			shortlist = shortlist[:K]
		}
	}

	SortByDistance(shortlist, target)
	if len(shortlist) > K {
		shortlist = shortlist[:K]
	}
	return shortlist
}

// queryRound fans out one lookup round and gathers whatever responds within
// the round timeout.
func (r *Router) queryRound(ctx context.Context, batch []Node, target NodeID) []Node {
	ctx, cancel := context.WithTimeout(ctx, r.roundTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		merged  []Node
		wg      sync.WaitGroup
		selfReq = r.selfAnnounce()
	)
	for _, n := range batch {
		wg.Add(1)
		go func(n Node) {
			defer wg.Done()
			nodes, err := r.rpc.FindNode(ctx, n.Endpoint, target, selfReq)
			if err != nil {
				log.Debug("find-node query failed",
					zap.String("endpoint", n.Endpoint), zap.Error(err))
				return
			}
			mu.Lock()
			merged = append(merged, nodes...)
			mu.Unlock()
		}(n)
	}
	wg.Wait()
	return merged
}

// Bootstrap announces to each configured bootstrap node, then looks up our
// own ID to populate nearby buckets.
func (r *Router) Bootstrap(ctx context.Context) int {
	contacted := 0
	for _, endpoint := range r.bootstrapNodes {
		if endpoint == r.self.Endpoint {
			continue
		}
		if _, err := r.rpc.Announce(ctx, endpoint, r.selfAnnounce()); err != nil {
			log.Warn("bootstrap announce failed",
				zap.String("endpoint", endpoint), zap.Error(err))
			continue
		}
		contacted++
		nodes, err := r.rpc.FindNode(ctx, endpoint, r.self.ID, r.selfAnnounce())
		if err != nil {
			continue
		}
		for _, n := range nodes {
			if n.ID != r.self.ID {
				n.LastContacted = time.Now()
				r.table.Insert(n)
			}
		}
	}

	if contacted > 0 {
		r.FindNode(ctx, r.self.ID)
	}
	log.Info("dht bootstrap complete",
		zap.Int("contacted", contacted), zap.Int("nodes", r.table.Size()))
	return contacted
}

// RefreshLoop re-queries buckets that have gone quiet and drains nodes that
// no longer answer probes. Blocks until ctx is done.
func (r *Router) RefreshLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refreshOnce(ctx, interval)
		}
	}
}

func (r *Router) refreshOnce(ctx context.Context, interval time.Duration) {
	for _, target := range r.table.StaleBuckets(time.Now().Add(-interval)) {
		r.FindNode(ctx, target)
	}
	for _, n := range r.table.All() {
		if time.Since(n.LastContacted) < 2*interval {
			continue
		}
		pingCtx, cancel := context.WithTimeout(ctx, r.roundTimeout)
		err := r.rpc.Ping(pingCtx, n.Endpoint, r.self.ServerID)
		cancel()
		if err != nil {
			r.table.Remove(n.ID)
			log.Debug("drained stale dht node", zap.String("server_id", n.ServerID))
		} else {
			n.LastContacted = time.Now()
			r.table.Insert(n)
		}
	}
}

func (r *Router) Status() Status {
	return Status{
		NodeID:    r.self.ID,
		Nodes:     r.table.Size(),
		Buckets:   r.table.BucketCount(),
		Bootstrap: len(r.bootstrapNodes),
	}
}
