package federation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"voidnode/internal/identity"
	"voidnode/internal/model"
	redisSvc "voidnode/internal/service/redis"
	"voidnode/internal/utils/log"

	"go.uber.org/zap"
)

type (
	// PeerStore is the durable side of the trust and health store. Satisfied
	// by repository/peer; tests use an in-memory fake.
	PeerStore interface {
		Upsert(ctx context.Context, p *model.PeerRecord) error
		Get(ctx context.Context, serverID string) (*model.PeerRecord, error)
		List(ctx context.Context, trust model.TrustLevel) ([]model.PeerRecord, error)
		Delete(ctx context.Context, serverID string) (bool, error)
		UpdateTrustLevel(ctx context.Context, serverID string, level model.TrustLevel) error
		UpdateHealth(ctx context.Context, serverID string, score float64, lastSeen time.Time) error
		AddTrustEdge(ctx context.Context, edge *model.TrustRelationship) error
		TrustedBy(ctx context.Context, fromPeer string) ([]model.TrustRelationship, error)
		TrustGraph(ctx context.Context, fromPeer string, maxDepth int) ([]string, error)
		Stats(ctx context.Context) (*model.PeerStats, error)
	}

	// MemoryReader answers memory_query messages.
	MemoryReader interface {
		Find(ctx context.Context, filters model.MemoryFilters) ([]model.MemoryRecord, error)
	}

	// MemoryImporter absorbs memory_share payloads.
	MemoryImporter interface {
		ImportRecords(ctx context.Context, origin string, records []model.MemoryRecord) (int, int, error)
	}

	Options struct {
		Version        string
		Endpoint       string
		Capabilities   []string
		Plugins        []string
		RequestTimeout time.Duration
		ChallengeTTL   time.Duration
		HealthWorkers  int
	}

	// Service is the peer orchestrator: it owns the identity, keeps the hot
	// peer registry, runs challenge-response verification, ferries secure
	// messages and drives the periodic health sweep.
	Service struct {
		id       *identity.Identity
		store    PeerStore
		cache    *redisSvc.RedisService
		memories MemoryReader
		importer MemoryImporter
		opts     Options

		transport *transport
		events    *EventBus

		mu       sync.RWMutex
		registry map[string]*model.PeerRecord

		startedAt time.Time
	}
)

func NewService(id *identity.Identity, store PeerStore, cache *redisSvc.RedisService, opts Options) *Service {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.ChallengeTTL <= 0 {
		opts.ChallengeTTL = 2 * time.Minute
	}
	if opts.HealthWorkers <= 0 {
		opts.HealthWorkers = 4
	}
	return &Service{
		id:        id,
		store:     store,
		cache:     cache,
		opts:      opts,
		transport: newTransport(opts.RequestTimeout),
		events:    NewEventBus(),
		registry:  make(map[string]*model.PeerRecord),
		startedAt: time.Now(),
	}
}

// AttachMemory wires the memory query/import collaborators after
// construction; the sync engine is built after the orchestrator.
func (s *Service) AttachMemory(reader MemoryReader, importer MemoryImporter) {
	s.memories = reader
	s.importer = importer
}

func (s *Service) Identity() *identity.Identity { return s.id }

func (s *Service) Events() *EventBus { return s.events }

func (s *Service) Uptime() time.Duration { return time.Since(s.startedAt) }

// Manifest is the public discovery document. Pure; no side effects.
func (s *Service) Manifest() model.ServerManifest {
	return model.ServerManifest{
		ServerID:     s.id.ServerID,
		PublicKey:    s.id.PublicKey,
		Endpoint:     s.opts.Endpoint,
		Version:      s.opts.Version,
		Capabilities: s.opts.Capabilities,
		Plugins:      s.opts.Plugins,
	}
}

// LoadPeers hydrates the in-memory registry from the store at startup.
func (s *Service) LoadPeers(ctx context.Context) error {
	peers, err := s.store.List(ctx, "")
	if err != nil {
		return fmt.Errorf("load peers: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range peers {
		p := peers[i]
		s.registry[p.ServerID] = &p
	}
	log.Info("peer registry loaded", zap.Int("peers", len(peers)))
	return nil
}

// AddPeer upserts a peer from its manifest, entering at trust level unknown.
func (s *Service) AddPeer(ctx context.Context, manifest model.ServerManifest, endpoint string) (*model.PeerRecord, error) {
	if manifest.ServerID == "" || len(manifest.PublicKey) == 0 {
		return nil, fmt.Errorf("manifest missing server id or public key")
	}
	if derived := identity.DeriveServerID(manifest.PublicKey); derived != manifest.ServerID {
		return nil, fmt.Errorf("manifest server id %q does not match public key", manifest.ServerID)
	}

	rec := &model.PeerRecord{
		ServerID:     manifest.ServerID,
		PublicKey:    manifest.PublicKey,
		Endpoint:     endpoint,
		Version:      manifest.Version,
		Capabilities: manifest.Capabilities,
		TrustLevel:   model.TrustUnknown,
		HealthScore:  1.0,
		LastSeen:     time.Now().UTC(),
	}
	if err := s.store.Upsert(ctx, rec); err != nil {
		return nil, err
	}

	// Re-read so registry reflects stored trust/health for known peers.
	stored, err := s.store.Get(ctx, manifest.ServerID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		stored = rec
	}
	s.mu.Lock()
	s.registry[stored.ServerID] = stored
	s.mu.Unlock()

	s.events.Publish(Event{Type: EventPeerAdded, ServerID: stored.ServerID})
	log.Info("peer registered",
		zap.String("server_id", stored.ServerID), zap.String("endpoint", endpoint))
	return stored, nil
}

// AddPeerByEndpoint fetches a remote manifest and registers the peer.
func (s *Service) AddPeerByEndpoint(ctx context.Context, endpoint string) (*model.PeerRecord, error) {
	manifest, err := s.transport.FetchManifest(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPeerUnreachable, err)
	}
	return s.AddPeer(ctx, *manifest, endpoint)
}

// RemovePeer deletes a peer explicitly; the only way a peer ever disappears.
func (s *Service) RemovePeer(ctx context.Context, serverID string) error {
	removed, err := s.store.Delete(ctx, serverID)
	if err != nil {
		return err
	}
	if !removed {
		return ErrUnknownPeer
	}
	s.mu.Lock()
	delete(s.registry, serverID)
	s.mu.Unlock()
	s.events.Publish(Event{Type: EventPeerRemoved, ServerID: serverID})
	return nil
}

// GetPeer reads from the hot registry, falling back to the store.
func (s *Service) GetPeer(ctx context.Context, serverID string) (*model.PeerRecord, error) {
	s.mu.RLock()
	p, ok := s.registry[serverID]
	s.mu.RUnlock()
	if ok {
		copied := *p
		return &copied, nil
	}
	stored, err := s.store.Get(ctx, serverID)
	if err != nil || stored == nil {
		return stored, err
	}
	s.mu.Lock()
	s.registry[serverID] = stored
	s.mu.Unlock()
	copied := *stored
	return &copied, nil
}

func (s *Service) ListPeers(ctx context.Context, trust model.TrustLevel) ([]model.PeerRecord, error) {
	return s.store.List(ctx, trust)
}

// SetTrustLevel applies an administrative trust change.
func (s *Service) SetTrustLevel(ctx context.Context, serverID string, level model.TrustLevel) error {
	if !level.Valid() {
		return fmt.Errorf("invalid trust level %q", level)
	}
	p, err := s.GetPeer(ctx, serverID)
	if err != nil {
		return err
	}
	if p == nil {
		return ErrUnknownPeer
	}
	return s.applyTrust(ctx, serverID, level)
}

// BlockPeer demotes a peer to blocked.
func (s *Service) BlockPeer(ctx context.Context, serverID string) error {
	if err := s.SetTrustLevel(ctx, serverID, model.TrustBlocked); err != nil {
		return err
	}
	s.events.Publish(Event{Type: EventPeerBlocked, ServerID: serverID})
	return nil
}

// UnblockPeer resets a blocked peer to unknown. Prior trust is not restored:
// an unblocked peer re-verifies from scratch.
func (s *Service) UnblockPeer(ctx context.Context, serverID string) error {
	p, err := s.GetPeer(ctx, serverID)
	if err != nil {
		return err
	}
	if p == nil {
		return ErrUnknownPeer
	}
	if p.TrustLevel != model.TrustBlocked {
		return fmt.Errorf("peer %s is not blocked", serverID)
	}
	return s.applyTrust(ctx, serverID, model.TrustUnknown)
}

func (s *Service) applyTrust(ctx context.Context, serverID string, level model.TrustLevel) error {
	if err := s.store.UpdateTrustLevel(ctx, serverID, level); err != nil {
		return err
	}
	s.mu.Lock()
	if p, ok := s.registry[serverID]; ok {
		p.TrustLevel = level
	}
	s.mu.Unlock()
	log.Info("trust level changed",
		zap.String("server_id", serverID), zap.String("level", string(level)))
	return nil
}

// AddTrustRelationship records a directed vouch between two known peers.
func (s *Service) AddTrustRelationship(ctx context.Context, fromPeer, toPeer, note string) error {
	for _, id := range []string{fromPeer, toPeer} {
		p, err := s.GetPeer(ctx, id)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("%w: %s", ErrUnknownPeer, id)
		}
	}
	return s.store.AddTrustEdge(ctx, &model.TrustRelationship{
		FromPeer: fromPeer,
		ToPeer:   toPeer,
		Note:     note,
	})
}

func (s *Service) TrustedBy(ctx context.Context, fromPeer string) ([]model.TrustRelationship, error) {
	return s.store.TrustedBy(ctx, fromPeer)
}

func (s *Service) TrustGraph(ctx context.Context, fromPeer string, maxDepth int) ([]string, error) {
	return s.store.TrustGraph(ctx, fromPeer, maxDepth)
}

func (s *Service) Stats(ctx context.Context) (*model.PeerStats, error) {
	return s.store.Stats(ctx)
}

// ObserveDHTNode registers a node first seen via DHT traffic as an unknown
// peer. Hook for the router's OnObserve.
func (s *Service) ObserveDHTNode(serverID, endpoint string, publicKey []byte, capabilities []string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.RequestTimeout)
	defer cancel()
	_, err := s.AddPeer(ctx, model.ServerManifest{
		ServerID:     serverID,
		PublicKey:    publicKey,
		Capabilities: capabilities,
	}, endpoint)
	if err != nil {
		log.Debug("dht observation not recorded",
			zap.String("server_id", serverID), zap.Error(err))
	}
}
