package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voidnode/internal/identity"
	"voidnode/internal/model"
	"voidnode/internal/service/federation"
	"voidnode/internal/utils/log"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrBadManifest rejects an export whose detached signature does not
	// verify against the advertised source key.
	ErrBadManifest = errors.New("sync: export manifest signature invalid")
)

type (
	// MemoryStore is the slice of the memory repository the engine needs.
	MemoryStore interface {
		Insert(ctx context.Context, rec *model.MemoryRecord) error
		ExistsByHash(ctx context.Context, contentHash string) (bool, error)
		Find(ctx context.Context, filters model.MemoryFilters) ([]model.MemoryRecord, error)
		Count(ctx context.Context) (int64, error)
	}

	// StateStore persists per-peer sync cursors.
	StateStore interface {
		Get(ctx context.Context, peerID string) (*model.SyncState, error)
		Upsert(ctx context.Context, state *model.SyncState) error
		All(ctx context.Context) ([]model.SyncState, error)
	}

	// PeerResolver looks peers up in the orchestrator's registry.
	PeerResolver interface {
		GetPeer(ctx context.Context, serverID string) (*model.PeerRecord, error)
	}

	// Engine exports and imports content-addressed memory records between
	// peers, with per-peer delta tracking.
	Engine struct {
		id     *identity.Identity
		store  MemoryStore
		states StateStore
		peers  PeerResolver
		events *federation.EventBus
		fetch  *exportFetcher
	}

	SyncStats struct {
		LocalMemories int64 `json:"local_memories"`
		PeersSynced   int   `json:"peers_synced"`
		TotalImported int64 `json:"total_imported"`
		TotalSkipped  int64 `json:"total_skipped"`
	}
)

func NewEngine(id *identity.Identity, store MemoryStore, states StateStore, peers PeerResolver, events *federation.EventBus, timeout time.Duration) *Engine {
	return &Engine{
		id:     id,
		store:  store,
		states: states,
		peers:  peers,
		events: events,
		fetch:  newExportFetcher(timeout),
	}
}

// Export gathers records matching the filters, wraps them in a manifest and
// signs it, so importers can verify provenance without contacting us again.
func (e *Engine) Export(ctx context.Context, filters model.MemoryFilters) (*model.MemoryExport, error) {
	records, err := e.store.Find(ctx, filters)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].ContentHash == "" {
			records[i].ContentHash = model.HashContent(records[i].Category, records[i].Content)
		}
		if records[i].Origin == "" {
			records[i].Origin = e.id.ServerID
		}
	}

	manifest := model.MemoryExportManifest{
		SourceServerID:  e.id.ServerID,
		SourcePublicKey: e.id.PublicKey,
		ExportedAt:      time.Now().UTC(),
		Count:           len(records),
		Filters:         describeFilters(filters),
	}
	sig, err := e.id.Sign(manifest)
	if err != nil {
		return nil, err
	}
	return &model.MemoryExport{
		Manifest:  manifest,
		Signature: sig,
		Records:   records,
	}, nil
}

// VerifyExport checks the manifest signature and that the source id matches
// the advertised key.
func (e *Engine) VerifyExport(exp *model.MemoryExport) error {
	if identity.DeriveServerID(exp.Manifest.SourcePublicKey) != exp.Manifest.SourceServerID {
		return ErrBadManifest
	}
	if !identity.Verify(exp.Manifest, exp.Signature, exp.Manifest.SourcePublicKey) {
		return ErrBadManifest
	}
	return nil
}

// Import verifies and absorbs an export. With SkipDuplicates, records whose
// content hash is already stored are skipped; with DryRun, nothing mutates
// and the result only reports what would happen.
func (e *Engine) Import(ctx context.Context, exp *model.MemoryExport, opts model.ImportOptions) (*model.ImportResult, error) {
	if err := e.VerifyExport(exp); err != nil {
		return nil, err
	}

	result := &model.ImportResult{DryRun: opts.DryRun}
	for i := range exp.Records {
		rec := exp.Records[i]
		if rec.ContentHash == "" {
			rec.ContentHash = model.HashContent(rec.Category, rec.Content)
		}

		if opts.SkipDuplicates {
			exists, err := e.store.ExistsByHash(ctx, rec.ContentHash)
			if err != nil {
				return nil, err
			}
			if exists {
				result.Skipped++
				continue
			}
		}
		if opts.DryRun {
			result.Imported++
			continue
		}

		if rec.Origin == "" {
			rec.Origin = exp.Manifest.SourceServerID
		}
		rec.ID = uuid.NewString()
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = time.Now().UTC()
		}
		if err := e.store.Insert(ctx, &rec); err != nil {
			return nil, err
		}
		result.Imported++
	}

	if !opts.DryRun {
		if err := e.advanceState(ctx, exp.Manifest.SourceServerID, result, lastHash(exp.Records)); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// ImportRecords absorbs records that arrived over an already-authenticated
// secure channel (memory_share messages); duplicates are always skipped.
func (e *Engine) ImportRecords(ctx context.Context, origin string, records []model.MemoryRecord) (int, int, error) {
	imported, skipped := 0, 0
	for i := range records {
		rec := records[i]
		if rec.ContentHash == "" {
			rec.ContentHash = model.HashContent(rec.Category, rec.Content)
		}
		exists, err := e.store.ExistsByHash(ctx, rec.ContentHash)
		if err != nil {
			return imported, skipped, err
		}
		if exists {
			skipped++
			continue
		}
		if rec.Origin == "" {
			rec.Origin = origin
		}
		rec.ID = uuid.NewString()
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = time.Now().UTC()
		}
		if err := e.store.Insert(ctx, &rec); err != nil {
			return imported, skipped, err
		}
		imported++
	}
	return imported, skipped, nil
}

// DeltaSync pulls everything the peer exported since our last successful
// sync with it, imports the delta and advances the cursor.
func (e *Engine) DeltaSync(ctx context.Context, peerID string) (*model.ImportResult, error) {
	p, err := e.peers.GetPeer(ctx, peerID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, federation.ErrUnknownPeer
	}

	filters := model.MemoryFilters{}
	state, err := e.states.Get(ctx, peerID)
	if err != nil {
		return nil, err
	}
	if state != nil && !state.LastSyncedAt.IsZero() {
		since := state.LastSyncedAt
		filters.Since = &since
	}

	exp, err := e.fetch.FetchExport(ctx, p.Endpoint, filters)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", federation.ErrPeerUnreachable, err)
	}

	result, err := e.Import(ctx, exp, model.ImportOptions{SkipDuplicates: true})
	if err != nil {
		return nil, err
	}

	e.events.Publish(federation.Event{
		Type:     federation.EventSyncCompleted,
		ServerID: peerID,
		Detail:   fmt.Sprintf("imported=%d skipped=%d", result.Imported, result.Skipped),
	})
	log.Info("delta sync complete",
		zap.String("peer", peerID),
		zap.Int("imported", result.Imported), zap.Int("skipped", result.Skipped))
	return result, nil
}

// PreviewImport fetches a peer's export and reports what a real import would
// do, without mutating anything.
func (e *Engine) PreviewImport(ctx context.Context, peerID string, filters model.MemoryFilters) (*model.ImportResult, error) {
	p, err := e.peers.GetPeer(ctx, peerID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, federation.ErrUnknownPeer
	}
	exp, err := e.fetch.FetchExport(ctx, p.Endpoint, filters)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", federation.ErrPeerUnreachable, err)
	}
	return e.Import(ctx, exp, model.ImportOptions{SkipDuplicates: true, DryRun: true})
}

func (e *Engine) advanceState(ctx context.Context, peerID string, result *model.ImportResult, hash string) error {
	state, err := e.states.Get(ctx, peerID)
	if err != nil {
		return err
	}
	if state == nil {
		state = &model.SyncState{PeerID: peerID}
	}
	state.LastSyncedAt = time.Now().UTC()
	if hash != "" {
		state.LastHash = hash
	}
	state.Imported += int64(result.Imported)
	state.Skipped += int64(result.Skipped)
	return e.states.Upsert(ctx, state)
}

func (e *Engine) States(ctx context.Context) ([]model.SyncState, error) {
	return e.states.All(ctx)
}

func (e *Engine) Stats(ctx context.Context) (*SyncStats, error) {
	count, err := e.store.Count(ctx)
	if err != nil {
		return nil, err
	}
	states, err := e.states.All(ctx)
	if err != nil {
		return nil, err
	}
	stats := &SyncStats{LocalMemories: count, PeersSynced: len(states)}
	for _, s := range states {
		stats.TotalImported += s.Imported
		stats.TotalSkipped += s.Skipped
	}
	return stats, nil
}

func lastHash(records []model.MemoryRecord) string {
	if len(records) == 0 {
		return ""
	}
	return records[len(records)-1].ContentHash
}

func describeFilters(f model.MemoryFilters) string {
	desc := ""
	if f.Category != "" {
		desc += "category=" + f.Category + " "
	}
	if f.Stage != "" {
		desc += "stage=" + f.Stage + " "
	}
	if len(f.Tags) > 0 {
		desc += fmt.Sprintf("tags=%v ", f.Tags)
	}
	if f.MinImportance > 0 {
		desc += fmt.Sprintf("min_importance=%.2f ", f.MinImportance)
	}
	if f.Since != nil {
		desc += "since=" + f.Since.UTC().Format(time.RFC3339) + " "
	}
	if f.Limit > 0 {
		desc += fmt.Sprintf("limit=%d ", f.Limit)
	}
	if desc == "" {
		return "all"
	}
	return desc[:len(desc)-1]
}
