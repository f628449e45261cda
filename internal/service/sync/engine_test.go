package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"voidnode/internal/identity"
	"voidnode/internal/model"
	"voidnode/internal/service/federation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMemoryStore keeps records in a slice and indexes content hashes.
type fakeMemoryStore struct {
	records []model.MemoryRecord
	hashes  map[string]bool
}

func newFakeMemoryStore() *fakeMemoryStore {
	return &fakeMemoryStore{hashes: make(map[string]bool)}
}

func (f *fakeMemoryStore) Insert(ctx context.Context, rec *model.MemoryRecord) error {
	f.records = append(f.records, *rec)
	f.hashes[rec.ContentHash] = true
	return nil
}

func (f *fakeMemoryStore) ExistsByHash(ctx context.Context, contentHash string) (bool, error) {
	return f.hashes[contentHash], nil
}

func (f *fakeMemoryStore) Find(ctx context.Context, filters model.MemoryFilters) ([]model.MemoryRecord, error) {
	var out []model.MemoryRecord
	for _, r := range f.records {
		if filters.Category != "" && r.Category != filters.Category {
			continue
		}
		if filters.Since != nil && !r.CreatedAt.After(*filters.Since) {
			continue
		}
		out = append(out, r)
		if filters.Limit > 0 && int64(len(out)) == filters.Limit {
			break
		}
	}
	return out, nil
}

func (f *fakeMemoryStore) Count(ctx context.Context) (int64, error) {
	return int64(len(f.records)), nil
}

type fakeStateStore struct {
	states map[string]model.SyncState
}

func newFakeStateStore() *fakeStateStore {
	return &fakeStateStore{states: make(map[string]model.SyncState)}
}

func (f *fakeStateStore) Get(ctx context.Context, peerID string) (*model.SyncState, error) {
	if s, ok := f.states[peerID]; ok {
		return &s, nil
	}
	return nil, nil
}

func (f *fakeStateStore) Upsert(ctx context.Context, state *model.SyncState) error {
	f.states[state.PeerID] = *state
	return nil
}

func (f *fakeStateStore) All(ctx context.Context) ([]model.SyncState, error) {
	var out []model.SyncState
	for _, s := range f.states {
		out = append(out, s)
	}
	return out, nil
}

type fakeResolver struct {
	peers map[string]*model.PeerRecord
}

func (f *fakeResolver) GetPeer(ctx context.Context, serverID string) (*model.PeerRecord, error) {
	return f.peers[serverID], nil
}

func newTestIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	id, err := identity.LoadOrCreate(filepath.Join(t.TempDir(), "identity.json"))
	require.NoError(t, err)
	return id
}

func newTestEngine(t *testing.T) (*Engine, *fakeMemoryStore, *fakeStateStore, *fakeResolver) {
	t.Helper()
	store := newFakeMemoryStore()
	states := newFakeStateStore()
	resolver := &fakeResolver{peers: make(map[string]*model.PeerRecord)}
	engine := NewEngine(newTestIdentity(t), store, states, resolver, federation.NewEventBus(), 5*time.Second)
	return engine, store, states, resolver
}

func seedRecords(t *testing.T, store *fakeMemoryStore, specs ...model.MemoryRecord) {
	t.Helper()
	for i := range specs {
		rec := specs[i]
		if rec.ContentHash == "" {
			rec.ContentHash = model.HashContent(rec.Category, rec.Content)
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = time.Now().UTC()
		}
		require.NoError(t, store.Insert(context.Background(), &rec))
	}
}

func TestExportSignsManifest(t *testing.T) {
	engine, store, _, _ := newTestEngine(t)
	seedRecords(t, store,
		model.MemoryRecord{ID: "m1", Category: "emergence", Content: "first"},
		model.MemoryRecord{ID: "m2", Category: "dialogue", Content: "second"},
	)

	exp, err := engine.Export(context.Background(), model.MemoryFilters{})
	require.NoError(t, err)
	assert.Equal(t, 2, exp.Manifest.Count)
	assert.Len(t, exp.Records, 2)

	require.NoError(t, engine.VerifyExport(exp))

	// Every exported record carries a content hash and an origin.
	for _, r := range exp.Records {
		assert.NotEmpty(t, r.ContentHash)
		assert.NotEmpty(t, r.Origin)
	}
}

func TestExportHonorsFilters(t *testing.T) {
	engine, store, _, _ := newTestEngine(t)
	for i := 0; i < 8; i++ {
		category := "emergence"
		if i%2 == 1 {
			category = "dialogue"
		}
		seedRecords(t, store, model.MemoryRecord{
			Category: category,
			Content:  string(rune('a' + i)),
		})
	}

	exp, err := engine.Export(context.Background(), model.MemoryFilters{Category: "emergence", Limit: 5})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(exp.Records), 5)
	for _, r := range exp.Records {
		assert.Equal(t, "emergence", r.Category)
	}
	assert.Contains(t, exp.Manifest.Filters, "category=emergence")
}

func TestVerifyExportRejectsTampering(t *testing.T) {
	engine, store, _, _ := newTestEngine(t)
	seedRecords(t, store, model.MemoryRecord{Category: "emergence", Content: "first"})

	exp, err := engine.Export(context.Background(), model.MemoryFilters{})
	require.NoError(t, err)

	tampered := *exp
	tampered.Manifest.Count = 99
	assert.ErrorIs(t, engine.VerifyExport(&tampered), ErrBadManifest)

	forged := *exp
	forged.Manifest.SourceServerID = "void-aaa11111"
	assert.ErrorIs(t, engine.VerifyExport(&forged), ErrBadManifest)
}

func TestImportIsIdempotent(t *testing.T) {
	source, sourceStore, _, _ := newTestEngine(t)
	seedRecords(t, sourceStore,
		model.MemoryRecord{Category: "emergence", Content: "first"},
		model.MemoryRecord{Category: "emergence", Content: "second"},
	)
	exp, err := source.Export(context.Background(), model.MemoryFilters{})
	require.NoError(t, err)

	dest, destStore, _, _ := newTestEngine(t)

	first, err := dest.Import(context.Background(), exp, model.ImportOptions{SkipDuplicates: true})
	require.NoError(t, err)
	assert.Equal(t, 2, first.Imported)
	assert.Equal(t, 0, first.Skipped)

	second, err := dest.Import(context.Background(), exp, model.ImportOptions{SkipDuplicates: true})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Imported)
	assert.Equal(t, 2, second.Skipped)

	assert.Len(t, destStore.records, 2)
}

func TestImportStampsOriginAndFreshIDs(t *testing.T) {
	source, sourceStore, _, _ := newTestEngine(t)
	seedRecords(t, sourceStore, model.MemoryRecord{ID: "remote-id", Category: "emergence", Content: "first"})
	exp, err := source.Export(context.Background(), model.MemoryFilters{})
	require.NoError(t, err)

	dest, destStore, _, _ := newTestEngine(t)
	_, err = dest.Import(context.Background(), exp, model.ImportOptions{})
	require.NoError(t, err)

	require.Len(t, destStore.records, 1)
	got := destStore.records[0]
	assert.NotEqual(t, "remote-id", got.ID)
	assert.Equal(t, source.id.ServerID, got.Origin)
}

func TestDryRunDoesNotMutate(t *testing.T) {
	source, sourceStore, _, _ := newTestEngine(t)
	seedRecords(t, sourceStore, model.MemoryRecord{Category: "emergence", Content: "first"})
	exp, err := source.Export(context.Background(), model.MemoryFilters{})
	require.NoError(t, err)

	dest, destStore, destStates, _ := newTestEngine(t)
	result, err := dest.Import(context.Background(), exp, model.ImportOptions{SkipDuplicates: true, DryRun: true})
	require.NoError(t, err)

	assert.True(t, result.DryRun)
	assert.Equal(t, 1, result.Imported)
	assert.Empty(t, destStore.records)
	assert.Empty(t, destStates.states)
}

func TestImportRejectsBadManifest(t *testing.T) {
	source, sourceStore, _, _ := newTestEngine(t)
	seedRecords(t, sourceStore, model.MemoryRecord{Category: "emergence", Content: "first"})
	exp, err := source.Export(context.Background(), model.MemoryFilters{})
	require.NoError(t, err)
	exp.Signature[0] ^= 0xff

	dest, destStore, _, _ := newTestEngine(t)
	_, err = dest.Import(context.Background(), exp, model.ImportOptions{})
	assert.ErrorIs(t, err, ErrBadManifest)
	assert.Empty(t, destStore.records)
}

func TestImportRecordsAlwaysDedups(t *testing.T) {
	engine, store, _, _ := newTestEngine(t)
	records := []model.MemoryRecord{
		{Category: "emergence", Content: "first"},
		{Category: "emergence", Content: "first"},
	}

	imported, skipped, err := engine.ImportRecords(context.Background(), "void-bbb22222", records)
	require.NoError(t, err)
	assert.Equal(t, 1, imported)
	assert.Equal(t, 1, skipped)
	require.Len(t, store.records, 1)
	assert.Equal(t, "void-bbb22222", store.records[0].Origin)
}

// exportServer serves a source engine's signed exports the way a live node
// would, honoring the filters in the request body.
func exportServer(t *testing.T, source *Engine) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req exportRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		exp, err := source.Export(r.Context(), req.Filters)
		require.NoError(t, err)
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(exp))
	}))
}

func TestDeltaSyncAdvancesCursor(t *testing.T) {
	source, sourceStore, _, _ := newTestEngine(t)
	seedRecords(t, sourceStore,
		model.MemoryRecord{Category: "emergence", Content: "first", CreatedAt: time.Now().UTC().Add(-time.Hour)},
	)
	srv := exportServer(t, source)
	defer srv.Close()

	dest, destStore, destStates, resolver := newTestEngine(t)
	peerID := source.id.ServerID
	resolver.peers[peerID] = &model.PeerRecord{ServerID: peerID, Endpoint: srv.URL}

	result, err := dest.DeltaSync(context.Background(), peerID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Imported)
	require.Len(t, destStore.records, 1)

	state, err := destStates.Get(context.Background(), peerID)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.False(t, state.LastSyncedAt.IsZero())
	assert.Equal(t, int64(1), state.Imported)

	// Second sync sees nothing newer than the cursor.
	again, err := dest.DeltaSync(context.Background(), peerID)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Imported)
	assert.Len(t, destStore.records, 1)
}

func TestDeltaSyncPicksUpNewRecords(t *testing.T) {
	source, sourceStore, _, _ := newTestEngine(t)
	seedRecords(t, sourceStore,
		model.MemoryRecord{Category: "emergence", Content: "old", CreatedAt: time.Now().UTC().Add(-time.Hour)},
	)
	srv := exportServer(t, source)
	defer srv.Close()

	dest, destStore, _, resolver := newTestEngine(t)
	peerID := source.id.ServerID
	resolver.peers[peerID] = &model.PeerRecord{ServerID: peerID, Endpoint: srv.URL}

	_, err := dest.DeltaSync(context.Background(), peerID)
	require.NoError(t, err)

	seedRecords(t, sourceStore,
		model.MemoryRecord{Category: "emergence", Content: "new", CreatedAt: time.Now().UTC().Add(time.Minute)},
	)
	result, err := dest.DeltaSync(context.Background(), peerID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Imported)
	assert.Len(t, destStore.records, 2)
}

func TestDeltaSyncUnknownPeer(t *testing.T) {
	dest, _, _, _ := newTestEngine(t)
	_, err := dest.DeltaSync(context.Background(), "void-ffffffff")
	assert.ErrorIs(t, err, federation.ErrUnknownPeer)
}

func TestDeltaSyncUnreachablePeer(t *testing.T) {
	dest, _, _, resolver := newTestEngine(t)
	resolver.peers["void-aaa11111"] = &model.PeerRecord{
		ServerID: "void-aaa11111",
		Endpoint: "http://127.0.0.1:1",
	}
	_, err := dest.DeltaSync(context.Background(), "void-aaa11111")
	assert.ErrorIs(t, err, federation.ErrPeerUnreachable)
}

func TestPreviewImportDoesNotMutate(t *testing.T) {
	source, sourceStore, _, _ := newTestEngine(t)
	seedRecords(t, sourceStore, model.MemoryRecord{Category: "emergence", Content: "first"})
	srv := exportServer(t, source)
	defer srv.Close()

	dest, destStore, destStates, resolver := newTestEngine(t)
	peerID := source.id.ServerID
	resolver.peers[peerID] = &model.PeerRecord{ServerID: peerID, Endpoint: srv.URL}

	result, err := dest.PreviewImport(context.Background(), peerID, model.MemoryFilters{})
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Equal(t, 1, result.Imported)
	assert.Empty(t, destStore.records)
	assert.Empty(t, destStates.states)
}

func TestStatsAggregatesStates(t *testing.T) {
	engine, store, states, _ := newTestEngine(t)
	seedRecords(t, store,
		model.MemoryRecord{Category: "emergence", Content: "first"},
		model.MemoryRecord{Category: "emergence", Content: "second"},
	)
	require.NoError(t, states.Upsert(context.Background(), &model.SyncState{PeerID: "void-aaa11111", Imported: 3, Skipped: 1}))
	require.NoError(t, states.Upsert(context.Background(), &model.SyncState{PeerID: "void-bbb22222", Imported: 2}))

	stats, err := engine.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.LocalMemories)
	assert.Equal(t, 2, stats.PeersSynced)
	assert.Equal(t, int64(5), stats.TotalImported)
	assert.Equal(t, int64(1), stats.TotalSkipped)
}

func TestDescribeFilters(t *testing.T) {
	assert.Equal(t, "all", describeFilters(model.MemoryFilters{}))
	since := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	desc := describeFilters(model.MemoryFilters{Category: "emergence", Since: &since, Limit: 5})
	assert.Contains(t, desc, "category=emergence")
	assert.Contains(t, desc, "since=2026-01-02T00:00:00Z")
	assert.Contains(t, desc, "limit=5")
}
