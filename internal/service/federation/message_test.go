package federation

import (
	"context"
	"testing"
	"time"

	"voidnode/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoLinkedServices builds a and b with each other registered, so envelopes
// sealed by one can be opened by the other.
func twoLinkedServices(t *testing.T) (*Service, *Service) {
	t.Helper()
	a, _ := newTestService(t)
	b, _ := newTestService(t)
	registerPeer(t, a, b.Identity(), "http://b:9090")
	registerPeer(t, b, a.Identity(), "http://a:9090")
	return a, b
}

func TestSealAndHandlePingEcho(t *testing.T) {
	a, b := twoLinkedServices(t)
	ctx := context.Background()

	sent := model.Ping{SentAt: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	env, err := a.Seal(ctx, b.Identity().ServerID, sent)
	require.NoError(t, err)
	assert.Equal(t, a.Identity().ServerID, env.FromServerID)

	reply, err := b.HandleMessage(ctx, env)
	require.NoError(t, err)
	require.IsType(t, model.Ping{}, reply)
	assert.Equal(t, sent.SentAt, reply.(model.Ping).SentAt)
}

func TestHandleMessageRejectsTamperedSignature(t *testing.T) {
	a, b := twoLinkedServices(t)
	ctx := context.Background()

	env, err := a.Seal(ctx, b.Identity().ServerID, model.Ping{SentAt: time.Now()})
	require.NoError(t, err)
	env.Signature[0] ^= 0xff

	_, err = b.HandleMessage(ctx, env)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestHandleMessageRejectsUnknownSender(t *testing.T) {
	a, b := twoLinkedServices(t)
	ctx := context.Background()

	env, err := a.Seal(ctx, b.Identity().ServerID, model.Ping{SentAt: time.Now()})
	require.NoError(t, err)
	env.FromServerID = "void-ffffffff"

	_, err = b.HandleMessage(ctx, env)
	assert.ErrorIs(t, err, ErrUnknownPeer)
}

func TestHandleMessageRefusesBlockedSender(t *testing.T) {
	a, b := twoLinkedServices(t)
	ctx := context.Background()

	env, err := a.Seal(ctx, b.Identity().ServerID, model.Ping{SentAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, b.BlockPeer(ctx, a.Identity().ServerID))

	_, err = b.HandleMessage(ctx, env)
	assert.ErrorIs(t, err, ErrPeerBlocked)
}

func TestSealRefusesBlockedRecipient(t *testing.T) {
	a, b := twoLinkedServices(t)
	ctx := context.Background()

	require.NoError(t, a.BlockPeer(ctx, b.Identity().ServerID))
	_, err := a.Seal(ctx, b.Identity().ServerID, model.Ping{SentAt: time.Now()})
	assert.ErrorIs(t, err, ErrPeerBlocked)
}

type fakeMemoryReader struct {
	records []model.MemoryRecord
	lastQ   model.MemoryFilters
}

func (f *fakeMemoryReader) Find(ctx context.Context, filters model.MemoryFilters) ([]model.MemoryRecord, error) {
	f.lastQ = filters
	return f.records, nil
}

type fakeMemoryImporter struct {
	origin  string
	records []model.MemoryRecord
}

func (f *fakeMemoryImporter) ImportRecords(ctx context.Context, origin string, records []model.MemoryRecord) (int, int, error) {
	f.origin = origin
	f.records = records
	return len(records), 0, nil
}

func TestMemoryQueryAnsweredWithShare(t *testing.T) {
	a, b := twoLinkedServices(t)
	ctx := context.Background()

	reader := &fakeMemoryReader{records: []model.MemoryRecord{
		{ID: "m1", Category: "emergence", Content: "first light"},
	}}
	b.AttachMemory(reader, &fakeMemoryImporter{})

	env, err := a.Seal(ctx, b.Identity().ServerID, model.MemoryQuery{
		Filters: model.MemoryFilters{Category: "emergence", Limit: 5},
	})
	require.NoError(t, err)

	reply, err := b.HandleMessage(ctx, env)
	require.NoError(t, err)
	share, ok := reply.(model.MemoryShare)
	require.True(t, ok)
	require.Len(t, share.Records, 1)
	assert.Equal(t, "m1", share.Records[0].ID)
	assert.Equal(t, "emergence", reader.lastQ.Category)
}

func TestMemoryShareRoutedToImporter(t *testing.T) {
	a, b := twoLinkedServices(t)
	ctx := context.Background()

	importer := &fakeMemoryImporter{}
	b.AttachMemory(&fakeMemoryReader{}, importer)

	env, err := a.Seal(ctx, b.Identity().ServerID, model.MemoryShare{
		Records: []model.MemoryRecord{{ID: "m1", Category: "dialogue", Content: "hello"}},
	})
	require.NoError(t, err)

	reply, err := b.HandleMessage(ctx, env)
	require.NoError(t, err)
	assert.Nil(t, reply)
	assert.Equal(t, a.Identity().ServerID, importer.origin)
	assert.Len(t, importer.records, 1)
}

func TestCapabilityCheckEchoesSupported(t *testing.T) {
	a, b := twoLinkedServices(t)
	ctx := context.Background()

	env, err := a.Seal(ctx, b.Identity().ServerID, model.CapabilityCheck{Capability: "memory_sync"})
	require.NoError(t, err)
	reply, err := b.HandleMessage(ctx, env)
	require.NoError(t, err)
	assert.Equal(t, model.CapabilityCheck{Capability: "memory_sync"}, reply)

	env, err = a.Seal(ctx, b.Identity().ServerID, model.CapabilityCheck{Capability: "time_travel"})
	require.NoError(t, err)
	_, err = b.HandleMessage(ctx, env)
	assert.Error(t, err)
}

func TestHandleMessageUpdatesHealth(t *testing.T) {
	a, b := twoLinkedServices(t)
	ctx := context.Background()

	// Degrade the sender's score first so a success visibly recovers it.
	b.RecordContact(ctx, a.Identity().ServerID, false)
	before, err := b.GetPeer(ctx, a.Identity().ServerID)
	require.NoError(t, err)

	env, err := a.Seal(ctx, b.Identity().ServerID, model.Ping{SentAt: time.Now()})
	require.NoError(t, err)
	_, err = b.HandleMessage(ctx, env)
	require.NoError(t, err)

	after, err := b.GetPeer(ctx, a.Identity().ServerID)
	require.NoError(t, err)
	assert.Greater(t, after.HealthScore, before.HealthScore)
}
