package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeMessage(t *testing.T) {
	cases := []FederationMessage{
		MemoryQuery{Filters: MemoryFilters{Category: "emergence", Limit: 5}},
		MemoryShare{Records: []MemoryRecord{{Content: "observation", Category: "dialogue"}}},
		CapabilityCheck{Capability: "memory_sync"},
		Ping{SentAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}

	for _, msg := range cases {
		t.Run(string(msg.Kind()), func(t *testing.T) {
			data, err := EncodeMessage(msg)
			require.NoError(t, err)

			decoded, err := DecodeMessage(data)
			require.NoError(t, err)
			assert.Equal(t, msg.Kind(), decoded.Kind())
			assert.Equal(t, msg, decoded)
		})
	}
}

func TestDecodeMessageUnknownKind(t *testing.T) {
	_, err := DecodeMessage([]byte(`{"type":"teleport","payload":{}}`))
	assert.Error(t, err)
}

func TestDecodeMessageMalformed(t *testing.T) {
	_, err := DecodeMessage([]byte("not json"))
	assert.Error(t, err)

	_, err = DecodeMessage([]byte(`{"type":"ping","payload":"not an object"}`))
	assert.Error(t, err)
}

func TestHashContentIsContentAddressed(t *testing.T) {
	a := HashContent("emergence", "the network dreams")
	b := HashContent("emergence", "the network dreams")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	// Category participates in the hash: same content in another category is
	// a different record.
	assert.NotEqual(t, a, HashContent("dialogue", "the network dreams"))
	assert.NotEqual(t, a, HashContent("emergence", "the network sleeps"))
}

func TestTrustLevelValid(t *testing.T) {
	for _, level := range []TrustLevel{TrustUnknown, TrustSeen, TrustVerified, TrustTrusted, TrustBlocked} {
		assert.True(t, level.Valid(), string(level))
	}
	assert.False(t, TrustLevel("admin").Valid())
	assert.False(t, TrustLevel("").Valid())
}
