package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

type (
	// MemoryRecord is one content-addressed entry in the memory store. The
	// content hash identifies the record across independently generated
	// exports; Origin attributes it to the server that first held it.
	MemoryRecord struct {
		ID          string    `json:"id" bson:"_id"`
		Category    string    `json:"category" bson:"category"`
		Stage       string    `json:"stage,omitempty" bson:"stage,omitempty"`
		Tags        []string  `json:"tags,omitempty" bson:"tags,omitempty"`
		Importance  float64   `json:"importance" bson:"importance"`
		Content     string    `json:"content" bson:"content"`
		Origin      string    `json:"origin" bson:"origin"`
		ContentHash string    `json:"content_hash" bson:"content_hash"`
		CreatedAt   time.Time `json:"created_at" bson:"created_at"`
	}

	// MemoryFilters narrows an export or preview. Zero values mean "no
	// constraint"; Limit caps the record count.
	MemoryFilters struct {
		Category      string     `json:"category,omitempty"`
		Stage         string     `json:"stage,omitempty"`
		Tags          []string   `json:"tags,omitempty"`
		MinImportance float64    `json:"min_importance,omitempty"`
		Since         *time.Time `json:"since,omitempty"`
		Limit         int64      `json:"limit,omitempty"`
	}

	// MemoryExportManifest describes a signed export. The detached signature
	// covers the canonical serialization of this struct so an importer can
	// verify provenance offline.
	MemoryExportManifest struct {
		SourceServerID  string    `json:"source_server_id"`
		SourcePublicKey []byte    `json:"source_public_key"`
		ExportedAt      time.Time `json:"exported_at"`
		Count           int       `json:"count"`
		Filters         string    `json:"filters"`
	}

	MemoryExport struct {
		Manifest  MemoryExportManifest `json:"manifest"`
		Signature []byte               `json:"signature"`
		Records   []MemoryRecord       `json:"records"`
	}

	// SyncState tracks delta-sync progress against one peer so repeated syncs
	// only transfer what changed.
	SyncState struct {
		PeerID       string    `json:"peer_id" bson:"_id"`
		LastSyncedAt time.Time `json:"last_synced_at" bson:"last_synced_at"`
		LastHash     string    `json:"last_hash,omitempty" bson:"last_hash,omitempty"`
		Imported     int64     `json:"imported" bson:"imported"`
		Skipped      int64     `json:"skipped" bson:"skipped"`
	}

	ImportOptions struct {
		SkipDuplicates bool `json:"skip_duplicates"`
		DryRun         bool `json:"dry_run"`
	}

	ImportResult struct {
		Imported int  `json:"imported"`
		Skipped  int  `json:"skipped"`
		DryRun   bool `json:"dry_run"`
	}
)

// HashContent computes the dedup digest for a record: category and content
// together, so the same text filed under two categories stays distinct.
func HashContent(category, content string) string {
	sum := sha256.Sum256([]byte(category + "|" + content))
	return hex.EncodeToString(sum[:])
}
