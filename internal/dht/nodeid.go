package dht

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/bits"
)

// IDBytes is the width of a node identifier: 256 bits.
const IDBytes = 32

// NodeID is a 256-bit identifier in the XOR keyspace, derived from hashing a
// node's public signing key.
type NodeID [IDBytes]byte

func NodeIDFromPublicKey(pub []byte) NodeID {
	return NodeID(sha256.Sum256(pub))
}

func ParseNodeID(s string) (NodeID, error) {
	var id NodeID
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("parse node id: %w", err)
	}
	if len(raw) != IDBytes {
		return id, fmt.Errorf("node id must be %d bytes, got %d", IDBytes, len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// NodeIDs travel as hex strings on the wire.

func (id NodeID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.String() + `"`), nil
}

func (id *NodeID) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("node id must be a hex string")
	}
	parsed, err := ParseNodeID(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Distance is the XOR metric between two identifiers.
func (id NodeID) Distance(other NodeID) NodeID {
	var d NodeID
	for i := range id {
		d[i] = id[i] ^ other[i]
	}
	return d
}

// Less compares identifiers as big-endian integers.
func (id NodeID) Less(other NodeID) bool {
	return bytes.Compare(id[:], other[:]) < 0
}

// BucketIndex is the k-bucket a node at the given distance belongs to: the
// number of leading zero bits of the distance. A zero distance (self) has no
// bucket and returns -1.
func (id NodeID) BucketIndex(other NodeID) int {
	d := id.Distance(other)
	for i, b := range d {
		if b != 0 {
			return i*8 + bits.LeadingZeros8(b)
		}
	}
	return -1
}
