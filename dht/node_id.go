package dht

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/bits"

	"github.com/kutluhann/decen-dht/constants"
	"github.com/kutluhann/decen-dht/id_tools"
)

var ErrInvalidIdentifier = errors.New("invalid identifier")

type NodeID id_tools.PeerID

// NewRandomNodeID returns an id drawn from crypto/rand.
func NewRandomNodeID() (NodeID, error) {
	var id NodeID
	if _, err := rand.Read(id[:]); err != nil {
		return NodeID{}, fmt.Errorf("random node id: %w", err)
	}
	return id, nil
}

// ParseNodeID decodes a 64 character hex string. File ids are parsed with it
// when they are used as keys in the node id space.
func ParseNodeID(s string) (NodeID, error) {
	var id NodeID
	if len(s) != hex.EncodedLen(len(id)) {
		return NodeID{}, fmt.Errorf("%w: expected %d hex chars, got %d", ErrInvalidIdentifier, hex.EncodedLen(len(id)), len(s))
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return NodeID{}, fmt.Errorf("%w: %v", ErrInvalidIdentifier, err)
	}
	return id, nil
}

// NodeIDFromBytes copies b into a NodeID. b must be exactly 32 bytes.
func NodeIDFromBytes(b []byte) (NodeID, error) {
	var id NodeID
	if len(b) != len(id) {
		return NodeID{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidIdentifier, len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}

func (id NodeID) Xor(other NodeID) NodeID {
	var result NodeID
	for i := 0; i < len(id); i++ {
		result[i] = id[i] ^ other[i]
	}
	return result
}

// PrefixLen is the number of leading bits id and other share.
func (id NodeID) PrefixLen(other NodeID) int {
	for i := 0; i < len(id); i++ {
		x := id[i] ^ other[i]

		if x != 0 {
			return i*8 + bits.LeadingZeros8(x)
		}
	}
	return len(id) * 8
}

// DistanceClass selects the bucket for other: the index of the first set bit
// of the XOR distance, 0 being the most significant bit. Equal ids map to the
// last class.
func (id NodeID) DistanceClass(other NodeID) int {
	prefix := id.PrefixLen(other)
	if prefix >= constants.IDBits {
		return constants.IDBits - 1
	}
	return prefix
}

func (id NodeID) Less(other NodeID) bool {
	return bytes.Compare(id[:], other[:]) < 0
}

func (id NodeID) IsZero() bool {
	return id == NodeID{}
}

func (id NodeID) Bytes() []byte {
	b := make([]byte, len(id))
	copy(b, id[:])
	return b
}

func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// Short is the first 16 hex chars, used in log lines.
func (id NodeID) Short() string {
	return id.String()[:16]
}

// CompareDistance returns -1 if id1 is closer to target than id2, 1 if it is
// further and 0 if both are equally far (which only happens when id1 == id2).
func CompareDistance(id1, id2, target NodeID) int {
	d1 := id1.Xor(target)
	d2 := id2.Xor(target)
	return bytes.Compare(d1[:], d2[:])
}
