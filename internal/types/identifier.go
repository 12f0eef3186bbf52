// Package types holds the small value types shared across every core
// subsystem: participant identifiers, the group key, and wire-level
// primitives that do not belong to any single engine.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/klingon-exchange/threshold-node/pkg/helpers"
)

// IdentifierSize is the fixed byte length of an Identifier.
const IdentifierSize = 32

// Identifier is a 32-byte value derived deterministically from a peer
// identity. It is used as the FROST participant index and as the
// consensus identity. Ordering is total and stable across nodes.
type Identifier [IdentifierSize]byte

// IdentifierFromPeerBytes derives an Identifier from a libp2p peer ID's
// raw bytes.
func IdentifierFromPeerBytes(peerIDBytes []byte) Identifier {
	return Identifier(sha256.Sum256(peerIDBytes))
}

// Less implements the total order spec.md requires of Identifier: plain
// lexicographic comparison of the underlying bytes.
func (id Identifier) Less(other Identifier) bool {
	return helpers.CompareBytes(id[:], other[:]) < 0
}

func (id Identifier) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is the all-zero identifier.
func (id Identifier) IsZero() bool {
	return helpers.IsZeroBytes(id[:])
}

// SortIdentifiers returns a sorted copy of ids, ascending by Less. Used by
// the consensus engine's deterministic select_leader and by the DKG
// engine's deterministic participant ordering.
func SortIdentifiers(ids []Identifier) []Identifier {
	out := make([]Identifier, len(ids))
	copy(out, ids)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Less(out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// ErrZeroScalar is returned by ParticipantScalar in the (astronomically
// unlikely) case that an identifier hashes to the zero scalar modulo the
// secp256k1 group order.
var ErrZeroScalar = errors.New("types: identifier reduces to the zero scalar")

// ParticipantScalar maps an Identifier onto a nonzero secp256k1 scalar,
// the representation FROST participant indices are built from. If the
// raw bytes reduce to zero modulo the curve order, the identifier is
// rehashed with an incrementing counter until a nonzero scalar is found.
func ParticipantScalar(id Identifier) (*secp256k1.ModNScalar, error) {
	buf := id[:]
	for attempt := 0; attempt < 256; attempt++ {
		var scalar secp256k1.ModNScalar
		scalar.SetByteSlice(buf) // reduces mod the group order; overflow is expected and harmless
		if !scalar.IsZero() {
			return &scalar, nil
		}
		h := sha256.Sum256(append(append([]byte{}, id[:]...), byte(attempt)))
		buf = h[:]
	}
	return nil, ErrZeroScalar
}
