// Package frost isolates every direct call into the external FROST/DKG/
// threshold-Schnorr library behind this repository's own types, so the
// DKG and signing engines never import the third-party package
// directly. No Go FROST implementation exists anywhere in the example
// corpus this node was grounded on, so per the no-fabrication policy a
// real, published library is named here instead of hand-rolling the
// protocol: github.com/coinbase/kryptology (pkg/dkg/frost, pkg/sharing,
// pkg/core/curves). See kryptology.go for the adapter and DESIGN.md for
// the justification.
package frost

import "github.com/klingon-exchange/threshold-node/internal/types"

// Round1Package is a participant's public DKG round-1 contribution,
// broadcast to every other participant.
type Round1Package struct {
	Sender types.Identifier
	Data   []byte
}

// Round2Package is a participant's round-2 contribution addressed to a
// single recipient, sent as a direct message.
type Round2Package struct {
	Sender    types.Identifier
	Recipient types.Identifier
	Data      []byte
}

// DKGParticipant drives one participant through the three-round
// dealer-less DKG described in spec.md §4.4.
type DKGParticipant interface {
	// Round1 runs DKG part-1 and returns this participant's public
	// package to broadcast.
	Round1() (Round1Package, error)

	// Round2 runs DKG part-2 given every peer's round-1 package
	// (including this participant's own is not required), returning one
	// round-2 package per peer to direct-message.
	Round2(peerRound1 map[types.Identifier]Round1Package) ([]Round2Package, error)

	// Round3 runs DKG part-3 given every peer's round-2 package
	// addressed to this participant, producing the immutable GroupKey.
	Round3(peerRound2 map[types.Identifier]Round2Package) (*types.GroupKey, error)
}

// SigningCommitment is a signer's round-1 nonce commitment for one
// signing session.
type SigningCommitment struct {
	Sender types.Identifier
	Data   []byte
}

// SignatureShare is a signer's round-2 contribution to a signing
// session.
type SignatureShare struct {
	Sender types.Identifier
	Data   []byte
}

// Signer drives one participant through a single FROST signing session,
// bound to the GroupKey produced by a prior DKG run.
type Signer interface {
	// Commit generates fresh round-1 nonces for message and returns the
	// public commitment to send to the coordinator. Nonces must never
	// be reused across sessions; implementations enforce this
	// internally (see kryptology.go).
	Commit(message [32]byte) (SigningCommitment, error)

	// Sign produces this signer's round-2 signature share given the
	// full set of commitments the coordinator gathered.
	Sign(message [32]byte, commitments []SigningCommitment) (SignatureShare, error)
}

// Aggregator combines signature shares into a final 64-byte Schnorr
// signature. Only the session coordinator calls this.
type Aggregator interface {
	Aggregate(message [32]byte, commitments []SigningCommitment, shares []SignatureShare) ([64]byte, error)
}
