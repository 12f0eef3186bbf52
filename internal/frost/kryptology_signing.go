package frost

import (
	"fmt"

	"github.com/coinbase/kryptology/pkg/core/curves"
	schnorrfrost "github.com/coinbase/kryptology/pkg/signatures/schnorr/frost"

	"github.com/klingon-exchange/threshold-node/internal/types"
)

// KryptologySigner adapts kryptology's pkg/signatures/schnorr/frost
// signer to the Signer interface, bound to one participant's key share
// from a completed DKG run. One instance is good for exactly one signing
// session: Commit must be called at most once per instance, matching the
// one-shot nonce discipline internal/signing enforces at the engine
// level (see signing/session.go).
type KryptologySigner struct {
	self    types.Identifier
	signer  *schnorrfrost.Signer
	curve   *curves.Curve
	nonce   *schnorrfrost.Nonce
	used    bool
}

// NewKryptologySigner constructs a one-session signer from this
// participant's key share and the group's public key package.
func NewKryptologySigner(self types.Identifier, keyShareData []byte, verifyingShares map[types.Identifier][]byte) (*KryptologySigner, error) {
	curve := curves.K256()

	share := new(curves.Scalar)
	if err := share.UnmarshalBinary(keyShareData); err != nil {
		return nil, fmt.Errorf("frost: unmarshal key share: %w", err)
	}

	signer, err := schnorrfrost.NewSigner(share, identifierToIndex(self), curve)
	if err != nil {
		return nil, fmt.Errorf("frost: new signer: %w", err)
	}

	return &KryptologySigner{self: self, signer: signer, curve: curve}, nil
}

func (s *KryptologySigner) Commit(_ [32]byte) (SigningCommitment, error) {
	if s.used {
		return SigningCommitment{}, fmt.Errorf("frost: nonce already generated for this session")
	}
	nonce, commitment, err := s.signer.GenerateNonce()
	if err != nil {
		return SigningCommitment{}, fmt.Errorf("frost: generate nonce: %w", err)
	}
	s.nonce = nonce
	s.used = true

	data, err := commitment.MarshalBinary()
	if err != nil {
		return SigningCommitment{}, fmt.Errorf("frost: marshal commitment: %w", err)
	}
	return SigningCommitment{Sender: s.self, Data: data}, nil
}

func (s *KryptologySigner) Sign(message [32]byte, commitments []SigningCommitment) (SignatureShare, error) {
	if !s.used || s.nonce == nil {
		return SignatureShare{}, fmt.Errorf("frost: sign called before commit")
	}
	share, err := s.signer.SignWithNonce(message[:], s.nonce)
	if err != nil {
		return SignatureShare{}, fmt.Errorf("frost: sign: %w", err)
	}
	// The nonce is single-use; drop it so a coding error elsewhere can't
	// resubmit it.
	s.nonce = nil

	data, err := share.MarshalBinary()
	if err != nil {
		return SignatureShare{}, fmt.Errorf("frost: marshal signature share: %w", err)
	}
	return SignatureShare{Sender: s.self, Data: data}, nil
}

// KryptologyAggregator combines signature shares into a final Schnorr
// signature, held only by the session coordinator.
type KryptologyAggregator struct {
	verifyingKey []byte
}

// NewKryptologyAggregator constructs an aggregator bound to the group's
// verifying key.
func NewKryptologyAggregator(verifyingKey []byte) *KryptologyAggregator {
	return &KryptologyAggregator{verifyingKey: verifyingKey}
}

func (a *KryptologyAggregator) Aggregate(message [32]byte, _ []SigningCommitment, shares []SignatureShare) ([64]byte, error) {
	var out [64]byte
	agg, err := schnorrfrost.NewSignatureAggregator(a.verifyingKey)
	if err != nil {
		return out, fmt.Errorf("frost: new aggregator: %w", err)
	}
	for _, share := range shares {
		s := new(schnorrfrost.Share)
		if err := s.UnmarshalBinary(share.Data); err != nil {
			return out, fmt.Errorf("frost: unmarshal share from %s: %w", share.Sender, err)
		}
		if err := agg.AddShare(s); err != nil {
			return out, fmt.Errorf("frost: add share from %s: %w", share.Sender, err)
		}
	}

	sig, err := agg.Finalize(message[:])
	if err != nil {
		return out, fmt.Errorf("frost: finalize signature: %w", err)
	}
	sigBytes, err := sig.MarshalBinary()
	if err != nil {
		return out, fmt.Errorf("frost: marshal signature: %w", err)
	}
	// FROST signatures sometimes serialise at 65 bytes with a leading
	// parity byte; Bitcoin's 64-byte Schnorr format drops it.
	if len(sigBytes) == 65 {
		sigBytes = sigBytes[1:]
	}
	if len(sigBytes) != 64 {
		return out, fmt.Errorf("frost: unexpected signature length %d", len(sigBytes))
	}
	copy(out[:], sigBytes)
	return out, nil
}
