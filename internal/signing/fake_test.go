package signing

import (
	"github.com/klingon-exchange/threshold-node/internal/frost"
	"github.com/klingon-exchange/threshold-node/internal/types"
)

// fakeSigner produces deterministic, trivially-combinable "shares" so
// the session plumbing can be exercised without the kryptology
// adapter.
type fakeSigner struct {
	self      types.Identifier
	committed bool
}

func (f *fakeSigner) Commit(message [32]byte) (frost.SigningCommitment, error) {
	f.committed = true
	return frost.SigningCommitment{Sender: f.self, Data: append([]byte{'c'}, message[:4]...)}, nil
}

func (f *fakeSigner) Sign(message [32]byte, commitments []frost.SigningCommitment) (frost.SignatureShare, error) {
	return frost.SignatureShare{Sender: f.self, Data: []byte{byte(len(commitments))}}, nil
}

// fakeAggregator sums share lengths into a deterministic signature so
// tests can assert aggregation ran over the right input set.
type fakeAggregator struct{}

func (fakeAggregator) Aggregate(message [32]byte, commitments []frost.SigningCommitment, shares []frost.SignatureShare) ([64]byte, error) {
	var out [64]byte
	copy(out[:32], message[:])
	out[32] = byte(len(shares))
	return out, nil
}
