package signing

import (
	"testing"
	"time"

	"github.com/klingon-exchange/threshold-node/internal/types"
)

func TestCoordinatorAggregatesAfterThresholdShares(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	msg := [32]byte{1, 2, 3}

	coordID := types.Identifier{1}
	coord := NewCoordinator(1, msg, coordID, &fakeSigner{self: coordID}, fakeAggregator{}, 2, now)

	signerIDs := []types.Identifier{{2}, {3}}
	signers := make(map[types.Identifier]*Session, len(signerIDs))
	for _, id := range signerIDs {
		signers[id] = NewSigner(1, msg, id, &fakeSigner{self: id}, now)
	}

	// Coordinator also contributes its own commitment.
	selfCommit, err := coord.signer.Commit(msg)
	if err != nil {
		t.Fatalf("coordinator self commit: %v", err)
	}
	if coord.HandleCommitment(selfCommit) {
		t.Fatalf("threshold should not be reached after one commitment")
	}

	var ready bool
	for id, s := range signers {
		c, err := s.Commit()
		if err != nil {
			t.Fatalf("commit %s: %v", id, err)
		}
		if coord.HandleCommitment(c) {
			ready = true
		}
	}
	if !ready {
		t.Fatalf("expected threshold reached once both signers committed")
	}

	commitments := coord.Commitments()
	var sig *[64]byte
	for id, s := range signers {
		share, err := s.Sign(commitments)
		if err != nil {
			t.Fatalf("sign %s: %v", id, err)
		}
		sig, err = coord.HandleShare(share)
		if err != nil {
			t.Fatalf("handle share %s: %v", id, err)
		}
	}
	if sig == nil {
		t.Fatalf("expected aggregated signature after threshold shares")
	}
	if coord.State() != StateComplete {
		t.Fatalf("expected coordinator complete, got %s", coord.State())
	}
}

func TestLateCommitmentAfterPackageSentIsDiscarded(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	msg := [32]byte{9}
	coordID := types.Identifier{1}
	coord := NewCoordinator(1, msg, coordID, &fakeSigner{self: coordID}, fakeAggregator{}, 1, now)

	firstSigner := types.Identifier{2}
	first, err := (&fakeSigner{self: firstSigner}).Commit(msg)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !coord.HandleCommitment(first) {
		t.Fatalf("expected threshold reached with a single required signer")
	}

	lateSigner := types.Identifier{3}
	late, err := (&fakeSigner{self: lateSigner}).Commit(msg)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if coord.HandleCommitment(late) {
		t.Fatalf("late commitment after package sent must be discarded")
	}
	if len(coord.Commitments()) != 1 {
		t.Fatalf("expected exactly 1 recorded commitment, got %d", len(coord.Commitments()))
	}
}

func TestSessionTimesOut(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	msg := [32]byte{1}
	self := types.Identifier{1}
	s := NewSigner(1, msg, self, &fakeSigner{self: self}, now)

	if s.CheckDeadline(now) {
		t.Fatalf("should not expire immediately")
	}
	later := now.Add(DefaultSessionDeadline + time.Second)
	if !s.CheckDeadline(later) {
		t.Fatalf("expected expiry past deadline")
	}
	if s.State() != StateFailed {
		t.Fatalf("expected failed state, got %s", s.State())
	}
}
