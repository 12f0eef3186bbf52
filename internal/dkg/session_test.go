package dkg

import (
	"testing"

	"github.com/klingon-exchange/threshold-node/internal/frost"
	"github.com/klingon-exchange/threshold-node/internal/types"
)

func TestFullDKGRunAcrossThreeParticipants(t *testing.T) {
	ids := []types.Identifier{{1}, {2}, {3}}

	sessions := make(map[types.Identifier]*Session, len(ids))
	for _, id := range ids {
		s, err := New(id, ids, len(ids), &fakeParticipant{self: id})
		if err != nil {
			t.Fatalf("new session for %s: %v", id, err)
		}
		sessions[id] = s
	}

	round1 := make(map[types.Identifier]frost.Round1Package, len(ids))
	for id, s := range sessions {
		pkg, err := s.Start()
		if err != nil {
			t.Fatalf("start %s: %v", id, err)
		}
		round1[id] = pkg
	}

	var round2Outbox []frost.Round2Package
	for senderID := range sessions {
		for recipientID, recipientSession := range sessions {
			if senderID == recipientID {
				continue
			}
			out, err := recipientSession.HandleRound1(senderID, round1[senderID])
			if err != nil {
				t.Fatalf("handle round1 %s->%s: %v", senderID, recipientID, err)
			}
			round2Outbox = append(round2Outbox, out...)
		}
	}

	for _, pkg := range round2Outbox {
		dest, ok := sessions[pkg.Recipient]
		if !ok {
			t.Fatalf("no session for recipient %s", pkg.Recipient)
		}
		if _, err := dest.HandleRound2(pkg.Sender, pkg); err != nil {
			t.Fatalf("handle round2 %s->%s: %v", pkg.Sender, pkg.Recipient, err)
		}
	}

	for id, s := range sessions {
		if s.State() != StateComplete {
			t.Fatalf("session %s ended in state %s, err=%v", id, s.State(), s.Err())
		}
		if s.Result() == nil {
			t.Fatalf("session %s has no result", id)
		}
	}
}

func TestHandleRound1IgnoresDuplicateSender(t *testing.T) {
	ids := []types.Identifier{{1}, {2}, {3}}
	self := ids[0]
	s, err := New(self, ids, len(ids), &fakeParticipant{self: self})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	pkg := frost.Round1Package{Sender: ids[1], Data: []byte("x")}
	if out, err := s.HandleRound1(ids[1], pkg); err != nil || out != nil {
		t.Fatalf("first delivery: out=%v err=%v", out, err)
	}
	// Duplicate from the same sender must not move the count forward.
	if out, err := s.HandleRound1(ids[1], pkg); err != nil || out != nil {
		t.Fatalf("duplicate delivery should be ignored: out=%v err=%v", out, err)
	}
	if s.State() != StateRound1Pending {
		t.Fatalf("expected still round1 pending, got %s", s.State())
	}
}

func TestTwoParticipantSessionCompletes(t *testing.T) {
	self := types.Identifier{1}
	peer := types.Identifier{2}
	ids := []types.Identifier{self, peer}

	s, err := New(self, ids, len(ids), &fakeParticipant{self: self})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	out, err := s.HandleRound1(peer, frost.Round1Package{Sender: peer, Data: []byte("p")})
	if err != nil {
		t.Fatalf("handle round1: %v", err)
	}
	if out == nil {
		t.Fatalf("expected round2 packages once all round1 packages arrive")
	}
	if _, err := s.HandleRound2(peer, frost.Round2Package{Sender: peer, Recipient: self, Data: nil}); err != nil {
		t.Fatalf("handle round2: %v", err)
	}
	if s.State() != StateComplete {
		t.Fatalf("expected complete, got %s err=%v", s.State(), s.Err())
	}
}
