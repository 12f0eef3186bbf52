package dkg

import (
	"fmt"

	"github.com/klingon-exchange/threshold-node/internal/frost"
	"github.com/klingon-exchange/threshold-node/internal/types"
)

// fakeParticipant is a deterministic stand-in for a real FROST
// participant used to exercise the session state machine's
// round-gating logic independent of the kryptology adapter.
type fakeParticipant struct {
	self types.Identifier
}

func (f *fakeParticipant) Round1() (frost.Round1Package, error) {
	return frost.Round1Package{Sender: f.self, Data: []byte("r1:" + f.self.String())}, nil
}

func (f *fakeParticipant) Round2(peerRound1 map[types.Identifier]frost.Round1Package) ([]frost.Round2Package, error) {
	var out []frost.Round2Package
	for id := range peerRound1 {
		if id == f.self {
			continue
		}
		out = append(out, frost.Round2Package{Sender: f.self, Recipient: id, Data: []byte("r2:" + f.self.String() + "->" + id.String())})
	}
	return out, nil
}

func (f *fakeParticipant) Round3(peerRound2 map[types.Identifier]frost.Round2Package) (*types.GroupKey, error) {
	if len(peerRound2) == 0 {
		return nil, fmt.Errorf("fake: no round2 packages")
	}
	return &types.GroupKey{
		VerifyingKey: [32]byte{0xAB},
		MinSigners:   2,
		MaxSigners:   3,
	}, nil
}
