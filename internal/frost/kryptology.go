package frost

import (
	"fmt"

	"github.com/coinbase/kryptology/pkg/core/curves"
	dkgfrost "github.com/coinbase/kryptology/pkg/dkg/frost"
	"github.com/coinbase/kryptology/pkg/sharing"

	"github.com/klingon-exchange/threshold-node/internal/types"
)

// contextString binds every DKG/signing run in this deployment to a
// fixed domain separator, preventing cross-protocol replay.
const contextString = "threshold-node/frost/v1"

// KryptologyDKGParticipant adapts kryptology's pkg/dkg/frost.Participant
// to the DKGParticipant interface. The underlying library identifies
// participants by uint32; this node maps each 32-byte Identifier to a
// scalar via types.ParticipantScalar and truncates it to a uint32 index
// for kryptology's API, keeping the full Identifier as the map key on
// this side of the boundary.
type KryptologyDKGParticipant struct {
	self       types.Identifier
	selfIndex  uint32
	peerIndex  map[types.Identifier]uint32
	indexPeer  map[uint32]types.Identifier
	minSigners uint32

	participant *dkgfrost.Participant

	round1Shares map[uint32]*sharing.ShamirShare
	finalResult  *dkgfrost.DkgRound2Result
}

func identifierToIndex(id types.Identifier) uint32 {
	// The trailing (least-significant) 4 bytes of the identifier's scalar reduction give a
	// stable, deterministic non-zero uint32 index for kryptology's
	// participant numbering.
	scalar, err := types.ParticipantScalar(id)
	if err != nil {
		// Effectively unreachable: ParticipantScalar only fails after
		// 256 rehash attempts land on zero every time.
		return 1
	}
	b := scalar.Bytes()
	idx := uint32(b[len(b)-4])<<24 | uint32(b[len(b)-3])<<16 | uint32(b[len(b)-2])<<8 | uint32(b[len(b)-1])
	if idx == 0 {
		idx = 1
	}
	return idx
}

// NewKryptologyDKGParticipant constructs the adapter for self among peers
// (self included), requiring minSigners shares to reconstruct.
func NewKryptologyDKGParticipant(self types.Identifier, peers []types.Identifier, minSigners int) (*KryptologyDKGParticipant, error) {
	curve := curves.K256()

	peerIndex := make(map[types.Identifier]uint32, len(peers))
	indexPeer := make(map[uint32]types.Identifier, len(peers))
	var others []uint32
	var selfIndex uint32
	for _, p := range peers {
		idx := identifierToIndex(p)
		peerIndex[p] = idx
		indexPeer[idx] = p
		if p == self {
			selfIndex = idx
			continue
		}
		others = append(others, idx)
	}
	if selfIndex == 0 {
		return nil, fmt.Errorf("frost: self %s not present in peer set", self)
	}

	participant, err := dkgfrost.NewDkgParticipant(selfIndex, uint32(len(peers)), contextString, curve, others...)
	if err != nil {
		return nil, fmt.Errorf("frost: new dkg participant: %w", err)
	}

	return &KryptologyDKGParticipant{
		self:       self,
		selfIndex:  selfIndex,
		peerIndex:  peerIndex,
		indexPeer:  indexPeer,
		minSigners: uint32(minSigners),
		participant: participant,
	}, nil
}

func (k *KryptologyDKGParticipant) Round1() (Round1Package, error) {
	bcast, p2p, err := k.participant.Round1(nil)
	if err != nil {
		return Round1Package{}, fmt.Errorf("frost: dkg round1: %w", err)
	}
	k.round1Shares = p2p

	data, err := marshalRound1Bcast(bcast, p2p)
	if err != nil {
		return Round1Package{}, err
	}
	return Round1Package{Sender: k.self, Data: data}, nil
}

func (k *KryptologyDKGParticipant) Round2(peerRound1 map[types.Identifier]Round1Package) ([]Round2Package, error) {
	bcastByIndex := make(map[uint32]*dkgfrost.DkgRound1Bcast, len(peerRound1))
	p2pByIndex := make(map[uint32]*sharing.ShamirShare, len(peerRound1))

	for id, pkg := range peerRound1 {
		if id == k.self {
			continue
		}
		idx, ok := k.peerIndex[id]
		if !ok {
			return nil, fmt.Errorf("frost: round2: unknown peer %s", id)
		}
		bcast, shareForUs, err := unmarshalRound1Bcast(pkg.Data, k.selfIndex)
		if err != nil {
			return nil, fmt.Errorf("frost: round2: unmarshal from %s: %w", id, err)
		}
		bcastByIndex[idx] = bcast
		p2pByIndex[idx] = shareForUs
	}

	result, err := k.participant.Round2(bcastByIndex, p2pByIndex)
	if err != nil {
		return nil, fmt.Errorf("frost: dkg round2: %w", err)
	}
	k.finalResult = result

	data, err := marshalRound2Result(result)
	if err != nil {
		return nil, err
	}

	var out []Round2Package
	for id, idx := range k.peerIndex {
		if id == k.self {
			continue
		}
		_ = idx
		out = append(out, Round2Package{Sender: k.self, Recipient: id, Data: data})
	}
	return out, nil
}

func (k *KryptologyDKGParticipant) Round3(_ map[types.Identifier]Round2Package) (*types.GroupKey, error) {
	if k.finalResult == nil {
		return nil, fmt.Errorf("frost: round3 called before round2 completed")
	}
	vk, err := k.finalResult.Vk.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("frost: marshal verifying key: %w", err)
	}
	skShare, err := k.finalResult.SkShare.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("frost: marshal key share: %w", err)
	}

	gk := &types.GroupKey{
		KeyShareData:    skShare,
		VerifyingShares: map[types.Identifier][]byte{k.self: vk},
		MinSigners:      int(k.minSigners),
		MaxSigners:      len(k.peerIndex),
	}
	copy(gk.VerifyingKey[:], xOnly(vk))
	return gk, nil
}
