package frost

import (
	"bytes"
	"encoding/gob"
	"fmt"

	dkgfrost "github.com/coinbase/kryptology/pkg/dkg/frost"
	"github.com/coinbase/kryptology/pkg/sharing"
)

// round1Envelope bundles a participant's round-1 broadcast with the
// per-recipient Shamir shares kryptology hands back from Round1, so a
// single gossip message on the "round1" topic carries everything a peer
// needs for its own Round2 call.
type round1Envelope struct {
	Bcast  []byte
	Shares map[uint32][]byte
}

func marshalRound1Bcast(bcast *dkgfrost.DkgRound1Bcast, shares map[uint32]*sharing.ShamirShare) ([]byte, error) {
	bcastBytes, err := bcast.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("frost: marshal round1 broadcast: %w", err)
	}
	env := round1Envelope{Bcast: bcastBytes, Shares: make(map[uint32][]byte, len(shares))}
	for idx, share := range shares {
		sb, err := share.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("frost: marshal round1 share for %d: %w", idx, err)
		}
		env.Shares[idx] = sb
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(env); err != nil {
		return nil, fmt.Errorf("frost: encode round1 envelope: %w", err)
	}
	return buf.Bytes(), nil
}

func unmarshalRound1Bcast(data []byte, selfIndex uint32) (*dkgfrost.DkgRound1Bcast, *sharing.ShamirShare, error) {
	var env round1Envelope
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&env); err != nil {
		return nil, nil, fmt.Errorf("frost: decode round1 envelope: %w", err)
	}

	bcast := &dkgfrost.DkgRound1Bcast{}
	if err := bcast.UnmarshalBinary(env.Bcast); err != nil {
		return nil, nil, fmt.Errorf("frost: unmarshal round1 broadcast: %w", err)
	}

	shareBytes, ok := env.Shares[selfIndex]
	if !ok {
		return nil, nil, fmt.Errorf("frost: round1 envelope has no share for participant %d", selfIndex)
	}
	share := &sharing.ShamirShare{}
	if err := share.UnmarshalBinary(shareBytes); err != nil {
		return nil, nil, fmt.Errorf("frost: unmarshal round1 share: %w", err)
	}

	return bcast, share, nil
}

func marshalRound2Result(result *dkgfrost.DkgRound2Result) ([]byte, error) {
	skShare, err := result.SkShare.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("frost: marshal round2 sk share: %w", err)
	}
	vkShare, err := result.VkShare.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("frost: marshal round2 vk share: %w", err)
	}
	vk, err := result.Vk.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("frost: marshal round2 vk: %w", err)
	}

	var buf bytes.Buffer
	env := struct {
		SkShare []byte
		VkShare []byte
		Vk      []byte
	}{skShare, vkShare, vk}
	if err := gob.NewEncoder(&buf).Encode(env); err != nil {
		return nil, fmt.Errorf("frost: encode round2 result: %w", err)
	}
	return buf.Bytes(), nil
}

// xOnly drops the sign/parity-indicating leading byte kryptology's
// compressed point encoding carries, leaving the 32-byte x-coordinate
// Taproot needs.
func xOnly(compressed []byte) []byte {
	if len(compressed) == 33 {
		return compressed[1:]
	}
	if len(compressed) >= 32 {
		return compressed[len(compressed)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(compressed):], compressed)
	return out
}
