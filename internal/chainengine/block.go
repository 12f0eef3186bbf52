// Package chainengine owns the current ChainState and the block
// pipeline: genesis, block proposal, transaction execution, and
// persistence, grounded on original_source/node/src/protocol/block.rs.
package chainengine

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/klingon-exchange/threshold-node/internal/ledger"
	"github.com/klingon-exchange/threshold-node/internal/types"
)

// BlockHeader is the fixed-size metadata of a block.
type BlockHeader struct {
	Version     uint32
	PrevHash    [32]byte
	TimestampUnix int64
	Height      uint64
	ProposerID  types.Identifier
}

// Encode returns the canonical byte encoding of the header, used as the
// pre-image for Hash.
func (h BlockHeader) Encode() []byte {
	buf := new(bytes.Buffer)
	var verBuf [4]byte
	binary.BigEndian.PutUint32(verBuf[:], h.Version)
	buf.Write(verBuf[:])
	buf.Write(h.PrevHash[:])
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(h.TimestampUnix))
	buf.Write(tsBuf[:])
	var heightBuf [8]byte
	binary.BigEndian.PutUint64(heightBuf[:], h.Height)
	buf.Write(heightBuf[:])
	buf.Write(h.ProposerID[:])
	return buf.Bytes()
}

// Block is a header plus a body of internal transactions.
type Block struct {
	Header BlockHeader
	Body   BlockBody
}

// BlockBody holds the block's transactions and, for the genesis block
// only, the initial-state blob.
type BlockBody struct {
	Transactions []*ledger.Transaction
	Genesis      *GenesisState
}

// Hash returns SHA256(canonical(header)).
func (b *Block) Hash() [32]byte {
	return sha256.Sum256(b.Header.Encode())
}

// ChainConfig is the genesis-time chain configuration, supplementing the
// distilled spec's "chain config" blob with the concrete fields
// original_source's GenesisState/ChainConfig define.
type ChainConfig struct {
	MinSigners      int
	MaxSigners      int
	MinStake        uint64
	BlockTimeSeconds uint64
	MaxBlockSize    uint64
}

// GenesisState is the initial-state blob a genesis block's body encodes.
type GenesisState struct {
	Validators         []types.Identifier
	GroupVerifyingKey  [32]byte
	Config             ChainConfig
}

// Encode returns the canonical byte encoding of the genesis blob:
// validator count, each validator identifier, the group verifying key,
// and the chain config's fixed-width fields, in that order.
func (g GenesisState) Encode() []byte {
	buf := new(bytes.Buffer)
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(g.Validators)))
	buf.Write(countBuf[:])
	for _, v := range g.Validators {
		buf.Write(v[:])
	}
	buf.Write(g.GroupVerifyingKey[:])

	var minSigners, maxSigners [4]byte
	binary.BigEndian.PutUint32(minSigners[:], uint32(g.Config.MinSigners))
	binary.BigEndian.PutUint32(maxSigners[:], uint32(g.Config.MaxSigners))
	buf.Write(minSigners[:])
	buf.Write(maxSigners[:])

	var minStake, blockTime, maxBlockSize [8]byte
	binary.BigEndian.PutUint64(minStake[:], g.Config.MinStake)
	binary.BigEndian.PutUint64(blockTime[:], g.Config.BlockTimeSeconds)
	binary.BigEndian.PutUint64(maxBlockSize[:], g.Config.MaxBlockSize)
	buf.Write(minStake[:])
	buf.Write(blockTime[:])
	buf.Write(maxBlockSize[:])

	return buf.Bytes()
}

// DecodeGenesisState reverses GenesisState.Encode.
func DecodeGenesisState(data []byte) (*GenesisState, error) {
	r := bytes.NewReader(data)

	var countBuf [4]byte
	if _, err := r.Read(countBuf[:]); err != nil {
		return nil, fmt.Errorf("chainengine: decode genesis validator count: %w", err)
	}
	count := binary.BigEndian.Uint32(countBuf[:])

	g := &GenesisState{Validators: make([]types.Identifier, count)}
	for i := range g.Validators {
		if _, err := r.Read(g.Validators[i][:]); err != nil {
			return nil, fmt.Errorf("chainengine: decode genesis validator %d: %w", i, err)
		}
	}
	if _, err := r.Read(g.GroupVerifyingKey[:]); err != nil {
		return nil, fmt.Errorf("chainengine: decode genesis verifying key: %w", err)
	}

	var minSigners, maxSigners [4]byte
	if _, err := r.Read(minSigners[:]); err != nil {
		return nil, fmt.Errorf("chainengine: decode genesis min_signers: %w", err)
	}
	if _, err := r.Read(maxSigners[:]); err != nil {
		return nil, fmt.Errorf("chainengine: decode genesis max_signers: %w", err)
	}
	g.Config.MinSigners = int(binary.BigEndian.Uint32(minSigners[:]))
	g.Config.MaxSigners = int(binary.BigEndian.Uint32(maxSigners[:]))

	var minStake, blockTime, maxBlockSize [8]byte
	if _, err := r.Read(minStake[:]); err != nil {
		return nil, fmt.Errorf("chainengine: decode genesis min_stake: %w", err)
	}
	if _, err := r.Read(blockTime[:]); err != nil {
		return nil, fmt.Errorf("chainengine: decode genesis block_time: %w", err)
	}
	if _, err := r.Read(maxBlockSize[:]); err != nil {
		return nil, fmt.Errorf("chainengine: decode genesis max_block_size: %w", err)
	}
	g.Config.MinStake = binary.BigEndian.Uint64(minStake[:])
	g.Config.BlockTimeSeconds = binary.BigEndian.Uint64(blockTime[:])
	g.Config.MaxBlockSize = binary.BigEndian.Uint64(maxBlockSize[:])

	return g, nil
}
