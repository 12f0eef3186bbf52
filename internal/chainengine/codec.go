package chainengine

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/klingon-exchange/threshold-node/internal/ledger"
	"github.com/klingon-exchange/threshold-node/internal/types"
)

// Encode serialises a Block for storage and for the block-proposals
// gossip topic.
func (b *Block) Encode() []byte {
	buf := new(bytes.Buffer)
	buf.Write(b.Header.Encode())

	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(b.Body.Transactions)))
	buf.Write(countBuf[:])
	for _, tx := range b.Body.Transactions {
		enc := tx.Encode()
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(enc)))
		buf.Write(lenBuf[:])
		buf.Write(enc)
	}

	if b.Body.Genesis != nil {
		buf.WriteByte(1)
		enc := b.Body.Genesis.Encode()
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(enc)))
		buf.Write(lenBuf[:])
		buf.Write(enc)
	} else {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// DecodeBlock reverses Encode.
func DecodeBlock(data []byte) (*Block, error) {
	if len(data) < 4+32+8+8+types.IdentifierSize {
		return nil, fmt.Errorf("chainengine: block too short")
	}
	r := bytes.NewReader(data)

	var hdr BlockHeader
	var verBuf [4]byte
	if _, err := r.Read(verBuf[:]); err != nil {
		return nil, err
	}
	hdr.Version = binary.BigEndian.Uint32(verBuf[:])
	if _, err := r.Read(hdr.PrevHash[:]); err != nil {
		return nil, err
	}
	var tsBuf [8]byte
	if _, err := r.Read(tsBuf[:]); err != nil {
		return nil, err
	}
	hdr.TimestampUnix = int64(binary.BigEndian.Uint64(tsBuf[:]))
	var heightBuf [8]byte
	if _, err := r.Read(heightBuf[:]); err != nil {
		return nil, err
	}
	hdr.Height = binary.BigEndian.Uint64(heightBuf[:])
	if _, err := r.Read(hdr.ProposerID[:]); err != nil {
		return nil, err
	}

	var countBuf [4]byte
	if _, err := r.Read(countBuf[:]); err != nil {
		return nil, fmt.Errorf("chainengine: decode tx count: %w", err)
	}
	count := binary.BigEndian.Uint32(countBuf[:])

	body := BlockBody{}
	for i := uint32(0); i < count; i++ {
		var lenBuf [4]byte
		if _, err := r.Read(lenBuf[:]); err != nil {
			return nil, fmt.Errorf("chainengine: decode tx %d length: %w", i, err)
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		txBytes := make([]byte, n)
		if n > 0 {
			if _, err := r.Read(txBytes); err != nil {
				return nil, fmt.Errorf("chainengine: decode tx %d: %w", i, err)
			}
		}
		tx, err := ledger.DecodeTransaction(txBytes)
		if err != nil {
			return nil, fmt.Errorf("chainengine: decode tx %d: %w", i, err)
		}
		body.Transactions = append(body.Transactions, tx)
	}

	flag, err := r.ReadByte()
	if err != nil {
		// No genesis blob present: an older or non-genesis block.
		return &Block{Header: hdr, Body: body}, nil
	}
	if flag == 1 {
		var lenBuf [4]byte
		if _, err := r.Read(lenBuf[:]); err != nil {
			return nil, fmt.Errorf("chainengine: decode genesis blob length: %w", err)
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		genBytes := make([]byte, n)
		if n > 0 {
			if _, err := r.Read(genBytes); err != nil {
				return nil, fmt.Errorf("chainengine: decode genesis blob: %w", err)
			}
		}
		gen, err := DecodeGenesisState(genBytes)
		if err != nil {
			return nil, fmt.Errorf("chainengine: decode genesis blob: %w", err)
		}
		body.Genesis = gen
	}

	return &Block{Header: hdr, Body: body}, nil
}
