package transport

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/klingon-exchange/threshold-node/internal/chainengine"
	"github.com/klingon-exchange/threshold-node/internal/consensus"
	"github.com/klingon-exchange/threshold-node/internal/frost"
	"github.com/klingon-exchange/threshold-node/internal/noded"
	"github.com/klingon-exchange/threshold-node/internal/types"
)

func testIdentifier(b byte) types.Identifier {
	var id types.Identifier
	id[0] = b
	return id
}

func TestEncodeDecodeStartDKG(t *testing.T) {
	self := testIdentifier(7)
	data, err := encodeStartDKG(self)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var w startDKGWire
	if err := json.Unmarshal(data, &w); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got, err := parseIdentifier(w.Sender)
	if err != nil {
		t.Fatalf("parse identifier: %v", err)
	}
	if got != self {
		t.Fatalf("sender mismatch: got %x want %x", got, self)
	}
}

func TestEncodeDecodeRound1RoundTrip(t *testing.T) {
	pkg := frost.Round1Package{Sender: testIdentifier(3), Data: []byte("round1-payload")}
	data, err := encodeRound1(pkg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := decodeRound1(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Sender != pkg.Sender || !bytes.Equal(got.Data, pkg.Data) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, pkg)
	}
}

func TestEncodeDecodeDepositIntentRoundTrip(t *testing.T) {
	intent := &types.DepositIntent{
		TrackingID:     "track-1",
		UserPubKey:     []byte{0x01, 0x02, 0x03},
		AmountSat:      50000,
		DepositAddress: "bc1qtest",
		Timestamp:      time.Unix(1700000000, 0),
		State:          types.DepositPending,
	}
	data, err := encodeDepositIntent(intent)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := decodeDepositIntent(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.TrackingID != intent.TrackingID || got.AmountSat != intent.AmountSat ||
		got.DepositAddress != intent.DepositAddress || got.State != intent.State ||
		!bytes.Equal(got.UserPubKey, intent.UserPubKey) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, intent)
	}
}

func TestEncodeDecodeBlockProposalRoundTrip(t *testing.T) {
	block := &chainengine.Block{
		Header: chainengine.BlockHeader{
			Version:       1,
			PrevHash:      [32]byte{0xaa},
			TimestampUnix: 1700000001,
			Height:        42,
			ProposerID:    testIdentifier(9),
		},
	}
	data, err := encodeBlockProposal(5, block)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	round, got, err := decodeBlockProposal(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if round != 5 {
		t.Fatalf("round mismatch: got %d want 5", round)
	}
	if got.Header.Height != block.Header.Height || got.Header.ProposerID != block.Header.ProposerID {
		t.Fatalf("block mismatch: got %+v want %+v", got.Header, block.Header)
	}
}

func TestEncodeDecodeVoteRoundTrip(t *testing.T) {
	self := testIdentifier(11)
	hash := [32]byte{0xbb, 0xcc}
	data, err := encodeVote(self, 3, hash, consensus.VotePrecommit)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	sender, round, got, voteType, err := decodeVote(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sender != self || round != 3 || got != hash || voteType != consensus.VotePrecommit {
		t.Fatalf("vote mismatch: sender=%x round=%d hash=%x type=%v", sender, round, got, voteType)
	}
}

func TestEncodeDecodeDirectPayloadCommitmentCarriesSignID(t *testing.T) {
	msg := noded.DirectMessage{
		Kind:       noded.DirectCommitment,
		Commitment: frost.SigningCommitment{Sender: testIdentifier(1), Data: []byte("commit")},
		SignID:     99,
	}
	data, err := encodeDirectPayload(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := decodeDirectPayload(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.SignID != 99 {
		t.Fatalf("sign id not preserved: got %d want 99", got.SignID)
	}
	if got.Commitment.Sender != msg.Commitment.Sender || !bytes.Equal(got.Commitment.Data, msg.Commitment.Data) {
		t.Fatalf("commitment mismatch: got %+v want %+v", got.Commitment, msg.Commitment)
	}
}

func TestEncodeDecodeDirectPayloadShareCarriesSignID(t *testing.T) {
	msg := noded.DirectMessage{
		Kind:   noded.DirectSignatureShare,
		Share:  frost.SignatureShare{Sender: testIdentifier(2), Data: []byte("share")},
		SignID: 123,
	}
	data, err := encodeDirectPayload(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := decodeDirectPayload(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.SignID != 123 {
		t.Fatalf("sign id not preserved: got %d want 123", got.SignID)
	}
}

func TestEncodeDecodeDirectPayloadRound2RoundTrip(t *testing.T) {
	msg := noded.DirectMessage{
		Kind: noded.DirectRound2Package,
		Round2: frost.Round2Package{
			Sender:    testIdentifier(4),
			Recipient: testIdentifier(5),
			Data:      []byte("round2-payload"),
		},
	}
	data, err := encodeDirectPayload(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := decodeDirectPayload(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Round2.Sender != msg.Round2.Sender || got.Round2.Recipient != msg.Round2.Recipient ||
		!bytes.Equal(got.Round2.Data, msg.Round2.Data) {
		t.Fatalf("round2 mismatch: got %+v want %+v", got.Round2, msg.Round2)
	}
}

func TestDecodeDirectPayloadUnknownKind(t *testing.T) {
	if _, err := decodeDirectPayload([]byte(`{"kind":99}`)); err == nil {
		t.Fatalf("expected error for unknown direct message kind")
	}
}
