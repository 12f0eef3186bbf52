package transport

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/klingon-exchange/threshold-node/internal/chainengine"
	"github.com/klingon-exchange/threshold-node/internal/consensus"
	"github.com/klingon-exchange/threshold-node/internal/frost"
	"github.com/klingon-exchange/threshold-node/internal/noded"
	"github.com/klingon-exchange/threshold-node/internal/types"
)

// Every wire type below hex-encodes types.Identifier and [32]byte
// fields explicitly rather than letting encoding/json fall back to its
// default array-of-numbers rendering for fixed-size byte arrays.

func hexIdentifier(id types.Identifier) string { return hex.EncodeToString(id[:]) }

func parseIdentifier(s string) (types.Identifier, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return types.Identifier{}, fmt.Errorf("transport: decode identifier: %w", err)
	}
	if len(b) != types.IdentifierSize {
		return types.Identifier{}, fmt.Errorf("transport: identifier has %d bytes, want %d", len(b), types.IdentifierSize)
	}
	var id types.Identifier
	copy(id[:], b)
	return id, nil
}

func hex32(b [32]byte) string { return hex.EncodeToString(b[:]) }

func parseHex32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("transport: decode 32-byte field: %w", err)
	}
	if len(b) != 32 {
		return out, fmt.Errorf("transport: field has %d bytes, want 32", len(b))
	}
	copy(out[:], b)
	return out, nil
}

// --- start-dkg / round1 topics ---

type startDKGWire struct {
	Sender string `json:"sender"`
}

func encodeStartDKG(self types.Identifier) ([]byte, error) {
	return json.Marshal(startDKGWire{Sender: hexIdentifier(self)})
}

type round1Wire struct {
	Sender string `json:"sender"`
	Data   []byte `json:"data"`
}

func encodeRound1(pkg frost.Round1Package) ([]byte, error) {
	return json.Marshal(round1Wire{Sender: hexIdentifier(pkg.Sender), Data: pkg.Data})
}

func decodeRound1(data []byte) (frost.Round1Package, error) {
	var w round1Wire
	if err := json.Unmarshal(data, &w); err != nil {
		return frost.Round1Package{}, err
	}
	sender, err := parseIdentifier(w.Sender)
	if err != nil {
		return frost.Round1Package{}, err
	}
	return frost.Round1Package{Sender: sender, Data: w.Data}, nil
}

// --- deposit-intents topic ---

type depositIntentWire struct {
	TrackingID     string `json:"tracking_id"`
	UserPubKey     []byte `json:"user_pub_key"`
	AmountSat      uint64 `json:"amount_sat"`
	DepositAddress string `json:"deposit_address"`
	TimestampUnix  int64  `json:"timestamp_unix"`
	State          string `json:"state"`
}

func encodeDepositIntent(intent *types.DepositIntent) ([]byte, error) {
	return json.Marshal(depositIntentWire{
		TrackingID:     intent.TrackingID,
		UserPubKey:     intent.UserPubKey,
		AmountSat:      intent.AmountSat,
		DepositAddress: intent.DepositAddress,
		TimestampUnix:  intent.Timestamp.Unix(),
		State:          string(intent.State),
	})
}

func decodeDepositIntent(data []byte) (*types.DepositIntent, error) {
	var w depositIntentWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return &types.DepositIntent{
		TrackingID:     w.TrackingID,
		UserPubKey:     w.UserPubKey,
		AmountSat:      w.AmountSat,
		DepositAddress: w.DepositAddress,
		State:          types.DepositIntentState(w.State),
	}, nil
}

// --- block-proposals topic ---

type blockProposalWire struct {
	Round     uint32 `json:"round"`
	BlockData []byte `json:"block_data"`
}

func encodeBlockProposal(round uint32, block *chainengine.Block) ([]byte, error) {
	return json.Marshal(blockProposalWire{Round: round, BlockData: block.Encode()})
}

func decodeBlockProposal(data []byte) (uint32, *chainengine.Block, error) {
	var w blockProposalWire
	if err := json.Unmarshal(data, &w); err != nil {
		return 0, nil, err
	}
	block, err := chainengine.DecodeBlock(w.BlockData)
	if err != nil {
		return 0, nil, err
	}
	return w.Round, block, nil
}

// --- votes topic ---

type voteWire struct {
	Sender    string `json:"sender"`
	Round     uint32 `json:"round"`
	BlockHash string `json:"block_hash"`
	VoteType  int    `json:"vote_type"`
}

func encodeVote(self types.Identifier, round uint32, blockHash [32]byte, voteType consensus.VoteType) ([]byte, error) {
	return json.Marshal(voteWire{Sender: hexIdentifier(self), Round: round, BlockHash: hex32(blockHash), VoteType: int(voteType)})
}

func decodeVote(data []byte) (types.Identifier, uint32, [32]byte, consensus.VoteType, error) {
	var w voteWire
	if err := json.Unmarshal(data, &w); err != nil {
		return types.Identifier{}, 0, [32]byte{}, 0, err
	}
	sender, err := parseIdentifier(w.Sender)
	if err != nil {
		return types.Identifier{}, 0, [32]byte{}, 0, err
	}
	hash, err := parseHex32(w.BlockHash)
	if err != nil {
		return types.Identifier{}, 0, [32]byte{}, 0, err
	}
	return sender, w.Round, hash, consensus.VoteType(w.VoteType), nil
}

// --- direct-message envelope (sent over DirectProtocol streams) ---

type round2Wire struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Data      []byte `json:"data"`
}

type signRequestWire struct {
	SignID  uint64 `json:"sign_id"`
	Message string `json:"message"`
}

type commitmentWire struct {
	Sender string `json:"sender"`
	Data   []byte `json:"data"`
	SignID uint64 `json:"sign_id,omitempty"`
}

type signPackageWire struct {
	SignID      uint64           `json:"sign_id"`
	Commitments []commitmentWire `json:"commitments"`
}

type shareWire struct {
	Sender string `json:"sender"`
	Data   []byte `json:"data"`
	SignID uint64 `json:"sign_id,omitempty"`
}

// directPayload is the plaintext carried inside an encryptedEnvelope's
// ciphertext: the one-of spec.md §6 describes for direct messages.
type directPayload struct {
	Kind        noded.DirectKind `json:"kind"`
	Round2      *round2Wire      `json:"round2,omitempty"`
	SignRequest *signRequestWire `json:"sign_request,omitempty"`
	SignPackage *signPackageWire `json:"sign_package,omitempty"`
	Commitment  *commitmentWire  `json:"commitment,omitempty"`
	Share       *shareWire       `json:"share,omitempty"`
}

func encodeDirectPayload(msg noded.DirectMessage) ([]byte, error) {
	p := directPayload{Kind: msg.Kind}
	switch msg.Kind {
	case noded.DirectPing, noded.DirectPong:
		// no body
	case noded.DirectRound2Package:
		p.Round2 = &round2Wire{
			Sender:    hexIdentifier(msg.Round2.Sender),
			Recipient: hexIdentifier(msg.Round2.Recipient),
			Data:      msg.Round2.Data,
		}
	case noded.DirectSignRequest:
		p.SignRequest = &signRequestWire{SignID: msg.SignRequest.SignID, Message: hex32(msg.SignRequest.Message)}
	case noded.DirectSignPackage:
		commitments := make([]commitmentWire, len(msg.SignPackage.Commitments))
		for i, c := range msg.SignPackage.Commitments {
			commitments[i] = commitmentWire{Sender: hexIdentifier(c.Sender), Data: c.Data}
		}
		p.SignPackage = &signPackageWire{SignID: msg.SignPackage.SignID, Commitments: commitments}
	case noded.DirectCommitment:
		p.Commitment = &commitmentWire{Sender: hexIdentifier(msg.Commitment.Sender), Data: msg.Commitment.Data, SignID: msg.SignID}
	case noded.DirectSignatureShare:
		p.Share = &shareWire{Sender: hexIdentifier(msg.Share.Sender), Data: msg.Share.Data, SignID: msg.SignID}
	default:
		return nil, fmt.Errorf("transport: unknown direct message kind %d", msg.Kind)
	}
	return json.Marshal(p)
}

func decodeDirectPayload(data []byte) (noded.DirectMessage, error) {
	var p directPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return noded.DirectMessage{}, err
	}
	msg := noded.DirectMessage{Kind: p.Kind}
	switch p.Kind {
	case noded.DirectPing, noded.DirectPong:
	case noded.DirectRound2Package:
		if p.Round2 == nil {
			return msg, fmt.Errorf("transport: round2 direct message missing body")
		}
		sender, err := parseIdentifier(p.Round2.Sender)
		if err != nil {
			return msg, err
		}
		recipient, err := parseIdentifier(p.Round2.Recipient)
		if err != nil {
			return msg, err
		}
		msg.Round2 = frost.Round2Package{Sender: sender, Recipient: recipient, Data: p.Round2.Data}
	case noded.DirectSignRequest:
		if p.SignRequest == nil {
			return msg, fmt.Errorf("transport: sign request direct message missing body")
		}
		message, err := parseHex32(p.SignRequest.Message)
		if err != nil {
			return msg, err
		}
		msg.SignRequest = noded.DirectSignRequestPayload{SignID: p.SignRequest.SignID, Message: message}
	case noded.DirectSignPackage:
		if p.SignPackage == nil {
			return msg, fmt.Errorf("transport: sign package direct message missing body")
		}
		commitments := make([]frost.SigningCommitment, len(p.SignPackage.Commitments))
		for i, c := range p.SignPackage.Commitments {
			sender, err := parseIdentifier(c.Sender)
			if err != nil {
				return msg, err
			}
			commitments[i] = frost.SigningCommitment{Sender: sender, Data: c.Data}
		}
		msg.SignPackage = noded.DirectSignPackagePayload{SignID: p.SignPackage.SignID, Commitments: commitments}
	case noded.DirectCommitment:
		if p.Commitment == nil {
			return msg, fmt.Errorf("transport: commitment direct message missing body")
		}
		sender, err := parseIdentifier(p.Commitment.Sender)
		if err != nil {
			return msg, err
		}
		msg.Commitment = frost.SigningCommitment{Sender: sender, Data: p.Commitment.Data}
		msg.SignID = p.Commitment.SignID
	case noded.DirectSignatureShare:
		if p.Share == nil {
			return msg, fmt.Errorf("transport: signature share direct message missing body")
		}
		sender, err := parseIdentifier(p.Share.Sender)
		if err != nil {
			return msg, err
		}
		msg.Share = frost.SignatureShare{Sender: sender, Data: p.Share.Data}
		msg.SignID = p.Share.SignID
	default:
		return msg, fmt.Errorf("transport: unknown direct message kind %d", p.Kind)
	}
	return msg, nil
}
