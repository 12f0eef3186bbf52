package rpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/klingon-exchange/threshold-node/internal/noded"
	"github.com/klingon-exchange/threshold-node/internal/types"
	"github.com/klingon-exchange/threshold-node/pkg/helpers"
)

// CreateDepositIntent

type createDepositIntentParams struct {
	UserPubKeyHex string `json:"user_pubkey"`
	AmountSat     uint64 `json:"amount_sat"`
}

type createDepositIntentResponse struct {
	TrackingID     string `json:"tracking_id"`
	DepositAddress string `json:"deposit_address"`
}

func (s *Server) createDepositIntent(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p createDepositIntentParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	pubKey, err := helpers.HexToBytes(p.UserPubKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid user_pubkey: %w", err)
	}

	result := make(chan noded.CreateDepositIntentResult, 1)
	if err := s.node.Enqueue(noded.EvCreateDepositIntent{UserPubKey: pubKey, AmountSat: p.AmountSat, Result: result}); err != nil {
		return nil, err
	}
	select {
	case r := <-result:
		if r.Err != nil {
			return nil, r.Err
		}
		return createDepositIntentResponse{TrackingID: r.TrackingID, DepositAddress: r.DepositAddress}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetPendingDepositIntents

type depositIntentInfo struct {
	TrackingID     string `json:"tracking_id"`
	UserPubKeyHex  string `json:"user_pubkey"`
	AmountSat      uint64 `json:"amount_sat"`
	DepositAddress string `json:"deposit_address"`
	State          string `json:"state"`
}

func (s *Server) getPendingDepositIntents(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	result := make(chan []*types.DepositIntent, 1)
	if err := s.node.Enqueue(noded.EvGetPendingDepositIntents{Result: result}); err != nil {
		return nil, err
	}
	select {
	case intents := <-result:
		out := make([]depositIntentInfo, 0, len(intents))
		for _, in := range intents {
			out = append(out, depositIntentInfo{
				TrackingID:     in.TrackingID,
				UserPubKeyHex:  hex.EncodeToString(in.UserPubKey),
				AmountSat:      in.AmountSat,
				DepositAddress: in.DepositAddress,
				State:          string(in.State),
			})
		}
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ProposeWithdrawal

type proposeWithdrawalParams struct {
	AmountSat       uint64  `json:"amount_sat"`
	AddressTo       string  `json:"address_to"`
	PublicKeyHex    string  `json:"public_key"`
	BlocksToConfirm *uint32 `json:"blocks_to_confirm,omitempty"`
}

type proposeWithdrawalResponse struct {
	QuoteSat     uint64 `json:"quote_sat"`
	ChallengeHex string `json:"challenge_hex"`
}

func (s *Server) proposeWithdrawal(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p proposeWithdrawalParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	pubKey, err := helpers.HexToBytes(p.PublicKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid public_key: %w", err)
	}

	result := make(chan noded.ProposeWithdrawalResult, 1)
	ev := noded.EvProposeWithdrawal{
		AmountSat:       p.AmountSat,
		AddressTo:       p.AddressTo,
		PublicKey:       pubKey,
		BlocksToConfirm: p.BlocksToConfirm,
		Result:          result,
	}
	if err := s.node.Enqueue(ev); err != nil {
		return nil, err
	}
	select {
	case r := <-result:
		if r.Err != nil {
			return nil, r.Err
		}
		return proposeWithdrawalResponse{QuoteSat: r.QuoteSat, ChallengeHex: r.ChallengeHex}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ConfirmWithdrawal

type confirmWithdrawalParams struct {
	ChallengeHex string `json:"challenge_hex"`
	SignatureHex string `json:"signature_hex"`
}

func (s *Server) confirmWithdrawal(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p confirmWithdrawalParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	result := make(chan error, 1)
	if err := s.node.Enqueue(noded.EvConfirmWithdrawal{ChallengeHex: p.ChallengeHex, SignatureHex: p.SignatureHex, Result: result}); err != nil {
		return nil, err
	}
	select {
	case err := <-result:
		if err != nil {
			return nil, err
		}
		return map[string]bool{"success": true}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CheckBalance

type checkBalanceParams struct {
	Address string `json:"address"`
}

func (s *Server) checkBalance(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p checkBalanceParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	result := make(chan uint64, 1)
	if err := s.node.Enqueue(noded.EvCheckBalance{Address: p.Address, Result: result}); err != nil {
		return nil, err
	}
	select {
	case balance := <-result:
		return map[string]uint64{"balance_sat": balance}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SpendFunds (testing-only)

type spendFundsParams struct {
	AmountSat uint64 `json:"amount_sat"`
	AddressTo string `json:"address_to"`
}

func (s *Server) spendFunds(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p spendFundsParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	result := make(chan error, 1)
	if err := s.node.Enqueue(noded.EvSpendFunds{AmountSat: p.AmountSat, AddressTo: p.AddressTo, Result: result}); err != nil {
		return nil, err
	}
	select {
	case err := <-result:
		if err != nil {
			return nil, err
		}
		return map[string]bool{"success": true}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// StartSigning

type startSigningParams struct {
	MessageHex string `json:"hex_message"`
}

type startSigningResponse struct {
	SignID uint64 `json:"sign_id"`
}

func (s *Server) startSigning(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p startSigningParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	msgBytes, err := helpers.HexToBytes(p.MessageHex)
	if err != nil || len(msgBytes) != 32 {
		return nil, fmt.Errorf("hex_message must be a 32-byte hex string")
	}
	var message [32]byte
	copy(message[:], msgBytes)

	result := make(chan noded.StartSigningResult, 1)
	if err := s.node.Enqueue(noded.EvStartSigningControl{Message: message, Result: result}); err != nil {
		return nil, err
	}
	select {
	case r := <-result:
		if r.Err != nil {
			return nil, r.Err
		}
		return startSigningResponse{SignID: r.SignID}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TriggerConsensusRound

type triggerConsensusRoundParams struct {
	Force bool `json:"force"`
}

func (s *Server) triggerConsensusRound(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p triggerConsensusRoundParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
	}
	result := make(chan error, 1)
	if err := s.node.Enqueue(noded.EvTriggerConsensusRound{Force: p.Force, Result: result}); err != nil {
		return nil, err
	}
	select {
	case err := <-result:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetChainInfo

type chainInfoResponse struct {
	LatestHeight    uint64 `json:"latest_height"`
	LatestBlockHash string `json:"latest_block_hash"`
	TotalBlocks     uint64 `json:"total_blocks"`
}

func (s *Server) getChainInfo(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	result := make(chan noded.ChainInfoResult, 1)
	if err := s.node.Enqueue(noded.EvGetChainInfo{Result: result}); err != nil {
		return nil, err
	}
	select {
	case r := <-result:
		return chainInfoResponse{
			LatestHeight:    r.LatestHeight,
			LatestBlockHash: hex.EncodeToString(r.LatestBlockHash[:]),
			TotalBlocks:     r.TotalBlocks,
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
