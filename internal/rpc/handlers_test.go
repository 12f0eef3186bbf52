package rpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/klingon-exchange/threshold-node/internal/chainengine"
	"github.com/klingon-exchange/threshold-node/internal/consensus"
	"github.com/klingon-exchange/threshold-node/internal/deposit"
	"github.com/klingon-exchange/threshold-node/internal/frost"
	"github.com/klingon-exchange/threshold-node/internal/ledger"
	"github.com/klingon-exchange/threshold-node/internal/noded"
	"github.com/klingon-exchange/threshold-node/internal/oracle"
	"github.com/klingon-exchange/threshold-node/internal/store"
	"github.com/klingon-exchange/threshold-node/internal/types"
	"github.com/klingon-exchange/threshold-node/internal/wallet"
)

// noopTransport discards every gossip/direct send, mirroring
// internal/noded's own test harness: this package only exercises the
// RPC-to-event translation, never real networking.
type noopTransport struct{}

func (noopTransport) PublishDepositIntent(context.Context, *types.DepositIntent) error { return nil }
func (noopTransport) BroadcastBlockProposal(context.Context, uint32, *chainengine.Block) error {
	return nil
}
func (noopTransport) BroadcastVote(context.Context, uint32, [32]byte, consensus.VoteType) error {
	return nil
}
func (noopTransport) PublishStartDKG(context.Context) error                   { return nil }
func (noopTransport) PublishRound1(context.Context, frost.Round1Package) error { return nil }
func (noopTransport) SendDirect(context.Context, types.Identifier, noded.DirectMessage) error {
	return nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	groupXOnlyHex := "79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"
	b, err := hex.DecodeString(groupXOnlyHex)
	if err != nil || len(b) != 32 {
		t.Fatalf("bad test fixture: %v", err)
	}
	var groupKey [32]byte
	copy(groupKey[:], b)

	params := &chaincfg.MainNetParams
	fake := oracle.NewFake()
	mem := store.NewMemory()
	w := wallet.New(groupKey, params, fake, mem)
	vm := ledger.NewVM(fake)
	chain := chainengine.New(mem, vm)

	self := types.Identifier{0x01}
	if _, err := chain.CreateGenesis(context.Background(), chainengine.GenesisState{
		Validators: []types.Identifier{self},
	}, time.Unix(0, 0)); err != nil {
		t.Fatalf("create genesis: %v", err)
	}

	depositEngine := deposit.New(groupKey, w, chain, mem, noopTransport{})
	cons := consensus.New(self, chain, noopTransport{}, nil)
	cons.AddValidator(self)

	n := noded.New(noded.Config{
		Self:      self,
		Peers:     []types.Identifier{self},
		Transport: noopTransport{},
		Params:    params,
		Chain:     chain,
		Wallet:    w,
		Deposit:   depositEngine,
		Consensus: cons,
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go n.Run(ctx)

	return NewServer(n)
}

func callJSON(t *testing.T, s *Server, method string, params interface{}) (interface{}, error) {
	t.Helper()
	s.mu.RLock()
	handler, ok := s.handlers[method]
	s.mu.RUnlock()
	if !ok {
		t.Fatalf("no handler registered for %s", method)
	}
	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return handler(ctx, raw)
}

func TestCreateDepositIntentAndGetPending(t *testing.T) {
	s := newTestServer(t)

	result, err := callJSON(t, s, "CreateDepositIntent", createDepositIntentParams{
		UserPubKeyHex: hex.EncodeToString([]byte("alice")),
		AmountSat:     10_000,
	})
	if err != nil {
		t.Fatalf("create deposit intent: %v", err)
	}
	resp, ok := result.(createDepositIntentResponse)
	if !ok || resp.TrackingID == "" || resp.DepositAddress == "" {
		t.Fatalf("unexpected response: %+v", result)
	}

	pending, err := callJSON(t, s, "GetPendingDepositIntents", struct{}{})
	if err != nil {
		t.Fatalf("get pending: %v", err)
	}
	list, ok := pending.([]depositIntentInfo)
	if !ok || len(list) != 1 || list[0].TrackingID != resp.TrackingID {
		t.Fatalf("expected one pending intent matching %s, got %+v", resp.TrackingID, pending)
	}
}

func TestCreateDepositIntentRejectsBadPubKey(t *testing.T) {
	s := newTestServer(t)
	if _, err := callJSON(t, s, "CreateDepositIntent", map[string]interface{}{
		"user_pubkey": "not-hex",
		"amount_sat":  1000,
	}); err == nil {
		t.Fatalf("expected error for invalid hex pubkey")
	}
}

func TestGetChainInfoReflectsGenesis(t *testing.T) {
	s := newTestServer(t)
	result, err := callJSON(t, s, "GetChainInfo", struct{}{})
	if err != nil {
		t.Fatalf("get chain info: %v", err)
	}
	info, ok := result.(chainInfoResponse)
	if !ok || info.LatestHeight != 0 || info.TotalBlocks != 0 {
		t.Fatalf("expected genesis height 0, got %+v", result)
	}
}

func TestCheckBalanceStartsAtZero(t *testing.T) {
	s := newTestServer(t)
	result, err := callJSON(t, s, "CheckBalance", checkBalanceParams{Address: "alice"})
	if err != nil {
		t.Fatalf("check balance: %v", err)
	}
	m, ok := result.(map[string]uint64)
	if !ok || m["balance_sat"] != 0 {
		t.Fatalf("expected zero balance, got %+v", result)
	}
}

func TestTriggerConsensusRoundSingleValidatorNoOp(t *testing.T) {
	s := newTestServer(t)
	if _, err := callJSON(t, s, "TriggerConsensusRound", triggerConsensusRoundParams{Force: true}); err != nil {
		t.Fatalf("trigger consensus round: %v", err)
	}
}

func TestStartSigningRejectsWrongLengthMessage(t *testing.T) {
	s := newTestServer(t)
	if _, err := callJSON(t, s, "StartSigning", startSigningParams{MessageHex: "aabb"}); err == nil {
		t.Fatalf("expected error for short hex_message")
	}
}

func TestHandleRPCUnknownMethod(t *testing.T) {
	s := newTestServer(t)
	s.mu.RLock()
	_, ok := s.handlers["NotAMethod"]
	s.mu.RUnlock()
	if ok {
		t.Fatalf("did not expect a handler for an unregistered method")
	}
}
