package noded

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/klingon-exchange/threshold-node/internal/chainengine"
	"github.com/klingon-exchange/threshold-node/internal/consensus"
	"github.com/klingon-exchange/threshold-node/internal/deposit"
	"github.com/klingon-exchange/threshold-node/internal/frost"
	"github.com/klingon-exchange/threshold-node/internal/ledger"
	"github.com/klingon-exchange/threshold-node/internal/oracle"
	"github.com/klingon-exchange/threshold-node/internal/store"
	"github.com/klingon-exchange/threshold-node/internal/types"
	"github.com/klingon-exchange/threshold-node/internal/wallet"
	"github.com/klingon-exchange/threshold-node/internal/withdrawal"
)

const testGroupXOnlyHex = "79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"

func testGroupXOnly(t *testing.T) [32]byte {
	t.Helper()
	b, err := hex.DecodeString(testGroupXOnlyHex)
	if err != nil || len(b) != 32 {
		t.Fatalf("bad test fixture: %v", err)
	}
	var out [32]byte
	copy(out[:], b)
	return out
}

// noopTransport discards every gossip/direct send; used wherever a test
// only drives a single-node loop with no real peers to talk to.
type noopTransport struct{}

func (noopTransport) PublishDepositIntent(context.Context, *types.DepositIntent) error { return nil }
func (noopTransport) BroadcastBlockProposal(context.Context, uint32, *chainengine.Block) error {
	return nil
}
func (noopTransport) BroadcastVote(context.Context, uint32, [32]byte, consensus.VoteType) error {
	return nil
}
func (noopTransport) PublishStartDKG(context.Context) error                      { return nil }
func (noopTransport) PublishRound1(context.Context, frost.Round1Package) error    { return nil }
func (noopTransport) SendDirect(context.Context, types.Identifier, DirectMessage) error {
	return nil
}

func newTestNode(t *testing.T) *Node {
	t.Helper()
	n, _ := newTestNodeWithOracle(t)
	return n
}

func newTestNodeWithOracle(t *testing.T) (*Node, *oracle.Fake) {
	t.Helper()
	groupKey := testGroupXOnly(t)
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

	depositEngine := deposit.New(groupKey, w, chain, mem, nil)
	cons := consensus.New(self, chain, nil, nil)
	cons.AddValidator(self)

	n := New(Config{
		Self:      self,
		Peers:     []types.Identifier{self},
		Transport: noopTransport{},
		Params:    params,
		Chain:     chain,
		Wallet:    w,
		Deposit:   depositEngine,
		Consensus: cons,
	})
	n.withdrawal = withdrawal.New(params, w, chain, fake, n)
	return n, fake
}

func runLoop(t *testing.T, n *Node) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = n.Run(ctx)
		close(done)
	}()
	return func() {
		cancel()
		<-done
	}
}

func TestCreateDepositIntentAndCreditBalance(t *testing.T) {
	n, fake := newTestNodeWithOracle(t)
	stop := runLoop(t, n)
	defer stop()

	result := make(chan CreateDepositIntentResult, 1)
	if err := n.Enqueue(EvCreateDepositIntent{UserPubKey: []byte("alice"), AmountSat: 10_000, Result: result}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	res := <-result
	if res.Err != nil {
		t.Fatalf("create deposit: %v", res.Err)
	}
	if res.TrackingID == "" || res.DepositAddress == "" {
		t.Fatalf("expected non-empty tracking id and address, got %+v", res)
	}

	pendingResult := make(chan []*types.DepositIntent, 1)
	if err := n.Enqueue(EvGetPendingDepositIntents{Result: pendingResult}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	pending := <-pendingResult
	if len(pending) != 1 || pending[0].TrackingID != res.TrackingID {
		t.Fatalf("expected one pending intent matching %s, got %+v", res.TrackingID, pending)
	}

	fake.ConfirmPayment("txid-1", res.DepositAddress, 10_000, 6)
	if err := n.Enqueue(EvExternalTxObserved{Tx: deposit.ConfirmedTx{
		Txid: "txid-1",
		Vout: []deposit.ConfirmedOutput{{Address: res.DepositAddress, ValueSat: 10_000}},
	}}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	balResult := make(chan uint64, 1)
	// Give the single-goroutine loop a chance to process the prior two
	// events before asking it for the balance; CheckBalance only reads
	// the chain's current state, which the loop mutates in order.
	deadline := time.After(time.Second)
	for {
		if err := n.Enqueue(EvCheckBalance{Address: "alice", Result: balResult}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		select {
		case bal := <-balResult:
			if bal == 10_000 {
				return
			}
		case <-deadline:
			t.Fatalf("balance never reached 10000 in time")
		}
	}
}

func TestGetChainInfoReflectsGenesis(t *testing.T) {
	n := newTestNode(t)
	stop := runLoop(t, n)
	defer stop()

	result := make(chan ChainInfoResult, 1)
	if err := n.Enqueue(EvGetChainInfo{Result: result}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	info := <-result
	if info.LatestHeight != 0 || info.TotalBlocks != 0 {
		t.Fatalf("expected genesis height 0, got %+v", info)
	}
}

func TestTriggerConsensusRoundSingleValidatorNoOp(t *testing.T) {
	n := newTestNode(t)
	stop := runLoop(t, n)
	defer stop()

	result := make(chan error, 1)
	if err := n.Enqueue(EvTriggerConsensusRound{Force: true, Result: result}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := <-result; err != nil {
		t.Fatalf("expected no-op success with a single validator, got %v", err)
	}
}

func TestEnqueueSurfacesBusyOnFullQueue(t *testing.T) {
	n := New(Config{
		Self:          types.Identifier{0x02},
		Transport:     noopTransport{},
		QueueCapacity: 1,
		Chain:         nil,
	})
	if err := n.Enqueue(EvStartDKG{}); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	err := n.Enqueue(EvStartDKG{})
	if err == nil {
		t.Fatalf("expected busy error on full queue")
	}
}
