package chainengine

import (
	"context"
	"testing"
	"time"

	"github.com/klingon-exchange/threshold-node/internal/ledger"
	"github.com/klingon-exchange/threshold-node/internal/oracle"
	"github.com/klingon-exchange/threshold-node/internal/store"
	"github.com/klingon-exchange/threshold-node/internal/types"
)

func TestBlockEncodeDecodeRoundTrip(t *testing.T) {
	b := &Block{
		Header: BlockHeader{
			Version:       1,
			TimestampUnix: 1700000000,
			Height:        3,
			ProposerID:    types.Identifier{1, 2, 3},
		},
		Body: BlockBody{
			Transactions: []*ledger.Transaction{
				{Version: 1, Timestamp: 5, Type: ledger.TransactionTypeDeposit, Ops: []ledger.Op{
					ledger.OpPush{Value: []byte("x")},
					ledger.OpCheckOracle{},
				}},
			},
		},
	}
	h1 := b.Hash()

	decoded, err := DecodeBlock(b.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	h2 := decoded.Hash()
	if h1 != h2 {
		t.Fatalf("hash mismatch after round trip: %x != %x", h1, h2)
	}
	if decoded.Header.Height != 3 {
		t.Fatalf("height mismatch")
	}
}

func TestGenesisRejectsSecondCall(t *testing.T) {
	fake := oracle.NewFake()
	vm := ledger.NewVM(fake)
	s := store.NewMemory()
	e := New(s, vm)

	gen := GenesisState{
		Validators:        []types.Identifier{{1}, {2}, {3}},
		GroupVerifyingKey: [32]byte{9},
		Config:            ChainConfig{MinSigners: 2, MaxSigners: 3},
	}
	if _, err := e.CreateGenesis(context.Background(), gen, time.Unix(1000, 0)); err != nil {
		t.Fatalf("first genesis: %v", err)
	}
	if _, err := e.CreateGenesis(context.Background(), gen, time.Unix(1001, 0)); err == nil {
		t.Fatalf("expected error on second genesis call")
	}
}

func TestCreateGenesisRoundTripsInitialStateBlob(t *testing.T) {
	fake := oracle.NewFake()
	vm := ledger.NewVM(fake)
	s := store.NewMemory()
	e := New(s, vm)

	gen := GenesisState{
		Validators:        []types.Identifier{{3}, {1}, {2}},
		GroupVerifyingKey: [32]byte{7},
		Config:            ChainConfig{MinSigners: 2, MaxSigners: 3, BlockTimeSeconds: 10},
	}
	ctx := context.Background()
	if _, err := e.CreateGenesis(ctx, gen, time.Unix(1000, 0)); err != nil {
		t.Fatalf("genesis: %v", err)
	}

	got, ok, err := e.Genesis(ctx)
	if err != nil {
		t.Fatalf("Genesis: %v", err)
	}
	if !ok {
		t.Fatalf("expected a genesis record")
	}
	if got.GroupVerifyingKey != gen.GroupVerifyingKey {
		t.Fatalf("group verifying key mismatch")
	}
	if got.Config != gen.Config {
		t.Fatalf("config mismatch: got %+v, want %+v", got.Config, gen.Config)
	}
	wantValidators := types.SortIdentifiers(gen.Validators)
	if len(got.Validators) != len(wantValidators) {
		t.Fatalf("validator count mismatch: got %d, want %d", len(got.Validators), len(wantValidators))
	}
	for i := range wantValidators {
		if got.Validators[i] != wantValidators[i] {
			t.Fatalf("validator %d mismatch: got %x, want %x", i, got.Validators[i], wantValidators[i])
		}
	}

	// A fresh engine reading the same store (simulating a restart) sees
	// the identical persisted genesis blob.
	e2 := New(s, vm)
	if err := e2.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	got2, ok, err := e2.Genesis(ctx)
	if err != nil || !ok {
		t.Fatalf("Genesis after restart: ok=%v err=%v", ok, err)
	}
	if got2.Config != gen.Config {
		t.Fatalf("config mismatch after restart")
	}
}

func TestFinalizeBlockRejectsWrongHeight(t *testing.T) {
	fake := oracle.NewFake()
	vm := ledger.NewVM(fake)
	s := store.NewMemory()
	e := New(s, vm)

	gen := GenesisState{Validators: []types.Identifier{{1}}, Config: ChainConfig{MinSigners: 1, MaxSigners: 1}}
	genesisBlock, err := e.CreateGenesis(context.Background(), gen, time.Unix(1000, 0))
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}

	bad := &Block{Header: BlockHeader{
		PrevHash: genesisBlock.Hash(),
		Height:   5, // should be 1
	}}
	if err := e.FinalizeBlock(context.Background(), bad); err == nil {
		t.Fatalf("expected height monotonicity error")
	}
}
