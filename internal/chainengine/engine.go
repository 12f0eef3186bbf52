package chainengine

import (
	"context"
	"fmt"
	"time"

	"github.com/klingon-exchange/threshold-node/internal/corerr"
	"github.com/klingon-exchange/threshold-node/internal/ledger"
	"github.com/klingon-exchange/threshold-node/internal/store"
	"github.com/klingon-exchange/threshold-node/internal/types"
)

// Engine owns the current ChainState and the block pipeline.
type Engine struct {
	store store.Store
	vm    *ledger.VM

	state *types.ChainState
	tip   [32]byte
	hasTip bool
}

// New constructs an Engine over store and vm. Callers should call Load
// before using the engine if a prior chain-state might already be
// persisted.
func New(s store.Store, vm *ledger.VM) *Engine {
	return &Engine{store: s, vm: vm, state: types.NewChainState()}
}

// Load restores state and tip from the store, if present.
func (e *Engine) Load(ctx context.Context) error {
	data, ok, err := e.store.GetChainState(ctx)
	if err != nil {
		return corerr.New(corerr.KindStoreError, "chainengine.Load", err)
	}
	if ok {
		state, err := types.DeserializeChainState(data)
		if err != nil {
			return corerr.New(corerr.KindStoreError, "chainengine.Load", err)
		}
		e.state = state
	}
	tip, ok, err := e.store.GetTip(ctx)
	if err != nil {
		return corerr.New(corerr.KindStoreError, "chainengine.Load", err)
	}
	if ok {
		e.tip = tip
		e.hasTip = true
	}
	return nil
}

// State returns the current chain state. Callers must not mutate it.
func (e *Engine) State() *types.ChainState { return e.state }

// Tip returns the current tip hash, if any.
func (e *Engine) Tip() ([32]byte, bool) { return e.tip, e.hasTip }

// CreateGenesis inserts a height-0 block whose initial-state blob
// encodes the validator set and chain config. Fails if the store
// already has a tip.
func (e *Engine) CreateGenesis(ctx context.Context, genesis GenesisState, now time.Time) (*Block, error) {
	if e.hasTip {
		return nil, corerr.New(corerr.KindInvalid, "chainengine.CreateGenesis", fmt.Errorf("chain already has a tip"))
	}
	if len(genesis.Validators) == 0 {
		return nil, corerr.New(corerr.KindInvalid, "chainengine.CreateGenesis", fmt.Errorf("genesis requires at least one validator"))
	}

	sorted := types.SortIdentifiers(genesis.Validators)
	genesisCopy := genesis
	genesisCopy.Validators = sorted
	block := &Block{
		Header: BlockHeader{
			Version:       1,
			PrevHash:      [32]byte{},
			TimestampUnix: now.Unix(),
			Height:        0,
			ProposerID:    sorted[0],
		},
		Body: BlockBody{Genesis: &genesisCopy},
	}

	hash := block.Hash()
	data := block.Encode()
	if err := e.store.PutBlock(ctx, hash, data); err != nil {
		return nil, corerr.New(corerr.KindStoreError, "chainengine.CreateGenesis", err)
	}
	if err := e.store.PutHeightHash(ctx, 0, hash); err != nil {
		return nil, corerr.New(corerr.KindStoreError, "chainengine.CreateGenesis", err)
	}
	if err := e.store.PutTip(ctx, hash); err != nil {
		return nil, corerr.New(corerr.KindStoreError, "chainengine.CreateGenesis", err)
	}

	e.state = types.NewChainState()
	if err := e.flush(ctx); err != nil {
		return nil, err
	}
	e.tip = hash
	e.hasTip = true

	return block, nil
}

// Genesis loads and decodes the height-0 block's initial-state blob:
// the validator set, group verifying key, and chain config committed at
// CreateGenesis. Returns (nil, false, nil) if the chain has no tip yet.
func (e *Engine) Genesis(ctx context.Context) (*GenesisState, bool, error) {
	hash, ok, err := e.store.GetHeightHash(ctx, 0)
	if err != nil {
		return nil, false, corerr.New(corerr.KindStoreError, "chainengine.Genesis", err)
	}
	if !ok {
		return nil, false, nil
	}
	data, ok, err := e.store.GetBlock(ctx, hash)
	if err != nil {
		return nil, false, corerr.New(corerr.KindStoreError, "chainengine.Genesis", err)
	}
	if !ok {
		return nil, false, nil
	}
	block, err := DecodeBlock(data)
	if err != nil {
		return nil, false, corerr.New(corerr.KindStoreError, "chainengine.Genesis", err)
	}
	if block.Body.Genesis == nil {
		return nil, false, nil
	}
	return block.Body.Genesis, true, nil
}

// ProposeBlock snapshots mempool into a block body and forms a header
// with the current UNIX time and height = tip.height + 1.
func (e *Engine) ProposeBlock(ctx context.Context, proposer types.Identifier, mempool []*ledger.Transaction, now time.Time) (*Block, error) {
	prevHash, ok := e.Tip()
	if !ok {
		return nil, corerr.New(corerr.KindInvalid, "chainengine.ProposeBlock", fmt.Errorf("no genesis block yet"))
	}
	return &Block{
		Header: BlockHeader{
			Version:       1,
			PrevHash:      prevHash,
			TimestampUnix: now.Unix(),
			Height:        e.state.BlockHeight + 1,
			ProposerID:    proposer,
		},
		Body: BlockBody{Transactions: mempool},
	}, nil
}

// ExecuteTransaction runs tx against a clone of the current state; on
// success it writes the new state through the store and swaps it in. On
// failure, neither state nor store change.
func (e *Engine) ExecuteTransaction(ctx context.Context, tx *ledger.Transaction) (*types.ChainState, error) {
	newState, err := e.vm.Execute(ctx, e.state, tx)
	if err != nil {
		return nil, err
	}
	e.state = newState
	if err := e.flush(ctx); err != nil {
		return nil, err
	}
	return e.state, nil
}

// Flush persists the current ChainState, per spec.md §4.3.
func (e *Engine) Flush(ctx context.Context) error {
	return e.flush(ctx)
}

func (e *Engine) flush(ctx context.Context) error {
	if err := e.store.PutChainState(ctx, e.state.Serialize()); err != nil {
		return corerr.New(corerr.KindStoreError, "chainengine.flush", err)
	}
	return nil
}

// FinalizeBlock writes block through the store, applies its
// transactions via the chain engine, and bumps height. Used by the
// consensus engine once a block gathers precommit quorum.
func (e *Engine) FinalizeBlock(ctx context.Context, block *Block) error {
	if block.Header.PrevHash != e.mustTip() {
		return corerr.New(corerr.KindInvalid, "chainengine.FinalizeBlock", fmt.Errorf("prev_hash does not match tip"))
	}
	if block.Header.Height != e.state.BlockHeight+1 {
		return corerr.New(corerr.KindInvalid, "chainengine.FinalizeBlock", fmt.Errorf("height is not monotonic: got %d, want %d", block.Header.Height, e.state.BlockHeight+1))
	}

	for _, tx := range block.Body.Transactions {
		if _, err := e.ExecuteTransaction(ctx, tx); err != nil {
			return err
		}
	}

	e.state.BlockHeight = block.Header.Height
	if err := e.flush(ctx); err != nil {
		return err
	}

	hash := block.Hash()
	if err := e.store.PutBlock(ctx, hash, block.Encode()); err != nil {
		return corerr.New(corerr.KindStoreError, "chainengine.FinalizeBlock", err)
	}
	if err := e.store.PutHeightHash(ctx, block.Header.Height, hash); err != nil {
		return corerr.New(corerr.KindStoreError, "chainengine.FinalizeBlock", err)
	}
	if err := e.store.PutTip(ctx, hash); err != nil {
		return corerr.New(corerr.KindStoreError, "chainengine.FinalizeBlock", err)
	}
	e.tip = hash
	return nil
}

func (e *Engine) mustTip() [32]byte {
	tip, _ := e.Tip()
	return tip
}
