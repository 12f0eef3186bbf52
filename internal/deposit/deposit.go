// Package deposit implements per-intent deposit address derivation,
// chain-watch reconciliation, and the internal Deposit transaction that
// credits a user's ledger balance once a payment is confirmed on-chain.
package deposit

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/google/uuid"

	"github.com/klingon-exchange/threshold-node/internal/chainengine"
	"github.com/klingon-exchange/threshold-node/internal/corerr"
	"github.com/klingon-exchange/threshold-node/internal/ledger"
	"github.com/klingon-exchange/threshold-node/internal/store"
	"github.com/klingon-exchange/threshold-node/internal/types"
	"github.com/klingon-exchange/threshold-node/internal/wallet"
)

// Publisher hands a DepositIntent to the gossip layer so every peer's
// deposit engine learns about it via the deposit-intents topic. A nil
// Publisher is valid for a single-node setup or tests; CreateDeposit
// simply skips the broadcast.
type Publisher interface {
	PublishDepositIntent(ctx context.Context, intent *types.DepositIntent) error
}

// Engine tracks pending and fulfilled DepositIntents and drives their
// per-address chain-watch.
type Engine struct {
	mu sync.Mutex

	groupXOnly [32]byte
	wallet     *wallet.Wallet
	chain      *chainengine.Engine
	store      store.Store
	publisher  Publisher

	intents        map[string]*types.DepositIntent // tracking id -> intent
	addresses      map[string]string               // deposit_address -> tracking id
	processedTxids map[string]bool
}

// New constructs a deposit engine bound to the node's group key, wallet,
// chain engine, and store. publisher may be nil.
func New(groupXOnly [32]byte, w *wallet.Wallet, chain *chainengine.Engine, s store.Store, publisher Publisher) *Engine {
	return &Engine{
		groupXOnly:     groupXOnly,
		wallet:         w,
		chain:          chain,
		store:          s,
		publisher:      publisher,
		intents:        make(map[string]*types.DepositIntent),
		addresses:      make(map[string]string),
		processedTxids: make(map[string]bool),
	}
}

// SetPublisher installs the gossip publisher. Used when the publisher
// (the transport, which needs the node built from this engine) cannot
// exist yet at New.
func (e *Engine) SetPublisher(p Publisher) {
	e.publisher = p
}

// Load restores every archived DepositIntent from the store, so a
// restarted node keeps watching every address it ever derived.
func (e *Engine) Load(ctx context.Context) error {
	blobs, err := e.store.ListDepositIntents(ctx)
	if err != nil {
		return corerr.New(corerr.KindStoreError, "deposit.Load", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, blob := range blobs {
		intent, err := types.DeserializeDepositIntent(blob)
		if err != nil {
			return corerr.New(corerr.KindStoreError, "deposit.Load", err)
		}
		e.intents[intent.TrackingID] = intent
		e.addresses[intent.DepositAddress] = intent.TrackingID
		if err := e.wallet.AddAddress(intent.DepositAddress, trackingTweak(intent.TrackingID)); err != nil {
			return corerr.New(corerr.KindInvalid, "deposit.Load", err)
		}
	}
	return nil
}

// trackingTweak derives the Taproot tweak from a tracking id: SHA256 of
// the UUID's string form.
func trackingTweak(trackingID string) [32]byte {
	return sha256.Sum256([]byte(trackingID))
}

// CreateDeposit derives a fresh tracking id and Taproot deposit address
// tweaked by SHA256(tracking_id), persists the intent, enrols the
// address with the wallet, and broadcasts it to peers.
func (e *Engine) CreateDeposit(ctx context.Context, userPubKey []byte, amountSat uint64, params *chaincfg.Params) (*types.DepositIntent, error) {
	trackingID := uuid.NewString()
	tweak := trackingTweak(trackingID)

	address, err := wallet.TweakedAddress(e.groupXOnly, tweak, params)
	if err != nil {
		return nil, corerr.New(corerr.KindInvalid, "deposit.CreateDeposit", fmt.Errorf("derive deposit address: %w", err))
	}

	intent := &types.DepositIntent{
		TrackingID:     trackingID,
		UserPubKey:     append([]byte(nil), userPubKey...),
		AmountSat:      amountSat,
		DepositAddress: address,
		Timestamp:      time.Now(),
		State:          types.DepositPending,
	}

	if err := e.persistAndTrack(ctx, intent); err != nil {
		return nil, err
	}

	if e.publisher != nil {
		// A failed broadcast never fails the deposit: the intent is
		// already durable on this node. A peer that misses the broadcast
		// does not track the address, since OnConfirmedTx only matches
		// addresses it already knows.
		_ = e.publisher.PublishDepositIntent(ctx, intent)
	}

	return intent, nil
}

// IngestIntent records an intent learned from a peer over the
// deposit-intents topic. It is idempotent: intents already known by
// tracking id are left untouched.
func (e *Engine) IngestIntent(ctx context.Context, intent *types.DepositIntent) error {
	e.mu.Lock()
	_, known := e.intents[intent.TrackingID]
	e.mu.Unlock()
	if known {
		return nil
	}
	return e.persistAndTrack(ctx, intent)
}

func (e *Engine) persistAndTrack(ctx context.Context, intent *types.DepositIntent) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.store.PutDepositIntent(ctx, intent.TrackingID, intent.Serialize()); err != nil {
		return corerr.New(corerr.KindStoreError, "deposit.persistAndTrack", err)
	}
	if err := e.wallet.AddAddress(intent.DepositAddress, trackingTweak(intent.TrackingID)); err != nil {
		return corerr.New(corerr.KindInvalid, "deposit.persistAndTrack", err)
	}
	e.intents[intent.TrackingID] = intent
	e.addresses[intent.DepositAddress] = intent.TrackingID
	return nil
}

// PendingIntents returns every intent still awaiting a confirmed
// payment.
func (e *Engine) PendingIntents() []*types.DepositIntent {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*types.DepositIntent
	for _, intent := range e.intents {
		if intent.State == types.DepositPending {
			out = append(out, intent.Clone())
		}
	}
	return out
}

// ConfirmedTx is one chain-observed output the poller reports to the
// deposit engine for reconciliation.
type ConfirmedTx struct {
	Txid string
	Vout []ConfirmedOutput
}

// ConfirmedOutput is one output of a ConfirmedTx.
type ConfirmedOutput struct {
	Address  string
	ValueSat uint64
}

// OnConfirmedTx inspects every output of tx; for each one paying a
// known, still-pending deposit address exactly intent.AmountSat, it
// submits the internal Deposit transaction that credits the user's
// balance through the ledger VM's CheckOracle/IncrementBalance ops, and
// marks the txid processed so a reorg-replay or duplicate report never
// double-credits.
func (e *Engine) OnConfirmedTx(ctx context.Context, tx ConfirmedTx) error {
	e.mu.Lock()
	if e.processedTxids[tx.Txid] {
		e.mu.Unlock()
		return nil
	}
	var matched []*types.DepositIntent
	for _, out := range tx.Vout {
		trackingID, ok := e.addresses[out.Address]
		if !ok {
			continue
		}
		intent := e.intents[trackingID]
		if intent == nil || intent.State != types.DepositPending {
			continue
		}
		if out.ValueSat != intent.AmountSat {
			continue
		}
		matched = append(matched, intent)
	}
	e.mu.Unlock()

	if len(matched) == 0 {
		return nil
	}

	allCredited := true
	for _, intent := range matched {
		var before uint64
		if acc := e.chain.State().Accounts[string(intent.UserPubKey)]; acc != nil {
			before = acc.BalanceSat
		}
		deposit := &ledger.Transaction{
			Version:   1,
			Timestamp: time.Now().Unix(),
			Type:      ledger.TransactionTypeDeposit,
			Ops: []ledger.Op{
				ledger.OpPush{Value: amountBytes(intent.AmountSat)},
				ledger.OpPush{Value: []byte(intent.DepositAddress)},
				ledger.OpPush{Value: []byte(tx.Txid)},
				ledger.OpCheckOracle{},
				ledger.OpPush{Value: amountBytes(intent.AmountSat)},
				ledger.OpPush{Value: intent.UserPubKey},
				ledger.OpIncrementBalance{},
			},
		}
		if _, err := e.chain.ExecuteTransaction(ctx, deposit); err != nil {
			return corerr.New(corerr.KindStoreError, "deposit.OnConfirmedTx", fmt.Errorf("execute deposit tx for %s: %w", intent.TrackingID, err))
		}
		// A failed oracle check credits nothing: the intent stays
		// pending and the txid is not marked processed.
		if acc := e.chain.State().Accounts[string(intent.UserPubKey)]; acc == nil || acc.BalanceSat == before {
			allCredited = false
			continue
		}

		e.mu.Lock()
		intent.State = types.DepositFulfilled
		if err := e.store.PutDepositIntent(ctx, intent.TrackingID, intent.Serialize()); err != nil {
			e.mu.Unlock()
			return corerr.New(corerr.KindStoreError, "deposit.OnConfirmedTx", err)
		}
		e.mu.Unlock()
	}

	if allCredited {
		e.mu.Lock()
		e.processedTxids[tx.Txid] = true
		e.mu.Unlock()
	}
	return nil
}

func amountBytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
