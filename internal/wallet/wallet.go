package wallet

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/klingon-exchange/threshold-node/internal/corerr"
	"github.com/klingon-exchange/threshold-node/internal/oracle"
	"github.com/klingon-exchange/threshold-node/internal/store"
	"github.com/klingon-exchange/threshold-node/internal/types"
)

// DustThresholdSat is the minimum change output value; anything below
// this is folded into the fee instead of created as an output.
const DustThresholdSat = 546

// ExternalTx is the minimal shape of a chain-observed transaction the
// wallet needs to enrol matching outputs.
type ExternalTx struct {
	Txid string
	Vout []ExternalOutput
}

// ExternalOutput is one output of an ExternalTx.
type ExternalOutput struct {
	Index        uint32
	ValueSat     uint64
	ScriptPubKey []byte
}

// Wallet tracks every address derived from the group key and the
// UTXOs the oracle reports for them.
type Wallet struct {
	mu sync.Mutex

	groupXOnly [32]byte
	params     *chaincfg.Params
	oracle     oracle.Oracle
	store      store.Store

	// address -> derivation tweak
	addresses map[string][32]byte
	// raw script pubkey bytes -> address, for O(1) match in IngestExternalTx
	scriptToAddress map[string]string

	utxos map[types.Outpoint]*types.TrackedUtxo
}

// New constructs a wallet bound to the group's x-only verifying key.
func New(groupXOnly [32]byte, params *chaincfg.Params, o oracle.Oracle, s store.Store) *Wallet {
	return &Wallet{
		groupXOnly:      groupXOnly,
		params:          params,
		oracle:          o,
		store:           s,
		addresses:       make(map[string][32]byte),
		scriptToAddress: make(map[string]string),
		utxos:           make(map[types.Outpoint]*types.TrackedUtxo),
	}
}

// AddAddress registers an address the wallet should track, recording
// the tweak used to derive it from the group key so build_spend can
// reconstruct the signing path later.
func (w *Wallet) AddAddress(address string, tweak [32]byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	script, err := AddressToScript(address, w.params)
	if err != nil {
		return corerr.New(corerr.KindInvalid, "wallet.AddAddress", err)
	}
	w.addresses[address] = tweak
	w.scriptToAddress[string(script)] = address
	return nil
}

// Refresh requests the oracle for UTXOs across all tracked addresses
// and atomically replaces the tracked set.
func (w *Wallet) Refresh(ctx context.Context, allowUnconfirmed bool) error {
	w.mu.Lock()
	addresses := make([]string, 0, len(w.addresses))
	for addr := range w.addresses {
		addresses = append(addresses, addr)
	}
	scriptToAddress := make(map[string]string, len(w.scriptToAddress))
	for k, v := range w.scriptToAddress {
		scriptToAddress[k] = v
	}
	tweakByAddress := make(map[string][32]byte, len(w.addresses))
	for k, v := range w.addresses {
		tweakByAddress[k] = v
	}
	w.mu.Unlock()

	reported, err := w.oracle.ListUnspent(ctx, addresses)
	if err != nil {
		return corerr.New(corerr.KindOracleUnavailable, "wallet.Refresh", err)
	}

	next := make(map[types.Outpoint]*types.TrackedUtxo, len(reported))
	for _, u := range reported {
		if !allowUnconfirmed && u.Confirmations == 0 {
			continue
		}
		tweak := tweakByAddress[scriptToAddress[string(u.ScriptPubKey)]]

		op := types.Outpoint{Txid: u.Txid, Vout: u.Vout}
		next[op] = &types.TrackedUtxo{
			Outpoint:        op,
			ValueSat:        u.ValueSat,
			ScriptPubKey:    u.ScriptPubKey,
			DerivationTweak: tweak,
		}
	}

	w.mu.Lock()
	w.utxos = next
	w.mu.Unlock()

	if w.store == nil {
		return nil
	}
	existingBlobs, err := w.store.ListUtxos(ctx)
	if err != nil {
		return corerr.New(corerr.KindStoreError, "wallet.Refresh", err)
	}
	for _, blob := range existingBlobs {
		u, err := types.DeserializeTrackedUtxo(blob)
		if err != nil {
			return corerr.New(corerr.KindStoreError, "wallet.Refresh", err)
		}
		if _, ok := next[u.Outpoint]; !ok {
			if err := w.store.DeleteUtxo(ctx, u.Outpoint.Txid, u.Outpoint.Vout); err != nil {
				return corerr.New(corerr.KindStoreError, "wallet.Refresh", err)
			}
		}
	}
	for _, u := range next {
		if err := w.store.PutUtxo(ctx, u.Outpoint.Txid, u.Outpoint.Vout, u.Serialize()); err != nil {
			return corerr.New(corerr.KindStoreError, "wallet.Refresh", err)
		}
	}
	return nil
}

// IngestExternalTx enrols any outputs of tx whose script_pubkey
// matches a tracked address, returning the newly tracked UTXOs so the
// caller (the deposit engine) can react.
func (w *Wallet) IngestExternalTx(ctx context.Context, tx ExternalTx) ([]*types.TrackedUtxo, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var added []*types.TrackedUtxo
	for _, out := range tx.Vout {
		addr, ok := w.scriptToAddress[string(out.ScriptPubKey)]
		if !ok {
			continue
		}
		op := types.Outpoint{Txid: tx.Txid, Vout: out.Index}
		if _, exists := w.utxos[op]; exists {
			continue
		}
		u := &types.TrackedUtxo{
			Outpoint:        op,
			ValueSat:        out.ValueSat,
			ScriptPubKey:    out.ScriptPubKey,
			DerivationTweak: w.addresses[addr],
		}
		w.utxos[op] = u
		added = append(added, u)
		if w.store != nil {
			if err := w.store.PutUtxo(ctx, u.Outpoint.Txid, u.Outpoint.Vout, u.Serialize()); err != nil {
				return added, corerr.New(corerr.KindStoreError, "wallet.IngestExternalTx", err)
			}
		}
	}
	return added, nil
}

// BuildSpend selects a single UTXO covering amountSat+feeSat, builds a
// version-2 Taproot key-path spend with one recipient output and an
// optional change output, and returns the unsigned transaction bytes
// alongside its BIP-341 sighash.
func (w *Wallet) BuildSpend(amountSat, feeSat uint64, recipientScript []byte) (*types.PendingSpend, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	required := amountSat + feeSat
	var chosen *types.TrackedUtxo
	for _, u := range w.utxos {
		if u.ValueSat >= required {
			if chosen == nil || u.ValueSat < chosen.ValueSat {
				chosen = u
			}
		}
	}
	if chosen == nil {
		return nil, corerr.New(corerr.KindInsufficientFunds, "wallet.BuildSpend",
			fmt.Errorf("no single utxo covers %d sat (amount+fee)", required))
	}

	txHash, err := chainhash.NewHashFromStr(chosen.Outpoint.Txid)
	if err != nil {
		return nil, corerr.New(corerr.KindInvalid, "wallet.BuildSpend", err)
	}

	tx := wire.NewMsgTx(2)
	txIn := wire.NewTxIn(wire.NewOutPoint(txHash, chosen.Outpoint.Vout), nil, nil)
	tx.AddTxIn(txIn)

	tx.AddTxOut(wire.NewTxOut(int64(amountSat), recipientScript))

	change := chosen.ValueSat - required
	if change > DustThresholdSat {
		changeAddr, err := CanonicalGroupAddress(w.groupXOnly, w.params)
		if err != nil {
			return nil, corerr.New(corerr.KindInvalid, "wallet.BuildSpend", err)
		}
		changeScript, err := AddressToScript(changeAddr, w.params)
		if err != nil {
			return nil, corerr.New(corerr.KindInvalid, "wallet.BuildSpend", err)
		}
		tx.AddTxOut(wire.NewTxOut(int64(change), changeScript))
	}

	prevOutFetcher := txscript.NewCannedPrevOutputFetcher(chosen.ScriptPubKey, int64(chosen.ValueSat))
	sigHashes := txscript.NewTxSigHashes(tx, prevOutFetcher)
	sighash, err := txscript.CalcTaprootSignatureHash(sigHashes, txscript.SigHashDefault, tx, 0, prevOutFetcher)
	if err != nil {
		return nil, corerr.New(corerr.KindInvalid, "wallet.BuildSpend", fmt.Errorf("compute sighash: %w", err))
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, corerr.New(corerr.KindInvalid, "wallet.BuildSpend", err)
	}

	spend := &types.PendingSpend{
		Tx:              buf.Bytes(),
		RecipientScript: recipientScript,
		FeeSat:          feeSat,
	}
	copy(spend.Sighash[:], sighash)
	return spend, nil
}

// Finalize attaches a 64-byte Schnorr signature as the sole witness
// element of a Taproot key-path spend and returns the serialized,
// broadcast-ready transaction.
func Finalize(rawTx []byte, sig64 [64]byte) ([]byte, error) {
	tx := wire.NewMsgTx(2)
	if err := tx.Deserialize(bytes.NewReader(rawTx)); err != nil {
		return nil, corerr.New(corerr.KindInvalid, "wallet.Finalize", err)
	}
	if len(tx.TxIn) != 1 {
		return nil, corerr.New(corerr.KindInvalid, "wallet.Finalize", fmt.Errorf("expected exactly 1 input, got %d", len(tx.TxIn)))
	}

	sig, err := schnorr.ParseSignature(sig64[:])
	if err != nil {
		return nil, corerr.New(corerr.KindInvalid, "wallet.Finalize", err)
	}
	tx.TxIn[0].Witness = wire.TxWitness{sig.Serialize()}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, corerr.New(corerr.KindInvalid, "wallet.Finalize", err)
	}
	return buf.Bytes(), nil
}

// AddressToScript decodes a Bitcoin address into its script_pubkey.
func AddressToScript(address string, params *chaincfg.Params) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(addr)
}
