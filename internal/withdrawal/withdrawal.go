// Package withdrawal implements the propose/confirm challenge-response
// flow that turns a user's signed request into a debit against their
// ledger balance and a FROST signing session for the Bitcoin spend.
package withdrawal

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/klingon-exchange/threshold-node/internal/chainengine"
	"github.com/klingon-exchange/threshold-node/internal/corerr"
	"github.com/klingon-exchange/threshold-node/internal/ledger"
	"github.com/klingon-exchange/threshold-node/internal/oracle"
	"github.com/klingon-exchange/threshold-node/internal/types"
	"github.com/klingon-exchange/threshold-node/internal/wallet"
	"github.com/klingon-exchange/threshold-node/pkg/helpers"
)

// DefaultConfirmationTarget is the blocks-to-confirm used when a
// ProposeWithdrawal call does not name one.
const DefaultConfirmationTarget = 6

// pessimisticFeeFactor pads the dry-run fee estimate the way the
// original multiplies the quoted fee rate by 1.2 before sizing the
// spend, so the real spend never needs a bigger input than the dry run
// assumed.
const pessimisticFeeFactor = 1.2

// SigningStarter begins a FROST signing session over sighash and
// returns the sign_id assigned to it. The withdrawal engine never
// touches signing internals directly — starting a session is a
// cross-handler self-event, the same boundary the deposit engine keeps
// against the gossip layer via Publisher.
type SigningStarter interface {
	StartSigning(ctx context.Context, sighash [32]byte) (signID uint64, err error)
}

// Engine tracks pending withdrawal challenges and the PendingSpends
// bound to an in-flight signing session.
type Engine struct {
	mu sync.Mutex

	params  *chaincfg.Params
	wallet  *wallet.Wallet
	chain   *chainengine.Engine
	oracle  oracle.Oracle
	starter SigningStarter

	challenges map[string]*types.WithdrawalChallenge // challenge_hex -> challenge
	spends     map[uint64]*types.PendingSpend         // sign_id -> pending spend
}

// New constructs a withdrawal engine.
func New(params *chaincfg.Params, w *wallet.Wallet, chain *chainengine.Engine, o oracle.Oracle, starter SigningStarter) *Engine {
	return &Engine{
		params:     params,
		wallet:     w,
		chain:      chain,
		oracle:     o,
		starter:    starter,
		challenges: make(map[string]*types.WithdrawalChallenge),
		spends:     make(map[uint64]*types.PendingSpend),
	}
}

// Propose validates the account has sufficient balance, quotes a total
// (amount plus a fee sized from a dry-run spend), and returns a
// challenge the caller must sign with the account's private key to
// confirm.
func (e *Engine) Propose(ctx context.Context, intent types.WithdrawalIntent) (quotedSat uint64, challengeHex string, err error) {
	address := string(intent.PublicKey)
	account := e.chain.State().Accounts[address]
	if account == nil || account.BalanceSat < intent.AmountSat {
		return 0, "", corerr.New(corerr.KindInsufficientFunds, "withdrawal.Propose",
			fmt.Errorf("account %q has insufficient balance for %d sat", address, intent.AmountSat))
	}

	target := uint32(DefaultConfirmationTarget)
	if intent.BlocksToConfirm != nil {
		target = *intent.BlocksToConfirm
	}
	recipientScript, err := wallet.AddressToScript(intent.AddressTo, e.params)
	if err != nil {
		return 0, "", corerr.New(corerr.KindInvalid, "withdrawal.Propose", err)
	}
	fee, err := e.quoteFee(ctx, intent.AmountSat, recipientScript, target)
	if err != nil {
		return 0, "", err
	}
	quote := intent.AmountSat + fee

	nonce, err := helpers.GenerateSecureRandom(16)
	if err != nil {
		return 0, "", corerr.New(corerr.KindInvalid, "withdrawal.Propose", fmt.Errorf("generate challenge nonce: %w", err))
	}
	digest := sha256.Sum256(nonce)
	challenge := hex.EncodeToString(digest[:])

	e.mu.Lock()
	e.challenges[challenge] = &types.WithdrawalChallenge{Intent: intent, QuotedSat: quote}
	e.mu.Unlock()

	return quote, challenge, nil
}

// quoteFee sizes a fee for a spend of amountSat to recipientScript by
// running a pessimistic dry-run spend first (so the real spend never
// needs a bigger input than assumed) and then refining the estimate
// from that dry run's actual serialized size.
func (e *Engine) quoteFee(ctx context.Context, amountSat uint64, recipientScript []byte, target uint32) (uint64, error) {
	feePerVB, err := e.oracle.FeePerVB(ctx, target)
	if err != nil {
		return 0, corerr.New(corerr.KindOracleUnavailable, "withdrawal.quoteFee", err)
	}
	pessimisticFee := uint64(feePerVB * pessimisticFeeFactor * 200) // ~200vB pessimistic single-input spend
	dry, err := e.wallet.BuildSpend(amountSat, pessimisticFee, recipientScript)
	if err != nil {
		return 0, err
	}
	vsize := estimateVsize(dry.Tx)
	return uint64(math.Ceil(feePerVB * float64(vsize))), nil
}

// Spend builds and signs a transaction straight from the group's UTXO
// set, bypassing the propose/confirm challenge entirely. Backs the
// testing-only SpendFunds control call; no ledger account is debited,
// since the spend is not attributed to any user balance.
func (e *Engine) Spend(ctx context.Context, amountSat uint64, addressTo string) (signID uint64, err error) {
	recipientScript, err := wallet.AddressToScript(addressTo, e.params)
	if err != nil {
		return 0, corerr.New(corerr.KindInvalid, "withdrawal.Spend", err)
	}
	fee, err := e.quoteFee(ctx, amountSat, recipientScript, DefaultConfirmationTarget)
	if err != nil {
		return 0, err
	}
	spend, err := e.wallet.BuildSpend(amountSat, fee, recipientScript)
	if err != nil {
		return 0, err
	}

	signID, err = e.starter.StartSigning(ctx, spend.Sighash)
	if err != nil {
		return 0, corerr.New(corerr.KindSessionAborted, "withdrawal.Spend", err)
	}
	spend.SignID = signID

	e.mu.Lock()
	e.spends[signID] = spend
	e.mu.Unlock()

	return signID, nil
}

// Confirm looks up and removes the challenge, verifies the ECDSA
// signature over SHA256(challenge_hex) against the account's public
// key, debits the quoted total, builds the real spend, and starts a
// signing session bound to its sighash.
func (e *Engine) Confirm(ctx context.Context, challengeHex, signatureHex string) error {
	e.mu.Lock()
	challenge, ok := e.challenges[challengeHex]
	if ok {
		delete(e.challenges, challengeHex)
	}
	e.mu.Unlock()
	if !ok {
		return corerr.New(corerr.KindUnauthorized, "withdrawal.Confirm", fmt.Errorf("unknown challenge %q", challengeHex))
	}

	ok, err := verifyChallengeSignature(challengeHex, signatureHex, challenge.Intent.PublicKey)
	if err != nil {
		return corerr.New(corerr.KindUnauthorized, "withdrawal.Confirm", err)
	}
	if !ok {
		return corerr.New(corerr.KindUnauthorized, "withdrawal.Confirm", fmt.Errorf("signature does not verify"))
	}

	address := string(challenge.Intent.PublicKey)
	account := e.chain.State().Accounts[address]
	if account == nil || account.BalanceSat < challenge.QuotedSat {
		// Re-check at confirm time: Propose's balance check only holds
		// at proposal time, and OpDecrementBalance saturates rather than
		// erroring, so without this a second challenge against an
		// already-spent balance would silently debit to zero and still
		// sign a real spend.
		return corerr.New(corerr.KindInsufficientFunds, "withdrawal.Confirm",
			fmt.Errorf("account %q has insufficient balance for quoted %d sat", address, challenge.QuotedSat))
	}
	debit := &ledger.Transaction{
		Version:   1,
		Timestamp: time.Now().Unix(),
		Type:      ledger.TransactionTypeWithdrawal,
		Ops: []ledger.Op{
			ledger.OpPush{Value: amountBytes(challenge.QuotedSat)},
			ledger.OpPush{Value: []byte(address)},
			ledger.OpDecrementBalance{},
		},
	}
	if _, err := e.chain.ExecuteTransaction(ctx, debit); err != nil {
		return corerr.New(corerr.KindStoreError, "withdrawal.Confirm", err)
	}

	recipientScript, err := wallet.AddressToScript(challenge.Intent.AddressTo, e.params)
	if err != nil {
		return corerr.New(corerr.KindInvalid, "withdrawal.Confirm", err)
	}
	fee := challenge.QuotedSat - challenge.Intent.AmountSat
	spend, err := e.wallet.BuildSpend(challenge.Intent.AmountSat, fee, recipientScript)
	if err != nil {
		return err
	}
	spend.UserPubKey = challenge.Intent.PublicKey

	signID, err := e.starter.StartSigning(ctx, spend.Sighash)
	if err != nil {
		return corerr.New(corerr.KindSessionAborted, "withdrawal.Confirm", err)
	}
	spend.SignID = signID

	e.mu.Lock()
	e.spends[signID] = spend
	e.mu.Unlock()

	return nil
}

// FinalizeAndBroadcast attaches sig to the PendingSpend bound to signID,
// broadcasts it, and retires the spend. Called by the node loop once
// the signing engine aggregates a signature for that session.
func (e *Engine) FinalizeAndBroadcast(ctx context.Context, signID uint64, sig [64]byte) (txid string, err error) {
	e.mu.Lock()
	spend, ok := e.spends[signID]
	if ok {
		delete(e.spends, signID)
	}
	e.mu.Unlock()
	if !ok {
		return "", corerr.New(corerr.KindInvalid, "withdrawal.FinalizeAndBroadcast", fmt.Errorf("unknown sign_id %d", signID))
	}

	rawTx, err := wallet.Finalize(spend.Tx, sig)
	if err != nil {
		return "", err
	}
	txid, err = e.oracle.Broadcast(ctx, rawTx)
	if err != nil {
		return "", corerr.New(corerr.KindOracleUnavailable, "withdrawal.FinalizeAndBroadcast", err)
	}
	return txid, nil
}

// HasSpend reports whether signID names a PendingSpend still awaiting a
// signature, so the node loop can route a completed signing session to
// FinalizeAndBroadcast only when it actually belongs to a withdrawal.
func (e *Engine) HasSpend(signID uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.spends[signID]
	return ok
}

// AbortSpend drops a PendingSpend whose signing session failed, without
// broadcasting anything. The debited balance is not refunded here; per
// spec.md this is an open question left to a future redesign.
func (e *Engine) AbortSpend(signID uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.spends, signID)
}

func verifyChallengeSignature(challengeHex, signatureHex string, pubKeyBytes []byte) (bool, error) {
	pubKey, err := btcec.ParsePubKey(pubKeyBytes)
	if err != nil {
		return false, fmt.Errorf("parse public key: %w", err)
	}
	sigBytes, err := helpers.HexToBytes(signatureHex)
	if err != nil {
		return false, fmt.Errorf("decode signature: %w", err)
	}
	sig, err := btcecdsa.ParseDERSignature(sigBytes)
	if err != nil {
		return false, fmt.Errorf("parse signature: %w", err)
	}
	digest := sha256.Sum256([]byte(challengeHex))
	return sig.Verify(digest[:], pubKey), nil
}

func amountBytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// estimateVsize approximates a transaction's virtual size from its
// serialized witness-free bytes, per the weight formula BIP141 defines:
// weight = 3*base_size + total_size, vsize = ceil(weight/4). rawTx here
// carries no witness yet (the dry-run spend is unsigned), so base_size
// and total_size coincide; a single Taproot key-path witness adds one
// ~65-byte stack item once signed, which this estimate accounts for as
// a flat pad since the dry run cannot know the real signature bytes.
func estimateVsize(rawTx []byte) int64 {
	const taprootWitnessPad = 17 // (1 marker + 1 flag + 1 count + 1 push-len + 64 sig + 1 bip141 discount)/4, rounded
	base := int64(len(rawTx))
	return base + taprootWitnessPad
}
