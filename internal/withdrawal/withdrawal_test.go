package withdrawal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/klingon-exchange/threshold-node/internal/chainengine"
	"github.com/klingon-exchange/threshold-node/internal/corerr"
	"github.com/klingon-exchange/threshold-node/internal/ledger"
	"github.com/klingon-exchange/threshold-node/internal/oracle"
	"github.com/klingon-exchange/threshold-node/internal/store"
	"github.com/klingon-exchange/threshold-node/internal/types"
	"github.com/klingon-exchange/threshold-node/internal/wallet"
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

type fakeStarter struct {
	nextID  uint64
	started []uint64
}

func (s *fakeStarter) StartSigning(_ context.Context, _ [32]byte) (uint64, error) {
	s.nextID++
	s.started = append(s.started, s.nextID)
	return s.nextID, nil
}

func newTestEngine(t *testing.T) (*Engine, *chainengine.Engine, *oracle.Fake, *fakeStarter, *btcec.PrivateKey) {
	t.Helper()
	groupKey := testGroupXOnly(t)
	params := &chaincfg.MainNetParams

	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	userPubKey := priv.PubKey().SerializeCompressed()

	fake := oracle.NewFake()
	mem := store.NewMemory()
	w := wallet.New(groupKey, params, fake, mem)
	vm := ledger.NewVM(fake)
	chain := chainengine.New(mem, vm)

	// Credit the account with a deposit so it has a spendable balance.
	creditTx := &ledger.Transaction{
		Version:   1,
		Timestamp: time.Now().Unix(),
		Type:      ledger.TransactionTypeDeposit,
		Ops: []ledger.Op{
			ledger.OpPush{Value: amountBytes(100_000)},
			ledger.OpPush{Value: []byte("deposit-address")},
			ledger.OpPush{Value: []byte("txid-seed")},
			ledger.OpCheckOracle{},
			ledger.OpPush{Value: amountBytes(100_000)},
			ledger.OpPush{Value: userPubKey},
			ledger.OpIncrementBalance{},
		},
	}
	fake.ConfirmPayment("txid-seed", "deposit-address", 100_000, 6)
	if _, err := chain.ExecuteTransaction(context.Background(), creditTx); err != nil {
		t.Fatalf("seed credit: %v", err)
	}

	// Fund the wallet with a UTXO at the canonical group address so
	// BuildSpend has something to select.
	groupAddr, err := wallet.CanonicalGroupAddress(groupKey, params)
	if err != nil {
		t.Fatalf("canonical group address: %v", err)
	}
	if err := w.AddAddress(groupAddr, [32]byte{}); err != nil {
		t.Fatalf("add address: %v", err)
	}
	script, err := wallet.AddressToScript(groupAddr, params)
	if err != nil {
		t.Fatalf("address to script: %v", err)
	}
	fake.AddUtxo(groupAddr, oracle.Utxo{
		Txid:          "2222222222222222222222222222222222222222222222222222222222222222",
		Vout:          0,
		ValueSat:      1_000_000,
		ScriptPubKey:  script,
		Confirmations: 6,
	})
	if err := w.Refresh(context.Background(), false); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	starter := &fakeStarter{}
	e := New(params, w, chain, fake, starter)
	return e, chain, fake, starter, priv
}

func TestWithdrawalRoundtrip(t *testing.T) {
	ctx := context.Background()
	e, chain, fake, starter, priv := newTestEngine(t)
	userPubKey := priv.PubKey().SerializeCompressed()
	destAddr := externalAddress(t)

	quote, challenge, err := e.Propose(ctx, withdrawalIntent(userPubKey, 50_000, destAddr))
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if quote <= 50_000 {
		t.Fatalf("expected quote to include a fee, got %d", quote)
	}

	sig := signChallenge(t, priv, challenge)
	if err := e.Confirm(ctx, challenge, sig); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	if chain.State().Accounts[string(userPubKey)].BalanceSat != 100_000-quote {
		t.Fatalf("expected balance debited by quote, got %d", chain.State().Accounts[string(userPubKey)].BalanceSat)
	}
	if len(starter.started) != 1 {
		t.Fatalf("expected exactly one signing session started, got %d", len(starter.started))
	}

	signID := starter.started[0]
	var sig64 [64]byte
	txid, err := e.FinalizeAndBroadcast(ctx, signID, sig64)
	if err != nil {
		t.Fatalf("finalize and broadcast: %v", err)
	}
	if txid == "" {
		t.Fatalf("expected non-empty txid")
	}
	if len(fake.Broadcasts()) != 1 {
		t.Fatalf("expected exactly one broadcast")
	}
}

func TestConfirmRejectsBadSignature(t *testing.T) {
	ctx := context.Background()
	e, _, _, _, priv := newTestEngine(t)
	userPubKey := priv.PubKey().SerializeCompressed()

	_, challenge, err := e.Propose(ctx, withdrawalIntent(userPubKey, 10_000, externalAddress(t)))
	if err != nil {
		t.Fatalf("propose: %v", err)
	}

	other, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sig := signChallenge(t, other, challenge)

	if err := e.Confirm(ctx, challenge, sig); err == nil {
		t.Fatalf("expected signature verification to fail")
	}
}

func TestConfirmRejectsUnknownChallenge(t *testing.T) {
	ctx := context.Background()
	e, _, _, _, priv := newTestEngine(t)
	sig := signChallenge(t, priv, "deadbeef")

	err := e.Confirm(ctx, "not-a-real-challenge", sig)
	if err == nil {
		t.Fatalf("expected unknown challenge to be rejected")
	}
	if !corerr.Is(err, corerr.KindUnauthorized) {
		t.Fatalf("expected KindUnauthorized, got %v", err)
	}
}

func TestProposeRejectsInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	e, _, _, _, priv := newTestEngine(t)
	userPubKey := priv.PubKey().SerializeCompressed()

	_, _, err := e.Propose(ctx, withdrawalIntent(userPubKey, 1_000_000, externalAddress(t)))
	if err == nil {
		t.Fatalf("expected insufficient balance error")
	}
}

// externalAddress derives a P2TR address to stand in for a withdrawal
// recipient outside the federation, the same tweaked-address machinery
// the deposit engine uses, just with an arbitrary fixed tweak.
func externalAddress(t *testing.T) string {
	t.Helper()
	addr, err := wallet.TweakedAddress(testGroupXOnly(t), [32]byte{0xaa, 0xbb, 0xcc}, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("derive external address: %v", err)
	}
	return addr
}

func withdrawalIntent(pubKey []byte, amountSat uint64, addressTo string) types.WithdrawalIntent {
	return types.WithdrawalIntent{PublicKey: pubKey, AmountSat: amountSat, AddressTo: addressTo}
}

func signChallenge(t *testing.T, priv *btcec.PrivateKey, challengeHex string) string {
	t.Helper()
	digest := sha256.Sum256([]byte(challengeHex))
	sig := btcecdsa.Sign(priv, digest[:])
	return hex.EncodeToString(sig.Serialize())
}
