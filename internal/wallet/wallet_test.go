package wallet

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/klingon-exchange/threshold-node/internal/oracle"
	"github.com/klingon-exchange/threshold-node/internal/store"
)

// secp256k1 generator point x-coordinate: a valid BIP340 x-only public
// key, used as a stand-in group verifying key in tests.
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

func TestTweakedAddressIsDeterministic(t *testing.T) {
	groupKey := testGroupXOnly(t)
	tweak := [32]byte{1, 2, 3}

	a1, err := TweakedAddress(groupKey, tweak, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("tweaked address: %v", err)
	}
	a2, err := TweakedAddress(groupKey, tweak, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("tweaked address: %v", err)
	}
	if a1 != a2 {
		t.Fatalf("expected deterministic address, got %q and %q", a1, a2)
	}

	other, err := TweakedAddress(groupKey, [32]byte{9, 9, 9}, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("tweaked address: %v", err)
	}
	if other == a1 {
		t.Fatalf("different tweaks must not collide")
	}
}

func TestWalletRefreshAndBuildSpend(t *testing.T) {
	ctx := context.Background()
	groupKey := testGroupXOnly(t)
	params := &chaincfg.MainNetParams

	changeAddr, err := CanonicalGroupAddress(groupKey, params)
	if err != nil {
		t.Fatalf("canonical address: %v", err)
	}

	fake := oracle.NewFake()
	mem := store.NewMemory()
	w := New(groupKey, params, fake, mem)

	depositTweak := [32]byte{7}
	depositAddr, err := TweakedAddress(groupKey, depositTweak, params)
	if err != nil {
		t.Fatalf("tweaked address: %v", err)
	}
	if err := w.AddAddress(depositAddr, depositTweak); err != nil {
		t.Fatalf("add address: %v", err)
	}
	if err := w.AddAddress(changeAddr, [32]byte{}); err != nil {
		t.Fatalf("add change address: %v", err)
	}

	script, err := AddressToScript(depositAddr, params)
	if err != nil {
		t.Fatalf("address to script: %v", err)
	}
	fake.AddUtxo(depositAddr, oracle.Utxo{
		Txid:          "11111111111111111111111111111111111111111111111111111111111111",
		Vout:          0,
		ValueSat:      100_000,
		ScriptPubKey:  script,
		Confirmations: 6,
	})

	if err := w.Refresh(ctx, false); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(w.utxos) != 1 {
		t.Fatalf("expected 1 tracked utxo, got %d", len(w.utxos))
	}

	recipientScript, err := AddressToScript(changeAddr, params)
	if err != nil {
		t.Fatalf("address to script: %v", err)
	}
	spend, err := w.BuildSpend(1_000, 300, recipientScript)
	if err != nil {
		t.Fatalf("build spend: %v", err)
	}
	if spend.Sighash == ([32]byte{}) {
		t.Fatalf("expected non-zero sighash")
	}

	var sig [64]byte
	for i := range sig {
		sig[i] = byte(i)
	}
	finalized, err := Finalize(spend.Tx, sig)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if len(finalized) <= len(spend.Tx) {
		t.Fatalf("expected finalized tx to be larger once the witness is attached")
	}
}

func TestBuildSpendFailsWhenNoSingleUtxoCovers(t *testing.T) {
	groupKey := testGroupXOnly(t)
	params := &chaincfg.MainNetParams
	w := New(groupKey, params, oracle.NewFake(), store.NewMemory())

	recipientScript, err := AddressToScript(mustCanonical(t, groupKey, params), params)
	if err != nil {
		t.Fatalf("address to script: %v", err)
	}
	if _, err := w.BuildSpend(1_000, 100, recipientScript); err == nil {
		t.Fatalf("expected insufficient funds error with no tracked utxos")
	}
}

func mustCanonical(t *testing.T, groupKey [32]byte, params *chaincfg.Params) string {
	t.Helper()
	addr, err := CanonicalGroupAddress(groupKey, params)
	if err != nil {
		t.Fatalf("canonical address: %v", err)
	}
	return addr
}
