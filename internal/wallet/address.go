// Package wallet tracks the node's group-derived Taproot addresses
// and UTXOs, and builds/finalizes key-path spends signed by the
// signing engine.
package wallet

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// TweakedAddress computes the P2TR address for the group's x-only
// verifying key tweaked by tweak, the same derivation create_deposit
// uses for per-intent deposit addresses.
func TweakedAddress(groupXOnly [32]byte, tweak [32]byte, params *chaincfg.Params) (string, error) {
	internalKey, err := schnorr.ParsePubKey(groupXOnly[:])
	if err != nil {
		return "", fmt.Errorf("parse group key: %w", err)
	}

	outputKey := txscript.ComputeTaprootOutputKey(internalKey, tweak[:])
	outputXOnly := schnorr.SerializePubKey(outputKey)

	addr, err := btcutil.NewAddressTaproot(outputXOnly, params)
	if err != nil {
		return "", fmt.Errorf("new taproot address: %w", err)
	}
	return addr.EncodeAddress(), nil
}

// CanonicalGroupAddress is the group key's own P2TR address with a
// zero tweak, used as the wallet's change address.
func CanonicalGroupAddress(groupXOnly [32]byte, params *chaincfg.Params) (string, error) {
	return TweakedAddress(groupXOnly, [32]byte{}, params)
}
