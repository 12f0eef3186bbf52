// Package oracle defines the contract the core uses to observe the
// Bitcoin chain: UTXOs, confirmations, fee estimates, and broadcast. The
// concrete oracle (a mempool.space/Esplora/Electrum client, or similar)
// is an external collaborator; this package only names the shape the
// core depends on, grounded on internal/backend's backend contract.
package oracle

import "context"

// Utxo is a single unspent output as reported by the oracle.
type Utxo struct {
	Txid         string
	Vout         uint32
	ValueSat     uint64
	ScriptPubKey []byte
	Confirmations uint32
}

// Oracle is the minimal Bitcoin chain view the core consumes.
type Oracle interface {
	// ListUnspent returns every UTXO currently paying one of the given
	// addresses.
	ListUnspent(ctx context.Context, addresses []string) ([]Utxo, error)

	// GetConfirmations returns the confirmation count for a txid, or 0
	// if the transaction is unknown to the oracle.
	GetConfirmations(ctx context.Context, txid string) (uint32, error)

	// FeePerVB returns the estimated fee rate, in satoshis per virtual
	// byte, for a transaction that should confirm within
	// blocksToConfirm blocks.
	FeePerVB(ctx context.Context, blocksToConfirm uint32) (float64, error)

	// Broadcast submits a raw signed transaction to the network,
	// returning its txid.
	Broadcast(ctx context.Context, rawTx []byte) (txid string, err error)

	// ValidateTransaction confirms that txid pays at least amountSat to
	// address and has reached the configured confirmation depth. This
	// backs the ledger VM's CheckOracle op.
	ValidateTransaction(ctx context.Context, txid, address string, amountSat uint64) (bool, error)
}
