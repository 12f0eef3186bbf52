// Package store defines the durable key/value contract the core depends
// on for blocks, chain state, deposit intents, and tracked UTXOs, and
// ships a default sqlite-backed implementation grounded on
// internal/storage/storage.go's pragma and single-writer pool
// conventions.
package store

import "context"

// Store is the persistence contract. Every method is individually
// atomic; callers never assume multi-key transactions.
type Store interface {
	PutBlock(ctx context.Context, hash [32]byte, data []byte) error
	GetBlock(ctx context.Context, hash [32]byte) ([]byte, bool, error)

	PutHeightHash(ctx context.Context, height uint64, hash [32]byte) error
	GetHeightHash(ctx context.Context, height uint64) ([32]byte, bool, error)

	PutTip(ctx context.Context, hash [32]byte) error
	GetTip(ctx context.Context) ([32]byte, bool, error)

	PutChainState(ctx context.Context, data []byte) error
	GetChainState(ctx context.Context) ([]byte, bool, error)

	PutDepositIntent(ctx context.Context, trackingID string, data []byte) error
	GetDepositIntent(ctx context.Context, trackingID string) ([]byte, bool, error)
	ListDepositIntents(ctx context.Context) ([][]byte, error)

	PutUtxo(ctx context.Context, txid string, vout uint32, data []byte) error
	DeleteUtxo(ctx context.Context, txid string, vout uint32) error
	ListUtxos(ctx context.Context) ([][]byte, error)

	Close() error
}

// Key prefixes, per spec.md §6's persisted layout.
const (
	prefixBlock         = "b:"
	prefixHeight        = "h:"
	keyTip              = "h:tip"
	keyChainState       = "c:state"
	prefixDepositIntent = "d:"
	prefixUtxo          = "u:"
)
