package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Memory is an in-process Store used by engine tests so they don't need
// a sqlite file on disk.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) put(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := append([]byte(nil), value...)
	m.data[key] = cp
	return nil
}

func (m *Memory) get(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *Memory) delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Memory) listByPrefix(prefix string) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([][]byte, 0, len(keys))
	for _, k := range keys {
		out = append(out, append([]byte(nil), m.data[k]...))
	}
	return out, nil
}

func (m *Memory) PutBlock(_ context.Context, hash [32]byte, data []byte) error {
	return m.put(prefixBlock+fmt.Sprintf("%x", hash), data)
}

func (m *Memory) GetBlock(_ context.Context, hash [32]byte) ([]byte, bool, error) {
	return m.get(prefixBlock + fmt.Sprintf("%x", hash))
}

func (m *Memory) PutHeightHash(_ context.Context, height uint64, hash [32]byte) error {
	return m.put(fmt.Sprintf("%s%d", prefixHeight, height), hash[:])
}

func (m *Memory) GetHeightHash(_ context.Context, height uint64) ([32]byte, bool, error) {
	var out [32]byte
	v, ok, err := m.get(fmt.Sprintf("%s%d", prefixHeight, height))
	if err != nil || !ok {
		return out, ok, err
	}
	copy(out[:], v)
	return out, true, nil
}

func (m *Memory) PutTip(_ context.Context, hash [32]byte) error {
	return m.put(keyTip, hash[:])
}

func (m *Memory) GetTip(_ context.Context) ([32]byte, bool, error) {
	var out [32]byte
	v, ok, err := m.get(keyTip)
	if err != nil || !ok {
		return out, ok, err
	}
	copy(out[:], v)
	return out, true, nil
}

func (m *Memory) PutChainState(_ context.Context, data []byte) error {
	return m.put(keyChainState, data)
}

func (m *Memory) GetChainState(_ context.Context) ([]byte, bool, error) {
	return m.get(keyChainState)
}

func (m *Memory) PutDepositIntent(_ context.Context, trackingID string, data []byte) error {
	return m.put(prefixDepositIntent+trackingID, data)
}

func (m *Memory) GetDepositIntent(_ context.Context, trackingID string) ([]byte, bool, error) {
	return m.get(prefixDepositIntent + trackingID)
}

func (m *Memory) ListDepositIntents(_ context.Context) ([][]byte, error) {
	return m.listByPrefix(prefixDepositIntent)
}

func (m *Memory) PutUtxo(_ context.Context, txid string, vout uint32, data []byte) error {
	return m.put(utxoKey(txid, vout), data)
}

func (m *Memory) DeleteUtxo(_ context.Context, txid string, vout uint32) error {
	return m.delete(utxoKey(txid, vout))
}

func (m *Memory) ListUtxos(_ context.Context) ([][]byte, error) {
	return m.listByPrefix(prefixUtxo)
}

func (m *Memory) Close() error { return nil }
