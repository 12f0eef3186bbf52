package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// Sqlite is the default Store, backed by a single generic kv table
// keyed exactly on the prefixes spec.md §6 documents. Grounded on
// internal/storage/storage.go: same pragma string and single-writer
// connection pool (SQLite only supports one writer at a time).
type Sqlite struct {
	db *sql.DB
	mu sync.RWMutex
}

// Config holds the sqlite store's settings.
type Config struct {
	DataDir string
}

// Open creates (or opens) the sqlite-backed store under cfg.DataDir.
func Open(cfg Config) (*Sqlite, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}
	dbPath := filepath.Join(cfg.DataDir, "node.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping sqlite: %w", err)
	}

	s := &Sqlite{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sqlite) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key   TEXT PRIMARY KEY,
			value BLOB NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("store: init schema: %w", err)
	}
	return nil
}

func (s *Sqlite) put(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func (s *Sqlite) get(key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *Sqlite) delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key)
	return err
}

func (s *Sqlite) listByPrefix(prefix string) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`SELECT value FROM kv WHERE key LIKE ? ORDER BY key`, prefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var v []byte
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Sqlite) PutBlock(_ context.Context, hash [32]byte, data []byte) error {
	return s.put(prefixBlock+hex.EncodeToString(hash[:]), data)
}

func (s *Sqlite) GetBlock(_ context.Context, hash [32]byte) ([]byte, bool, error) {
	return s.get(prefixBlock + hex.EncodeToString(hash[:]))
}

func (s *Sqlite) PutHeightHash(_ context.Context, height uint64, hash [32]byte) error {
	return s.put(prefixHeight+strconv.FormatUint(height, 10), hash[:])
}

func (s *Sqlite) GetHeightHash(_ context.Context, height uint64) ([32]byte, bool, error) {
	var out [32]byte
	v, ok, err := s.get(prefixHeight + strconv.FormatUint(height, 10))
	if err != nil || !ok {
		return out, ok, err
	}
	copy(out[:], v)
	return out, true, nil
}

func (s *Sqlite) PutTip(_ context.Context, hash [32]byte) error {
	return s.put(keyTip, hash[:])
}

func (s *Sqlite) GetTip(_ context.Context) ([32]byte, bool, error) {
	var out [32]byte
	v, ok, err := s.get(keyTip)
	if err != nil || !ok {
		return out, ok, err
	}
	copy(out[:], v)
	return out, true, nil
}

func (s *Sqlite) PutChainState(_ context.Context, data []byte) error {
	return s.put(keyChainState, data)
}

func (s *Sqlite) GetChainState(_ context.Context) ([]byte, bool, error) {
	return s.get(keyChainState)
}

func (s *Sqlite) PutDepositIntent(_ context.Context, trackingID string, data []byte) error {
	return s.put(prefixDepositIntent+trackingID, data)
}

func (s *Sqlite) GetDepositIntent(_ context.Context, trackingID string) ([]byte, bool, error) {
	return s.get(prefixDepositIntent + trackingID)
}

func (s *Sqlite) ListDepositIntents(_ context.Context) ([][]byte, error) {
	return s.listByPrefix(prefixDepositIntent)
}

func utxoKey(txid string, vout uint32) string {
	return fmt.Sprintf("%s%s:%d", prefixUtxo, txid, vout)
}

func (s *Sqlite) PutUtxo(_ context.Context, txid string, vout uint32, data []byte) error {
	return s.put(utxoKey(txid, vout), data)
}

func (s *Sqlite) DeleteUtxo(_ context.Context, txid string, vout uint32) error {
	return s.delete(utxoKey(txid, vout))
}

func (s *Sqlite) ListUtxos(_ context.Context) ([][]byte, error) {
	return s.listByPrefix(prefixUtxo)
}

func (s *Sqlite) Close() error {
	return s.db.Close()
}
