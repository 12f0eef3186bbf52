package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// fakeMempoolServer serves the handful of mempool.space-compatible
// endpoints ValidateTransaction/GetConfirmations need, with a fixed
// chain tip and one known transaction.
func fakeMempoolServer(t *testing.T, tipHeight, txBlockHeight int64, confirmed bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/blocks/tip/height", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(tipHeight)
	})
	mux.HandleFunc("/tx/known/status", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"confirmed":    confirmed,
			"block_height": txBlockHeight,
		})
	})
	mux.HandleFunc("/tx/known", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": map[string]interface{}{"confirmed": confirmed, "block_height": txBlockHeight},
			"vout": []map[string]interface{}{
				{"scriptpubkey_address": "addr1", "value": 50_000},
			},
		})
	})
	return httptest.NewServer(mux)
}

func TestValidateTransactionRejectsBelowConfirmationDepth(t *testing.T) {
	// Tip at 100, tx confirmed at 99: 2 confirmations, depth requires 6.
	srv := fakeMempoolServer(t, 100, 99, true)
	defer srv.Close()

	o := NewMempoolOracleWithConfirmationDepth(srv.URL, 6)
	ok, err := o.ValidateTransaction(context.Background(), "known", "addr1", 50_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected validation to fail for a payment below the confirmation depth")
	}
}

func TestValidateTransactionAcceptsAtConfirmationDepth(t *testing.T) {
	// Tip at 104, tx confirmed at 99: 6 confirmations, depth requires 6.
	srv := fakeMempoolServer(t, 104, 99, true)
	defer srv.Close()

	o := NewMempoolOracleWithConfirmationDepth(srv.URL, 6)
	ok, err := o.ValidateTransaction(context.Background(), "known", "addr1", 50_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected validation to succeed once the confirmation depth is reached")
	}
}

func TestValidateTransactionRejectsUnconfirmed(t *testing.T) {
	srv := fakeMempoolServer(t, 100, 0, false)
	defer srv.Close()

	o := NewMempoolOracleWithConfirmationDepth(srv.URL, 6)
	ok, err := o.ValidateTransaction(context.Background(), "known", "addr1", 50_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected validation to fail for an unconfirmed transaction")
	}
}
