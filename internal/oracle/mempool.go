package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// MempoolOracle implements Oracle against a mempool.space-compatible
// REST API (mempool.space itself, a self-hosted mirror, or any other
// Esplora-derived instance exposing the same endpoints).
type MempoolOracle struct {
	baseURL           string
	httpClient        *http.Client
	confirmationDepth uint32
}

// NewMempoolOracle builds an Oracle backed by baseURL, e.g.
// "https://mempool.space/api", requiring nodeconfig.DefaultConfirmationDepth
// confirmations before ValidateTransaction reports a payment valid.
func NewMempoolOracle(baseURL string) *MempoolOracle {
	return NewMempoolOracleWithConfirmationDepth(baseURL, defaultConfirmationDepth)
}

// defaultConfirmationDepth mirrors nodeconfig.DefaultConfirmationDepth;
// duplicated as a literal to keep this package free of a dependency on
// internal/nodeconfig for a single constant.
const defaultConfirmationDepth = 6

// NewMempoolOracleWithConfirmationDepth builds an Oracle backed by
// baseURL that requires depth confirmations before ValidateTransaction
// reports a payment valid, per spec.md §6's confirmation_depth.
func NewMempoolOracleWithConfirmationDepth(baseURL string, depth uint32) *MempoolOracle {
	return &MempoolOracle{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		confirmationDepth: depth,
	}
}

func (m *MempoolOracle) ListUnspent(ctx context.Context, addresses []string) ([]Utxo, error) {
	var out []Utxo
	for _, addr := range addresses {
		var raw []struct {
			TxID   string `json:"txid"`
			Vout   uint32 `json:"vout"`
			Value  uint64 `json:"value"`
			Status struct {
				Confirmed   bool  `json:"confirmed"`
				BlockHeight int64 `json:"block_height"`
			} `json:"status"`
		}
		if err := m.get(ctx, "/address/"+addr+"/utxo", &raw); err != nil {
			return nil, err
		}
		height, err := m.blockHeight(ctx)
		if err != nil {
			height = 0
		}
		for _, u := range raw {
			var confs uint32
			if u.Status.Confirmed && u.Status.BlockHeight > 0 && height > 0 {
				confs = uint32(height - u.Status.BlockHeight + 1)
			}
			out = append(out, Utxo{
				Txid:          u.TxID,
				Vout:          u.Vout,
				ValueSat:      u.Value,
				Confirmations: confs,
			})
		}
	}
	return out, nil
}

func (m *MempoolOracle) GetConfirmations(ctx context.Context, txid string) (uint32, error) {
	var status struct {
		Confirmed   bool  `json:"confirmed"`
		BlockHeight int64 `json:"block_height"`
	}
	if err := m.get(ctx, "/tx/"+txid+"/status", &status); err != nil {
		// unknown txid reports 0 confirmations, not an error
		return 0, nil
	}
	if !status.Confirmed {
		return 0, nil
	}
	height, err := m.blockHeight(ctx)
	if err != nil || height < status.BlockHeight {
		return 1, nil
	}
	return uint32(height - status.BlockHeight + 1), nil
}

// FeePerVB maps blocksToConfirm onto mempool.space's four named fee
// tiers (fastest/halfHour/hour/economy), picking the tier whose target
// is the smallest one at least as patient as blocksToConfirm.
func (m *MempoolOracle) FeePerVB(ctx context.Context, blocksToConfirm uint32) (float64, error) {
	var fees map[string]float64
	if err := m.get(ctx, "/v1/fees/recommended", &fees); err != nil {
		return 0, err
	}
	switch {
	case blocksToConfirm <= 1:
		return fees["fastestFee"], nil
	case blocksToConfirm <= 3:
		return fees["halfHourFee"], nil
	case blocksToConfirm <= 6:
		return fees["hourFee"], nil
	default:
		return fees["economyFee"], nil
	}
}

func (m *MempoolOracle) Broadcast(ctx context.Context, rawTx []byte) (string, error) {
	rawTxHex := fmt.Sprintf("%x", rawTx)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/tx", strings.NewReader(rawTxHex))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("broadcast: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("broadcast rejected: %s", strings.TrimSpace(string(body)))
	}
	return strings.TrimSpace(string(body)), nil
}

func (m *MempoolOracle) ValidateTransaction(ctx context.Context, txid, address string, amountSat uint64) (bool, error) {
	var tx struct {
		Vout []struct {
			ScriptPubKeyAddr string `json:"scriptpubkey_address"`
			Value            uint64 `json:"value"`
		} `json:"vout"`
	}
	if err := m.get(ctx, "/tx/"+txid, &tx); err != nil {
		return false, nil
	}
	paysAddress := false
	for _, out := range tx.Vout {
		if out.ScriptPubKeyAddr == address && out.Value >= amountSat {
			paysAddress = true
			break
		}
	}
	if !paysAddress {
		return false, nil
	}

	confirmations, err := m.GetConfirmations(ctx, txid)
	if err != nil {
		return false, nil
	}
	return confirmations >= m.confirmationDepth, nil
}

func (m *MempoolOracle) blockHeight(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/blocks/tip/height", nil)
	if err != nil {
		return 0, err
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	var height int64
	if err := json.Unmarshal(body, &height); err != nil {
		return 0, err
	}
	return height, nil
}

func (m *MempoolOracle) get(ctx context.Context, path string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(result)
}

var _ Oracle = (*MempoolOracle)(nil)
