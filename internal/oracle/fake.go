package oracle

import (
	"context"
	"fmt"
	"sync"
)

// Fake is a deterministic in-memory Oracle for tests. It never talks to
// the network; callers seed it with the UTXOs and confirmed payments
// they want it to report.
type Fake struct {
	mu sync.Mutex

	utxosByAddress map[string][]Utxo
	confirmations  map[string]uint32
	validPayments  map[string]payment // txid -> payment
	feePerVB       float64
	broadcasts     [][]byte
}

type payment struct {
	address string
	amount  uint64
}

// NewFake returns an empty Fake oracle with a default fee rate of 10
// sat/vB.
func NewFake() *Fake {
	return &Fake{
		utxosByAddress: make(map[string][]Utxo),
		confirmations:  make(map[string]uint32),
		validPayments:  make(map[string]payment),
		feePerVB:       10,
	}
}

// SetFeePerVB overrides the fee rate returned by FeePerVB.
func (f *Fake) SetFeePerVB(rate float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feePerVB = rate
}

// AddUtxo registers a spendable UTXO at address.
func (f *Fake) AddUtxo(address string, u Utxo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.utxosByAddress[address] = append(f.utxosByAddress[address], u)
}

// ConfirmPayment makes ValidateTransaction succeed for txid paying
// amountSat to address, and records confirmations confirmations deep.
func (f *Fake) ConfirmPayment(txid, address string, amountSat uint64, confirmations uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validPayments[txid] = payment{address: address, amount: amountSat}
	f.confirmations[txid] = confirmations
}

// Broadcasts returns every raw transaction handed to Broadcast, in order.
func (f *Fake) Broadcasts() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.broadcasts))
	copy(out, f.broadcasts)
	return out
}

func (f *Fake) ListUnspent(_ context.Context, addresses []string) ([]Utxo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Utxo
	for _, addr := range addresses {
		out = append(out, f.utxosByAddress[addr]...)
	}
	return out, nil
}

func (f *Fake) GetConfirmations(_ context.Context, txid string) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.confirmations[txid], nil
}

func (f *Fake) FeePerVB(_ context.Context, _ uint32) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.feePerVB, nil
}

func (f *Fake) Broadcast(_ context.Context, rawTx []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, append([]byte(nil), rawTx...))
	return fmt.Sprintf("broadcast-%d", len(f.broadcasts)), nil
}

func (f *Fake) ValidateTransaction(_ context.Context, txid, address string, amountSat uint64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.validPayments[txid]
	if !ok {
		return false, nil
	}
	return p.address == address && p.amount >= amountSat, nil
}
