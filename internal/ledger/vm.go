package ledger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klingon-exchange/threshold-node/internal/corerr"
	"github.com/klingon-exchange/threshold-node/internal/oracle"
	"github.com/klingon-exchange/threshold-node/internal/types"
)

// ErrStackUnderflow is returned when an op needs more operands than the
// stack currently holds.
var ErrStackUnderflow = errors.New("ledger: stack underflow")

// VM executes internal transactions against a ChainState clone. Failure
// of any op aborts the transaction without mutating the state passed in;
// callers should pass a Clone() and only swap it in on success.
type VM struct {
	Oracle oracle.Oracle
}

// NewVM constructs a VM bound to an oracle.
func NewVM(o oracle.Oracle) *VM {
	return &VM{Oracle: o}
}

// Execute runs tx against a scratch clone of state and returns that
// clone as the new state once the whole transaction succeeds. On any op
// failure it returns a non-nil error. The state passed in is never
// modified, since every mutation is staged on the clone.
func (vm *VM) Execute(ctx context.Context, state *types.ChainState, tx *Transaction) (*types.ChainState, error) {
	scratch := state.Clone()
	stack := make([][]byte, 0, 8)
	// allowance is a single transaction-scoped credit pool, not keyed by
	// address: CheckOracle validates a payment to the Bitcoin deposit
	// address, but IncrementBalance credits the ledger account keyed by
	// the user's identity (user_pubkey) — two different strings for the
	// same deposit. Gating on a shared scalar lets one CheckOracle
	// authorize the IncrementBalance that follows it regardless of which
	// address each op names.
	var allowance uint64

	pop := func() ([]byte, error) {
		if len(stack) == 0 {
			return nil, ErrStackUnderflow
		}
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v, nil
	}
	push := func(v []byte) { stack = append(stack, v) }
	pushBool := func(ok bool) {
		if ok {
			push([]byte{1})
		} else {
			push([]byte{0})
		}
	}

	for i, op := range tx.Ops {
		switch o := op.(type) {
		case OpPush:
			push(o.Value)

		case OpCheckOracle:
			txidB, err := pop()
			if err != nil {
				return state, corerr.New(corerr.KindInvalid, "ledger.Execute", fmt.Errorf("op %d CheckOracle: %w", i, err))
			}
			addressB, err := pop()
			if err != nil {
				return state, corerr.New(corerr.KindInvalid, "ledger.Execute", fmt.Errorf("op %d CheckOracle: %w", i, err))
			}
			amountB, err := pop()
			if err != nil {
				return state, corerr.New(corerr.KindInvalid, "ledger.Execute", fmt.Errorf("op %d CheckOracle: %w", i, err))
			}
			if len(amountB) != 8 {
				return state, corerr.New(corerr.KindInvalid, "ledger.Execute", fmt.Errorf("op %d CheckOracle: amount must be 8 bytes", i))
			}
			amount := binary.BigEndian.Uint64(amountB)
			address := string(addressB)
			txid := string(txidB)

			ok, err := vm.Oracle.ValidateTransaction(ctx, txid, address, amount)
			if err != nil {
				return state, corerr.New(corerr.KindOracleUnavailable, "ledger.Execute", err)
			}
			if ok {
				allowance += amount
			}
			pushBool(ok)

		case OpIncrementBalance:
			addressB, err := pop()
			if err != nil {
				return state, corerr.New(corerr.KindInvalid, "ledger.Execute", fmt.Errorf("op %d IncrementBalance: %w", i, err))
			}
			amountB, err := pop()
			if err != nil {
				return state, corerr.New(corerr.KindInvalid, "ledger.Execute", fmt.Errorf("op %d IncrementBalance: %w", i, err))
			}
			if len(amountB) != 8 {
				return state, corerr.New(corerr.KindInvalid, "ledger.Execute", fmt.Errorf("op %d IncrementBalance: amount must be 8 bytes", i))
			}
			amount := binary.BigEndian.Uint64(amountB)
			address := string(addressB)

			if allowance < amount {
				pushBool(false)
				continue
			}

			acc, ok := scratch.Accounts[address]
			if !ok {
				acc = &types.Account{Address: address}
				scratch.Accounts[address] = acc
			}
			if !acc.CreditStrict(amount) {
				// Overflow on increment is an abort, per spec.md §4.2.
				return state, corerr.New(corerr.KindInvalid, "ledger.Execute", fmt.Errorf("op %d IncrementBalance: balance overflow for %q", i, address))
			}
			allowance -= amount
			pushBool(true)

		case OpDecrementBalance:
			addressB, err := pop()
			if err != nil {
				return state, corerr.New(corerr.KindInvalid, "ledger.Execute", fmt.Errorf("op %d DecrementBalance: %w", i, err))
			}
			amountB, err := pop()
			if err != nil {
				return state, corerr.New(corerr.KindInvalid, "ledger.Execute", fmt.Errorf("op %d DecrementBalance: %w", i, err))
			}
			if len(amountB) != 8 {
				return state, corerr.New(corerr.KindInvalid, "ledger.Execute", fmt.Errorf("op %d DecrementBalance: amount must be 8 bytes", i))
			}
			amount := binary.BigEndian.Uint64(amountB)
			address := string(addressB)

			acc, ok := scratch.Accounts[address]
			if !ok {
				acc = &types.Account{Address: address}
				scratch.Accounts[address] = acc
			}
			acc.DebitSaturating(amount)
			pushBool(true)

		default:
			return state, corerr.New(corerr.KindInvalid, "ledger.Execute", fmt.Errorf("op %d: unknown op type %T", i, op))
		}
	}

	return scratch, nil
}
