// Package ledger implements the small op-stack VM the core applies to
// account state: Push, CheckOracle, IncrementBalance, grounded on
// original_source's protocol/{executor.rs,transaction.rs} but with
// strict (overflow-checked) balance arithmetic spec.md requires instead
// of the original's unchecked addition.
package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
)

// OpCode tags an Op's wire encoding.
type OpCode byte

const (
	OpCodePush            OpCode = 0
	OpCodeCheckOracle     OpCode = 1
	OpCodeIncrementBalance OpCode = 2
	OpCodeDecrementBalance OpCode = 3
)

// Op is one instruction of an internal transaction.
type Op interface {
	Code() OpCode
	Encode() []byte
}

// OpPush pushes a literal byte string onto the stack.
type OpPush struct {
	Value []byte
}

func (OpPush) Code() OpCode { return OpCodePush }

func (o OpPush) Encode() []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(byte(OpCodePush))
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(o.Value)))
	buf.Write(lenBuf[:])
	buf.Write(o.Value)
	return buf.Bytes()
}

// OpCheckOracle pops amount(be u64), address(utf8), txid(32B) and asks
// the oracle to confirm txid pays amount to address.
type OpCheckOracle struct{}

func (OpCheckOracle) Code() OpCode   { return OpCodeCheckOracle }
func (OpCheckOracle) Encode() []byte { return []byte{byte(OpCodeCheckOracle)} }

// OpIncrementBalance pops amount(be u64), address(utf8) and credits the
// account, gated by the transaction-scoped allowance table.
type OpIncrementBalance struct{}

func (OpIncrementBalance) Code() OpCode   { return OpCodeIncrementBalance }
func (OpIncrementBalance) Encode() []byte { return []byte{byte(OpCodeIncrementBalance)} }

// OpDecrementBalance pops amount(be u64), address(utf8) and debits the
// account, saturating at zero. Unlike IncrementBalance this is
// ungated: a withdrawal debit is an internal accounting step, not a
// claim against an oracle-verified external payment.
type OpDecrementBalance struct{}

func (OpDecrementBalance) Code() OpCode   { return OpCodeDecrementBalance }
func (OpDecrementBalance) Encode() []byte { return []byte{byte(OpCodeDecrementBalance)} }

// TransactionType distinguishes the kinds of internal transaction the
// chain engine executes.
type TransactionType string

const (
	TransactionTypeDeposit    TransactionType = "deposit"
	TransactionTypeWithdrawal TransactionType = "withdrawal"
)

// Transaction is one entry in a block body.
type Transaction struct {
	Version   uint32
	Timestamp int64
	Type      TransactionType
	Ops       []Op
}

// ID computes SHA256(version ‖ timestamp ‖ canonical(ops)), with version
// and timestamp encoded big-endian — spec.md does not fix an endianness
// for the transaction id; big-endian is chosen to match the op-level
// amount encoding spec.md §4.2 already mandates, giving one consistent
// byte order across the whole wire format (see DESIGN.md).
func (t *Transaction) ID() [32]byte {
	buf := new(bytes.Buffer)
	var verBuf [4]byte
	binary.BigEndian.PutUint32(verBuf[:], t.Version)
	buf.Write(verBuf[:])
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(t.Timestamp))
	buf.Write(tsBuf[:])
	for _, op := range t.Ops {
		buf.Write(op.Encode())
	}
	return sha256.Sum256(buf.Bytes())
}
