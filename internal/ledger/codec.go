package ledger

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Encode serialises a Transaction for persistence: version, timestamp,
// type, then each op's own encoding, each length-prefixed so decoding
// never has to guess an op's width.
func (t *Transaction) Encode() []byte {
	buf := new(bytes.Buffer)
	var verBuf [4]byte
	binary.BigEndian.PutUint32(verBuf[:], t.Version)
	buf.Write(verBuf[:])
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(t.Timestamp))
	buf.Write(tsBuf[:])
	writeLenPrefixed(buf, []byte(t.Type))

	var opCountBuf [4]byte
	binary.BigEndian.PutUint32(opCountBuf[:], uint32(len(t.Ops)))
	buf.Write(opCountBuf[:])
	for _, op := range t.Ops {
		enc := op.Encode()
		var opLenBuf [4]byte
		binary.BigEndian.PutUint32(opLenBuf[:], uint32(len(enc)))
		buf.Write(opLenBuf[:])
		buf.Write(enc)
	}
	return buf.Bytes()
}

func writeLenPrefixed(buf *bytes.Buffer, b []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	buf.Write(lenBuf[:])
	buf.Write(b)
}

func readLenPrefixed(r *bytes.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := readFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	out := make([]byte, n)
	if n > 0 {
		if _, err := readFull(r, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func readFull(r *bytes.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, fmt.Errorf("ledger: unexpected EOF")
		}
	}
	return total, nil
}

// DecodeTransaction reverses Encode.
func DecodeTransaction(data []byte) (*Transaction, error) {
	r := bytes.NewReader(data)

	var verBuf [4]byte
	if _, err := readFull(r, verBuf[:]); err != nil {
		return nil, fmt.Errorf("ledger: decode version: %w", err)
	}
	var tsBuf [8]byte
	if _, err := readFull(r, tsBuf[:]); err != nil {
		return nil, fmt.Errorf("ledger: decode timestamp: %w", err)
	}
	typeBytes, err := readLenPrefixed(r)
	if err != nil {
		return nil, fmt.Errorf("ledger: decode type: %w", err)
	}

	var opCountBuf [4]byte
	if _, err := readFull(r, opCountBuf[:]); err != nil {
		return nil, fmt.Errorf("ledger: decode op count: %w", err)
	}
	opCount := binary.BigEndian.Uint32(opCountBuf[:])

	tx := &Transaction{
		Version:   binary.BigEndian.Uint32(verBuf[:]),
		Timestamp: int64(binary.BigEndian.Uint64(tsBuf[:])),
		Type:      TransactionType(typeBytes),
	}

	for i := uint32(0); i < opCount; i++ {
		opBytes, err := readLenPrefixed(r)
		if err != nil {
			return nil, fmt.Errorf("ledger: decode op %d: %w", i, err)
		}
		op, err := decodeOp(opBytes)
		if err != nil {
			return nil, fmt.Errorf("ledger: decode op %d: %w", i, err)
		}
		tx.Ops = append(tx.Ops, op)
	}

	return tx, nil
}

func decodeOp(data []byte) (Op, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("ledger: empty op")
	}
	switch OpCode(data[0]) {
	case OpCodePush:
		if len(data) < 5 {
			return nil, fmt.Errorf("ledger: truncated Push op")
		}
		n := binary.BigEndian.Uint32(data[1:5])
		if uint32(len(data)-5) != n {
			return nil, fmt.Errorf("ledger: Push length mismatch")
		}
		return OpPush{Value: append([]byte(nil), data[5:]...)}, nil
	case OpCodeCheckOracle:
		return OpCheckOracle{}, nil
	case OpCodeIncrementBalance:
		return OpIncrementBalance{}, nil
	case OpCodeDecrementBalance:
		return OpDecrementBalance{}, nil
	default:
		return nil, fmt.Errorf("ledger: unknown op code %d", data[0])
	}
}
