package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

// ChainState is the ledger's full in-memory state: the account table,
// the deposit intents still pending, and the current block height. It
// is serialised with a canonical, length-prefixed encoding so that
// deserialise(serialise(S)) == S bit-exactly for every reachable S.
type ChainState struct {
	Accounts              map[string]*Account
	PendingDepositIntents  []*DepositIntent
	BlockHeight           uint64
}

// NewChainState returns an empty ChainState at height 0.
func NewChainState() *ChainState {
	return &ChainState{Accounts: make(map[string]*Account)}
}

// Clone deep-copies the state so the chain engine can execute a
// transaction against a scratch copy and discard it on failure.
func (s *ChainState) Clone() *ChainState {
	out := &ChainState{
		Accounts:    make(map[string]*Account, len(s.Accounts)),
		BlockHeight: s.BlockHeight,
	}
	for addr, acc := range s.Accounts {
		cp := *acc
		out.Accounts[addr] = &cp
	}
	for _, intent := range s.PendingDepositIntents {
		out.PendingDepositIntents = append(out.PendingDepositIntents, intent.Clone())
	}
	return out
}

// Equal reports whether two states hold identical data, used by the
// serialisation round-trip tests.
func (s *ChainState) Equal(other *ChainState) bool {
	if s.BlockHeight != other.BlockHeight {
		return false
	}
	if len(s.Accounts) != len(other.Accounts) {
		return false
	}
	for addr, acc := range s.Accounts {
		oacc, ok := other.Accounts[addr]
		if !ok || oacc.BalanceSat != acc.BalanceSat || oacc.Address != acc.Address {
			return false
		}
	}
	if len(s.PendingDepositIntents) != len(other.PendingDepositIntents) {
		return false
	}
	for i, intent := range s.PendingDepositIntents {
		o := other.PendingDepositIntents[i]
		if intent.TrackingID != o.TrackingID || intent.DepositAddress != o.DepositAddress ||
			intent.AmountSat != o.AmountSat || intent.State != o.State ||
			!bytes.Equal(intent.UserPubKey, o.UserPubKey) {
			return false
		}
	}
	return true
}

func putUvarintBytes(buf *bytes.Buffer, b []byte) {
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(b)))
	buf.Write(lenBuf[:n])
	buf.Write(b)
}

func getUvarintBytes(r *bytes.Reader) ([]byte, error) {
	l, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	out := make([]byte, l)
	if _, err := r.Read(out); err != nil && l > 0 {
		return nil, err
	}
	return out, nil
}

// Serialize produces the canonical length-prefixed encoding of the
// state: accounts sorted by address, then pending intents in slice
// order, then the height.
func (s *ChainState) Serialize() []byte {
	buf := new(bytes.Buffer)

	addrs := make([]string, 0, len(s.Accounts))
	for addr := range s.Accounts {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	var countBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(countBuf[:], uint64(len(addrs)))
	buf.Write(countBuf[:n])
	for _, addr := range addrs {
		acc := s.Accounts[addr]
		putUvarintBytes(buf, []byte(addr))
		var balBuf [8]byte
		binary.BigEndian.PutUint64(balBuf[:], acc.BalanceSat)
		buf.Write(balBuf[:])
	}

	n = binary.PutUvarint(countBuf[:], uint64(len(s.PendingDepositIntents)))
	buf.Write(countBuf[:n])
	for _, intent := range s.PendingDepositIntents {
		putUvarintBytes(buf, []byte(intent.TrackingID))
		putUvarintBytes(buf, intent.UserPubKey)
		var amtBuf [8]byte
		binary.BigEndian.PutUint64(amtBuf[:], intent.AmountSat)
		buf.Write(amtBuf[:])
		putUvarintBytes(buf, []byte(intent.DepositAddress))
		var tsBuf [8]byte
		binary.BigEndian.PutUint64(tsBuf[:], uint64(intent.Timestamp.Unix()))
		buf.Write(tsBuf[:])
		putUvarintBytes(buf, []byte(intent.State))
	}

	var heightBuf [8]byte
	binary.BigEndian.PutUint64(heightBuf[:], s.BlockHeight)
	buf.Write(heightBuf[:])

	return buf.Bytes()
}

// DeserializeChainState reverses Serialize.
func DeserializeChainState(data []byte) (*ChainState, error) {
	r := bytes.NewReader(data)
	s := NewChainState()

	accCount, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("chainstate: read account count: %w", err)
	}
	for i := uint64(0); i < accCount; i++ {
		addrBytes, err := getUvarintBytes(r)
		if err != nil {
			return nil, fmt.Errorf("chainstate: read address: %w", err)
		}
		var balBuf [8]byte
		if _, err := r.Read(balBuf[:]); err != nil {
			return nil, fmt.Errorf("chainstate: read balance: %w", err)
		}
		addr := string(addrBytes)
		s.Accounts[addr] = &Account{Address: addr, BalanceSat: binary.BigEndian.Uint64(balBuf[:])}
	}

	intentCount, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("chainstate: read intent count: %w", err)
	}
	for i := uint64(0); i < intentCount; i++ {
		trackingID, err := getUvarintBytes(r)
		if err != nil {
			return nil, err
		}
		pubKey, err := getUvarintBytes(r)
		if err != nil {
			return nil, err
		}
		var amtBuf [8]byte
		if _, err := r.Read(amtBuf[:]); err != nil {
			return nil, err
		}
		addr, err := getUvarintBytes(r)
		if err != nil {
			return nil, err
		}
		var tsBuf [8]byte
		if _, err := r.Read(tsBuf[:]); err != nil {
			return nil, err
		}
		state, err := getUvarintBytes(r)
		if err != nil {
			return nil, err
		}
		s.PendingDepositIntents = append(s.PendingDepositIntents, &DepositIntent{
			TrackingID:     string(trackingID),
			UserPubKey:     pubKey,
			AmountSat:      binary.BigEndian.Uint64(amtBuf[:]),
			DepositAddress: string(addr),
			Timestamp:      unixToTime(binary.BigEndian.Uint64(tsBuf[:])),
			State:          DepositIntentState(state),
		})
	}

	var heightBuf [8]byte
	if _, err := r.Read(heightBuf[:]); err != nil {
		return nil, fmt.Errorf("chainstate: read height: %w", err)
	}
	s.BlockHeight = binary.BigEndian.Uint64(heightBuf[:])

	return s, nil
}
