package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

// DepositIntentState tracks a DepositIntent through its lifecycle.
type DepositIntentState string

const (
	DepositPending  DepositIntentState = "pending"
	DepositFulfilled DepositIntentState = "fulfilled"
)

// DepositIntent is created by CreateDepositIntent and lives forever in
// the store once created (archival — never destroyed).
//
// The source this spec was distilled from has two competing schemas: one
// keyed by user_id/address, the other by user_pubkey. This type
// implements the latter, unified field per DESIGN.md.
type DepositIntent struct {
	TrackingID     string // UUIDv4
	UserPubKey     []byte
	AmountSat      uint64
	DepositAddress string
	Timestamp      time.Time
	State          DepositIntentState
}

// Clone returns a deep copy for safe travel across the event bus.
func (d *DepositIntent) Clone() *DepositIntent {
	if d == nil {
		return nil
	}
	out := *d
	out.UserPubKey = append([]byte(nil), d.UserPubKey...)
	return &out
}

// Serialize uses the same canonical length-prefixed encoding ChainState
// embeds its intents with, so the standalone `d:{tracking_id}` store
// record and the chain-state snapshot never disagree on wire format.
func (d *DepositIntent) Serialize() []byte {
	buf := new(bytes.Buffer)
	putUvarintBytes(buf, []byte(d.TrackingID))
	putUvarintBytes(buf, d.UserPubKey)
	var amtBuf [8]byte
	binary.BigEndian.PutUint64(amtBuf[:], d.AmountSat)
	buf.Write(amtBuf[:])
	putUvarintBytes(buf, []byte(d.DepositAddress))
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(d.Timestamp.Unix()))
	buf.Write(tsBuf[:])
	putUvarintBytes(buf, []byte(d.State))
	return buf.Bytes()
}

// DeserializeDepositIntent reverses Serialize.
func DeserializeDepositIntent(data []byte) (*DepositIntent, error) {
	r := bytes.NewReader(data)
	trackingID, err := getUvarintBytes(r)
	if err != nil {
		return nil, fmt.Errorf("depositintent: read tracking id: %w", err)
	}
	pubKey, err := getUvarintBytes(r)
	if err != nil {
		return nil, fmt.Errorf("depositintent: read user pubkey: %w", err)
	}
	var amtBuf [8]byte
	if _, err := r.Read(amtBuf[:]); err != nil {
		return nil, fmt.Errorf("depositintent: read amount: %w", err)
	}
	addr, err := getUvarintBytes(r)
	if err != nil {
		return nil, fmt.Errorf("depositintent: read deposit address: %w", err)
	}
	var tsBuf [8]byte
	if _, err := r.Read(tsBuf[:]); err != nil {
		return nil, fmt.Errorf("depositintent: read timestamp: %w", err)
	}
	state, err := getUvarintBytes(r)
	if err != nil {
		return nil, fmt.Errorf("depositintent: read state: %w", err)
	}
	return &DepositIntent{
		TrackingID:     string(trackingID),
		UserPubKey:     pubKey,
		AmountSat:      binary.BigEndian.Uint64(amtBuf[:]),
		DepositAddress: string(addr),
		Timestamp:      unixToTime(binary.BigEndian.Uint64(tsBuf[:])),
		State:          DepositIntentState(state),
	}, nil
}
