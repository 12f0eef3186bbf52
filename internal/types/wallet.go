package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Outpoint identifies a Bitcoin transaction output.
type Outpoint struct {
	Txid string
	Vout uint32
}

// TrackedUtxo is a UTXO the wallet owns and can spend using the group
// key (possibly tweaked by a deposit's tracking id).
type TrackedUtxo struct {
	Outpoint        Outpoint
	ValueSat        uint64
	ScriptPubKey    []byte
	DerivationTweak [32]byte
}

// Serialize produces the canonical length-prefixed encoding stored
// under the utxo key prefix.
func (u *TrackedUtxo) Serialize() []byte {
	buf := new(bytes.Buffer)
	putUvarintBytes(buf, []byte(u.Outpoint.Txid))
	var voutBuf [4]byte
	binary.BigEndian.PutUint32(voutBuf[:], u.Outpoint.Vout)
	buf.Write(voutBuf[:])
	var valBuf [8]byte
	binary.BigEndian.PutUint64(valBuf[:], u.ValueSat)
	buf.Write(valBuf[:])
	putUvarintBytes(buf, u.ScriptPubKey)
	buf.Write(u.DerivationTweak[:])
	return buf.Bytes()
}

// DeserializeTrackedUtxo reverses Serialize.
func DeserializeTrackedUtxo(data []byte) (*TrackedUtxo, error) {
	r := bytes.NewReader(data)
	txid, err := getUvarintBytes(r)
	if err != nil {
		return nil, fmt.Errorf("trackedutxo: read txid: %w", err)
	}
	var voutBuf [4]byte
	if _, err := r.Read(voutBuf[:]); err != nil {
		return nil, fmt.Errorf("trackedutxo: read vout: %w", err)
	}
	var valBuf [8]byte
	if _, err := r.Read(valBuf[:]); err != nil {
		return nil, fmt.Errorf("trackedutxo: read value: %w", err)
	}
	script, err := getUvarintBytes(r)
	if err != nil {
		return nil, fmt.Errorf("trackedutxo: read script: %w", err)
	}
	var tweak [32]byte
	if _, err := r.Read(tweak[:]); err != nil {
		return nil, fmt.Errorf("trackedutxo: read tweak: %w", err)
	}
	return &TrackedUtxo{
		Outpoint:        Outpoint{Txid: string(txid), Vout: binary.BigEndian.Uint32(voutBuf[:])},
		ValueSat:        binary.BigEndian.Uint64(valBuf[:]),
		ScriptPubKey:    script,
		DerivationTweak: tweak,
	}, nil
}

// PendingSpend is created when a withdrawal is confirmed and destroyed
// on successful broadcast or session abort.
type PendingSpend struct {
	Tx              []byte // serialized, unsigned (or partially signed) wire transaction
	UserPubKey      []byte
	RecipientScript []byte
	FeeSat          uint64
	SignID          uint64
	Sighash         [32]byte
}
