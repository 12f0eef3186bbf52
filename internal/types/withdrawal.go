package types

// WithdrawalIntent is the request behind a ProposeWithdrawal call.
// BlocksToConfirm is optional; nil means the withdrawal engine falls
// back to its default confirmation target when quoting a fee.
type WithdrawalIntent struct {
	AmountSat       uint64
	AddressTo       string
	PublicKey       []byte // compressed secp256k1 pubkey, the account's identity
	BlocksToConfirm *uint32
}

// WithdrawalChallenge pairs a proposed withdrawal with the nonce-derived
// challenge the user must sign to confirm it. Lives in memory only and
// is removed when Confirm looks it up; unconfirmed challenges do not
// expire.
type WithdrawalChallenge struct {
	Intent    WithdrawalIntent
	QuotedSat uint64
}
