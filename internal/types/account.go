package types

import "math"

// Account is a user's ledger entry. Mutated only by the ledger VM.
// Address is the user identity used at deposit time: the raw
// user_pubkey bytes (decoded from the hex given to CreateDepositIntent,
// debited by a withdrawal) held as a string, not hex-encoded.
type Account struct {
	Address   string
	BalanceSat uint64
}

// CreditSaturating adds amount to the balance, saturating at
// math.MaxUint64 instead of overflowing.
func (a *Account) CreditSaturating(amount uint64) {
	if amount > math.MaxUint64-a.BalanceSat {
		a.BalanceSat = math.MaxUint64
		return
	}
	a.BalanceSat += amount
}

// CreditStrict adds amount to the balance, returning false without
// mutating the account if doing so would overflow u64. This is the
// semantics the ledger VM's IncrementBalance op requires.
func (a *Account) CreditStrict(amount uint64) bool {
	if amount > math.MaxUint64-a.BalanceSat {
		return false
	}
	a.BalanceSat += amount
	return true
}

// DebitSaturating subtracts amount from the balance, floored at zero
// instead of underflowing.
func (a *Account) DebitSaturating(amount uint64) {
	if amount >= a.BalanceSat {
		a.BalanceSat = 0
		return
	}
	a.BalanceSat -= amount
}
