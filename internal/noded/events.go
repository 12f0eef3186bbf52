// Package noded implements the single-threaded event loop that owns
// every core subsystem (DKG, signing, deposit, withdrawal, balance,
// consensus) and dispatches one inbound event at a time to each of
// them in a fixed order, the architecture original_source/crates/node/
// src/main_loop.rs calls its "handle" dispatch.
package noded

import (
	"time"

	"github.com/klingon-exchange/threshold-node/internal/chainengine"
	"github.com/klingon-exchange/threshold-node/internal/consensus"
	"github.com/klingon-exchange/threshold-node/internal/deposit"
	"github.com/klingon-exchange/threshold-node/internal/frost"
	"github.com/klingon-exchange/threshold-node/internal/types"
)

// Event is anything that can travel the node's single inbound channel.
// Clone returns a value every handler can hold onto independently, so
// one handler mutating its copy's slices never corrupts another's.
type Event interface {
	Clone() Event
}

// --- DKG events ---

// EvStartDKG triggers this node's DKG round-1 package generation, from
// either the start-dkg gossip topic or an operator-initiated bootstrap.
type EvStartDKG struct{}

func (e EvStartDKG) Clone() Event { return e }

// EvDKGRound1 is a peer's round-1 package received on the round1 gossip
// topic.
type EvDKGRound1 struct {
	Sender  types.Identifier
	Package frost.Round1Package
}

func (e EvDKGRound1) Clone() Event {
	cp := e
	cp.Package.Data = append([]byte(nil), e.Package.Data...)
	return cp
}

// EvDKGRound2 is a peer's round-2 package addressed to this node,
// received as a direct message.
type EvDKGRound2 struct {
	Sender  types.Identifier
	Package frost.Round2Package
}

func (e EvDKGRound2) Clone() Event {
	cp := e
	cp.Package.Data = append([]byte(nil), e.Package.Data...)
	return cp
}

// --- Signing events ---

// EvSigningStart is the self-event a coordinator enqueues once it has
// reserved a sign_id, picked up by the signing handler to actually
// stand up the coordinator session and solicit commitments.
type EvSigningStart struct {
	SignID  uint64
	Message [32]byte
}

func (e EvSigningStart) Clone() Event { return e }

// EvSignRequestReceived is a coordinator's request to this node to
// produce a round-1 commitment for a signing session.
type EvSignRequestReceived struct {
	Coordinator types.Identifier
	SignID      uint64
	Message     [32]byte
}

func (e EvSignRequestReceived) Clone() Event { return e }

// EvCommitmentReceived is a signer's round-1 commitment, addressed to
// the coordinator of SignID.
type EvCommitmentReceived struct {
	SignID     uint64
	Commitment frost.SigningCommitment
}

func (e EvCommitmentReceived) Clone() Event {
	cp := e
	cp.Commitment.Data = append([]byte(nil), e.Commitment.Data...)
	return cp
}

// EvSignPackageReceived carries the full commitment set a coordinator
// gathered, sent to every contributing signer so each can produce its
// round-2 share.
type EvSignPackageReceived struct {
	SignID      uint64
	Commitments []frost.SigningCommitment
}

func (e EvSignPackageReceived) Clone() Event {
	cp := e
	cp.Commitments = make([]frost.SigningCommitment, len(e.Commitments))
	for i, c := range e.Commitments {
		cp.Commitments[i] = frost.SigningCommitment{Sender: c.Sender, Data: append([]byte(nil), c.Data...)}
	}
	return cp
}

// EvSignatureShareReceived is a signer's round-2 share, addressed to
// the coordinator of SignID.
type EvSignatureShareReceived struct {
	SignID uint64
	Share  frost.SignatureShare
}

func (e EvSignatureShareReceived) Clone() Event {
	cp := e
	cp.Share.Data = append([]byte(nil), e.Share.Data...)
	return cp
}

// EvSigningComplete is the self-event the signing handler raises once a
// coordinator session aggregates a final signature. The withdrawal
// handler consumes it when SignID names a pending spend; otherwise it
// is an ad-hoc StartSigning session and is only recorded.
type EvSigningComplete struct {
	SignID    uint64
	Signature [64]byte
}

func (e EvSigningComplete) Clone() Event { return e }

// --- Deposit events ---

// EvDepositIntentGossip is a DepositIntent learned from a peer on the
// deposit-intents topic.
type EvDepositIntentGossip struct {
	Intent *types.DepositIntent
}

func (e EvDepositIntentGossip) Clone() Event {
	return EvDepositIntentGossip{Intent: e.Intent.Clone()}
}

// EvExternalTxObserved is a confirmed on-chain transaction the oracle
// poller reports for deposit reconciliation.
type EvExternalTxObserved struct {
	Tx deposit.ConfirmedTx
}

func (e EvExternalTxObserved) Clone() Event {
	cp := e
	cp.Tx.Vout = append([]deposit.ConfirmedOutput(nil), e.Tx.Vout...)
	return cp
}

// --- Consensus events ---

// EvBlockProposalGossip is a block proposal received on the
// block-proposals topic.
type EvBlockProposalGossip struct {
	Round uint32
	Block *chainengine.Block
}

func (e EvBlockProposalGossip) Clone() Event { return e }

// EvVoteGossip is a prevote or precommit received on the votes topic.
type EvVoteGossip struct {
	Sender    types.Identifier
	Round     uint32
	BlockHash [32]byte
	VoteType  consensus.VoteType
}

func (e EvVoteGossip) Clone() Event { return e }

// EvRoundTimerTick fires on a fixed cadence. The consensus handler
// starts a new round on a tick only when consensus is back in
// WaitingForPropose; a round still in Propose or Prevote is not
// restarted, however long it has run.
type EvRoundTimerTick struct {
	Now time.Time
}

func (e EvRoundTimerTick) Clone() Event { return e }

// --- Control-API events ---
//
// Every Control-API-originated event embeds its own result channel so
// the RPC layer that enqueued it can block for a synchronous response
// without the node loop ever calling back into the RPC layer directly.

// EvCreateDepositIntent implements CreateDepositIntent.
type EvCreateDepositIntent struct {
	UserPubKey []byte
	AmountSat  uint64
	Result     chan<- CreateDepositIntentResult
}

func (e EvCreateDepositIntent) Clone() Event { return e }

type CreateDepositIntentResult struct {
	TrackingID     string
	DepositAddress string
	Err            error
}

// EvGetPendingDepositIntents implements GetPendingDepositIntents.
type EvGetPendingDepositIntents struct {
	Result chan<- []*types.DepositIntent
}

func (e EvGetPendingDepositIntents) Clone() Event { return e }

// EvProposeWithdrawal implements ProposeWithdrawal.
type EvProposeWithdrawal struct {
	AmountSat       uint64
	AddressTo       string
	PublicKey       []byte
	BlocksToConfirm *uint32
	Result          chan<- ProposeWithdrawalResult
}

func (e EvProposeWithdrawal) Clone() Event { return e }

type ProposeWithdrawalResult struct {
	QuoteSat     uint64
	ChallengeHex string
	Err          error
}

// EvConfirmWithdrawal implements ConfirmWithdrawal.
type EvConfirmWithdrawal struct {
	ChallengeHex string
	SignatureHex string
	Result       chan<- error
}

func (e EvConfirmWithdrawal) Clone() Event { return e }

// EvCheckBalance implements CheckBalance.
type EvCheckBalance struct {
	Address string
	Result  chan<- uint64
}

func (e EvCheckBalance) Clone() Event { return e }

// EvSpendFunds implements the testing-only SpendFunds coordinator path:
// it builds and signs a spend directly, bypassing the propose/confirm
// challenge flow entirely.
type EvSpendFunds struct {
	AmountSat uint64
	AddressTo string
	Result    chan<- error
}

func (e EvSpendFunds) Clone() Event { return e }

// EvStartSigningControl implements the raw StartSigning control call.
type EvStartSigningControl struct {
	Message [32]byte
	Result  chan<- StartSigningResult
}

func (e EvStartSigningControl) Clone() Event { return e }

type StartSigningResult struct {
	SignID uint64
	Err    error
}

// EvGetGroupKey reports whether DKG has installed a group key yet, for
// callers outside the event loop goroutine (see Node.GroupKeyStatus).
type EvGetGroupKey struct {
	Result chan<- GroupKeyStatusResult
}

func (e EvGetGroupKey) Clone() Event { return e }

type GroupKeyStatusResult struct {
	Installed    bool
	VerifyingKey [32]byte
	MinSigners   int
	MaxSigners   int
}

// EvGetSigningResult reports whether a signing session has produced an
// aggregated signature yet, for callers outside the event loop
// goroutine (see Node.SigningResult).
type EvGetSigningResult struct {
	SignID uint64
	Result chan<- SigningResultResult
}

func (e EvGetSigningResult) Clone() Event { return e }

type SigningResultResult struct {
	Done      bool
	Signature [64]byte
}

// EvTriggerConsensusRound implements TriggerConsensusRound.
type EvTriggerConsensusRound struct {
	Force  bool
	Result chan<- error
}

func (e EvTriggerConsensusRound) Clone() Event { return e }

// EvGetChainInfo implements GetChainInfo.
type EvGetChainInfo struct {
	Result chan<- ChainInfoResult
}

func (e EvGetChainInfo) Clone() Event { return e }

type ChainInfoResult struct {
	LatestHeight    uint64
	LatestBlockHash [32]byte
	TotalBlocks     uint64
}
