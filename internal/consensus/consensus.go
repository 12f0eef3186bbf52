// Package consensus implements round-based leader rotation over the
// chain engine: WaitingForPropose -> Propose -> Prevote ->
// WaitingForPropose(round+1), grounded on
// original_source/crates/consensus/src/{lib.rs,main_loop.rs}.
package consensus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/klingon-exchange/threshold-node/internal/chainengine"
	"github.com/klingon-exchange/threshold-node/internal/corerr"
	"github.com/klingon-exchange/threshold-node/internal/ledger"
	"github.com/klingon-exchange/threshold-node/internal/types"
)

// Phase is one of the three states a round cycles through.
type Phase int

const (
	WaitingForPropose Phase = iota
	Propose
	Prevote
)

func (p Phase) String() string {
	switch p {
	case WaitingForPropose:
		return "waiting_for_propose"
	case Propose:
		return "propose"
	case Prevote:
		return "prevote"
	default:
		return "unknown"
	}
}

// VoteType distinguishes the two vote kinds tallied within the Prevote
// phase; spec.md §4.8 names no separate phase for precommits, only a
// second threshold gating finalisation.
type VoteType int

const (
	VotePrevote VoteType = iota
	VotePrecommit
)

func (v VoteType) String() string {
	if v == VotePrecommit {
		return "precommit"
	}
	return "prevote"
}

// DefaultRoundTime is the wall-clock period between automatic round
// advances, spec.md §4.8's ROUND_TIME.
const DefaultRoundTime = 10 * time.Second

// voteKey identifies a (round, block_hash) pair votes are tallied
// against; votes for a stale round or a different hash never count
// toward the current quorum.
type voteKey struct {
	round     uint32
	blockHash [32]byte
}

// Broadcaster publishes consensus messages — block proposals, prevotes,
// precommits, leader announcements — onto gossip. Kept narrow the same
// way deposit.Publisher decouples the deposit engine from transport.
type Broadcaster interface {
	BroadcastBlockProposal(ctx context.Context, round uint32, block *chainengine.Block) error
	BroadcastVote(ctx context.Context, round uint32, blockHash [32]byte, voteType VoteType) error
}

// Engine drives one node's view of consensus: its phase, round,
// validator set, and vote tallies.
type Engine struct {
	mu sync.Mutex

	self        types.Identifier
	chain       *chainengine.Engine
	broadcaster Broadcaster
	mempool     func() []*ledger.Transaction

	phase      Phase
	round      uint32
	validators map[types.Identifier]struct{}
	isLeader   bool

	currentBlock     *chainengine.Block
	currentBlockHash [32]byte
	prevotes         map[voteKey]map[types.Identifier]struct{}
	precommits       map[voteKey]map[types.Identifier]struct{}

	roundStart time.Time
}

// New constructs a consensus engine. mempool supplies the pending
// transactions a leader bundles into its next proposal.
func New(self types.Identifier, chain *chainengine.Engine, broadcaster Broadcaster, mempool func() []*ledger.Transaction) *Engine {
	return &Engine{
		self:        self,
		chain:       chain,
		broadcaster: broadcaster,
		mempool:     mempool,
		phase:       WaitingForPropose,
		validators:  make(map[types.Identifier]struct{}),
		prevotes:    make(map[voteKey]map[types.Identifier]struct{}),
		precommits:  make(map[voteKey]map[types.Identifier]struct{}),
	}
}

// SetBroadcaster installs the gossip broadcaster. Used when the
// broadcaster (the transport, which needs the node built from this
// engine) cannot exist yet at New.
func (e *Engine) SetBroadcaster(b Broadcaster) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.broadcaster = b
}

// AddValidator enrols a peer in the validator set.
func (e *Engine) AddValidator(id types.Identifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.validators[id] = struct{}{}
}

// SelectLeader deterministically picks round's leader: validators
// sorted ascending by identifier, indexed by round mod |validators|.
// Returns the zero Identifier and false if there are no validators.
func (e *Engine) SelectLeader(round uint32) (types.Identifier, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selectLeaderLocked(round)
}

func (e *Engine) selectLeaderLocked(round uint32) (types.Identifier, bool) {
	if len(e.validators) == 0 {
		return types.Identifier{}, false
	}
	ids := make([]types.Identifier, 0, len(e.validators))
	for id := range e.validators {
		ids = append(ids, id)
	}
	sorted := types.SortIdentifiers(ids)
	return sorted[int(round)%len(sorted)], true
}

// quorum returns ceil(2n/3) for n validators.
func quorum(n int) int {
	return (2*n + 2) / 3
}

// StartNewRound advances to the next round and, if this node is leader,
// proposes a block. Nodes with fewer than 2 validators never start a
// round, per spec.md §4.8.
func (e *Engine) StartNewRound(ctx context.Context, now time.Time) error {
	e.mu.Lock()
	if len(e.validators) < 2 {
		e.mu.Unlock()
		return nil
	}
	e.round++
	e.phase = Propose
	e.roundStart = now
	leader, ok := e.selectLeaderLocked(e.round)
	e.isLeader = ok && leader == e.self
	isLeader := e.isLeader
	round := e.round
	e.mu.Unlock()

	if !isLeader {
		return nil
	}
	return e.proposeBlock(ctx, round, now)
}

func (e *Engine) proposeBlock(ctx context.Context, round uint32, now time.Time) error {
	var mempool []*ledger.Transaction
	if e.mempool != nil {
		mempool = e.mempool()
	}
	block, err := e.chain.ProposeBlock(ctx, e.self, mempool, now)
	if err != nil {
		return corerr.New(corerr.KindInvalid, "consensus.proposeBlock", err)
	}
	if e.broadcaster != nil {
		if err := e.broadcaster.BroadcastBlockProposal(ctx, round, block); err != nil {
			return corerr.New(corerr.KindInvalid, "consensus.proposeBlock", fmt.Errorf("broadcast proposal: %w", err))
		}
	}
	return nil
}

// HandleProposal validates a received block proposal against the local
// tip and, if it extends it, adopts round as the current round,
// transitions to Prevote, and broadcasts a prevote for it. A proposal
// for a round older than the one this node has already moved past is
// rejected with a KindProtocolViolation error.
func (e *Engine) HandleProposal(ctx context.Context, round uint32, block *chainengine.Block) error {
	tip, hasTip := e.chain.Tip()
	if hasTip && block.Header.PrevHash != tip {
		return corerr.New(corerr.KindProtocolViolation, "consensus.HandleProposal", fmt.Errorf("proposal does not extend local tip"))
	}
	if block.Header.Height != e.chain.State().BlockHeight+1 {
		return corerr.New(corerr.KindProtocolViolation, "consensus.HandleProposal", fmt.Errorf("proposal height %d is not tip+1", block.Header.Height))
	}

	hash := block.Hash()
	e.mu.Lock()
	if round < e.round {
		e.mu.Unlock()
		return corerr.New(corerr.KindProtocolViolation, "consensus.HandleProposal", fmt.Errorf("proposal round %d is stale, current round %d", round, e.round))
	}
	e.round = round
	e.phase = Prevote
	e.currentBlock = block
	e.currentBlockHash = hash
	e.mu.Unlock()

	if e.broadcaster != nil {
		if err := e.broadcaster.BroadcastVote(ctx, round, hash, VotePrevote); err != nil {
			return corerr.New(corerr.KindInvalid, "consensus.HandleProposal", fmt.Errorf("broadcast prevote: %w", err))
		}
	}
	return e.recordPrevote(ctx, e.self, round, hash)
}

// HandlePrevote records sender's prevote for (round, blockHash). Once
// quorum is reached, the validator records its own precommit and
// broadcasts it.
func (e *Engine) HandlePrevote(ctx context.Context, sender types.Identifier, round uint32, blockHash [32]byte) error {
	return e.recordPrevote(ctx, sender, round, blockHash)
}

func (e *Engine) recordPrevote(ctx context.Context, sender types.Identifier, round uint32, blockHash [32]byte) error {
	key := voteKey{round: round, blockHash: blockHash}

	e.mu.Lock()
	set, ok := e.prevotes[key]
	if !ok {
		set = make(map[types.Identifier]struct{})
		e.prevotes[key] = set
	}
	set[sender] = struct{}{}
	reached := len(set) >= quorum(len(e.validators))
	alreadyPrecommitted := false
	if _, ok := e.precommits[key][e.self]; ok {
		alreadyPrecommitted = true
	}
	e.mu.Unlock()

	if !reached || alreadyPrecommitted {
		return nil
	}
	if e.broadcaster != nil {
		if err := e.broadcaster.BroadcastVote(ctx, round, blockHash, VotePrecommit); err != nil {
			// Reaching quorum is still recorded even if the precommit
			// announcement fails to send; other validators' own tallies
			// are unaffected by this node's broadcast outcome.
			_ = err
		}
	}
	return e.recordPrecommit(ctx, e.self, round, blockHash)
}

// HandlePrecommit records sender's precommit for (round, blockHash).
// Once quorum is reached, the block is finalised.
func (e *Engine) HandlePrecommit(ctx context.Context, sender types.Identifier, round uint32, blockHash [32]byte) error {
	return e.recordPrecommit(ctx, sender, round, blockHash)
}

func (e *Engine) recordPrecommit(ctx context.Context, sender types.Identifier, round uint32, blockHash [32]byte) error {
	key := voteKey{round: round, blockHash: blockHash}

	e.mu.Lock()
	set, ok := e.precommits[key]
	if !ok {
		set = make(map[types.Identifier]struct{})
		e.precommits[key] = set
	}
	set[sender] = struct{}{}
	reached := len(set) >= quorum(len(e.validators))
	block := e.currentBlock
	matches := block != nil && e.currentBlockHash == blockHash
	e.mu.Unlock()

	if !reached || !matches {
		return nil
	}
	return e.finalize(ctx, block)
}

func (e *Engine) finalize(ctx context.Context, block *chainengine.Block) error {
	if err := e.chain.FinalizeBlock(ctx, block); err != nil {
		return err
	}
	e.mu.Lock()
	e.phase = WaitingForPropose
	e.currentBlock = nil
	e.currentBlockHash = [32]byte{}
	e.mu.Unlock()
	return nil
}

// Phase returns the current phase.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Round returns the current round number.
func (e *Engine) Round() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.round
}

// IsLeader reports whether this node is the current round's leader.
func (e *Engine) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isLeader
}

// ValidatorCount returns the size of the validator set.
func (e *Engine) ValidatorCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.validators)
}
