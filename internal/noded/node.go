package noded

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/klingon-exchange/threshold-node/internal/chainengine"
	"github.com/klingon-exchange/threshold-node/internal/consensus"
	"github.com/klingon-exchange/threshold-node/internal/corerr"
	"github.com/klingon-exchange/threshold-node/internal/deposit"
	"github.com/klingon-exchange/threshold-node/internal/dkg"
	"github.com/klingon-exchange/threshold-node/internal/frost"
	"github.com/klingon-exchange/threshold-node/internal/signing"
	"github.com/klingon-exchange/threshold-node/internal/types"
	"github.com/klingon-exchange/threshold-node/internal/wallet"
	"github.com/klingon-exchange/threshold-node/internal/withdrawal"
	"github.com/klingon-exchange/threshold-node/pkg/logging"
)

// DefaultQueueCapacity is the inbound event channel's default size,
// per spec.md §4.9.
const DefaultQueueCapacity = 256

// DirectKind distinguishes the direct-message envelope's one-of
// variants, spec.md §6: Ping, Pong, Round2Package, SignRequest,
// SignPackage, Commitments, SignatureShare.
type DirectKind int

const (
	DirectPing DirectKind = iota
	DirectPong
	DirectRound2Package
	DirectSignRequest
	DirectSignPackage
	DirectCommitment
	DirectSignatureShare
)

// DirectMessage is the envelope carried over the node's peer-to-peer
// direct-message channel, addressed to exactly one recipient.
type DirectMessage struct {
	Kind DirectKind

	Round2      frost.Round2Package
	SignRequest DirectSignRequestPayload
	SignPackage DirectSignPackagePayload
	Commitment  frost.SigningCommitment
	Share       frost.SignatureShare

	// SignID names the signing session a Commitment or Share
	// belongs to; SigningCommitment and SignatureShare carry no
	// session identity of their own, so it travels alongside them.
	SignID uint64
}

type DirectSignRequestPayload struct {
	SignID  uint64
	Message [32]byte
}

type DirectSignPackagePayload struct {
	SignID      uint64
	Commitments []frost.SigningCommitment
}

// Transport is the narrow surface the node loop needs from the
// networking layer: gossip publication and direct addressed delivery.
// Kept separate from any concrete libp2p wiring the same way
// deposit.Publisher and consensus.Broadcaster decouple their engines.
type Transport interface {
	deposit.Publisher
	consensus.Broadcaster

	PublishStartDKG(ctx context.Context) error
	PublishRound1(ctx context.Context, pkg frost.Round1Package) error
	SendDirect(ctx context.Context, to types.Identifier, msg DirectMessage) error
}

// Node owns every core subsystem and the single goroutine that drains
// the inbound event channel, offering each event to the six handlers
// in a fixed order: DKG, Signing, Deposit, Withdrawal, Balance,
// Consensus. Cross-handler signaling never calls another handler
// directly — it always re-enters through a self-event on events.
type Node struct {
	self      types.Identifier
	peers     []types.Identifier
	transport Transport
	logger    *logging.Logger
	params    *chaincfg.Params

	chain      *chainengine.Engine
	wallet     *wallet.Wallet
	deposit    *deposit.Engine
	withdrawal *withdrawal.Engine
	consensus  *consensus.Engine

	dkgSession     *dkg.Session
	dkgMaxSigners  int
	dkgMinSigners  int
	signingManager *signing.Manager
	groupKey       *types.GroupKey

	coordinatorOf map[uint64]types.Identifier // sign_id -> coordinator, for signers
	signerSetOf   map[uint64][]types.Identifier
	completed     map[uint64][64]byte

	events chan Event
}

// Config bundles the subsystems and identities Node wires together.
type Config struct {
	Self          types.Identifier
	Peers         []types.Identifier
	Transport     Transport
	Logger        *logging.Logger
	Params        *chaincfg.Params
	Chain         *chainengine.Engine
	Wallet        *wallet.Wallet
	Deposit       *deposit.Engine
	Withdrawal    *withdrawal.Engine
	Consensus     *consensus.Engine
	DKGMaxSigners int
	DKGMinSigners int
	QueueCapacity int
}

// New constructs a Node. The DKG session is created later, when
// EvStartDKG is handled, and the group key is installed through
// SetGroupKey once a DKG run completes.
func New(cfg Config) *Node {
	capacity := cfg.QueueCapacity
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Node{
		self:           cfg.Self,
		peers:          cfg.Peers,
		transport:      cfg.Transport,
		logger:         logger,
		params:         cfg.Params,
		chain:          cfg.Chain,
		wallet:         cfg.Wallet,
		deposit:        cfg.Deposit,
		withdrawal:     cfg.Withdrawal,
		consensus:      cfg.Consensus,
		dkgMaxSigners:  cfg.DKGMaxSigners,
		dkgMinSigners:  cfg.DKGMinSigners,
		signingManager: signing.NewManager(),
		coordinatorOf:  make(map[uint64]types.Identifier),
		signerSetOf:    make(map[uint64][]types.Identifier),
		completed:      make(map[uint64][64]byte),
		events:         make(chan Event, capacity),
	}
}

// SetGroupKey installs the key package produced by a completed DKG run.
func (n *Node) SetGroupKey(gk *types.GroupKey) {
	n.groupKey = gk
}

// GroupKey returns the installed key package, or nil if DKG has not
// completed.
func (n *Node) GroupKey() *types.GroupKey {
	return n.groupKey
}

// SetTransport installs the transport. Used when the transport (which
// needs the Node to exist first, as the target of inbound events)
// cannot be passed in at New.
func (n *Node) SetTransport(t Transport) {
	n.transport = t
}

// SetWithdrawal installs the withdrawal engine. withdrawal.New requires
// the Node itself as its SigningStarter, so the engine can only be
// built once Node already exists; callers construct Node with
// Config.Withdrawal left nil and call this immediately afterward.
func (n *Node) SetWithdrawal(w *withdrawal.Engine) {
	n.withdrawal = w
}

// Enqueue offers ev to the event channel without blocking. A full
// queue surfaces corerr.KindBusy rather than backing up the caller —
// the control API and gossip intake both call this.
func (n *Node) Enqueue(ev Event) error {
	select {
	case n.events <- ev.Clone():
		return nil
	default:
		return corerr.New(corerr.KindBusy, "noded.Enqueue", fmt.Errorf("event queue full"))
	}
}

// Run drains the event channel until ctx is cancelled, offering every
// event to the six handlers in order. A handler error is logged and
// dispatch continues to the next handler and the next event — no
// single bad message may wedge the loop.
func (n *Node) Run(ctx context.Context) error {
	handlers := []Handler{
		&dkgHandler{n: n},
		&signingHandler{n: n},
		&depositHandler{n: n},
		&withdrawalHandler{n: n},
		&balanceHandler{n: n},
		&consensusHandler{n: n},
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-n.events:
			for _, h := range handlers {
				if err := h.Handle(ctx, ev); err != nil {
					n.logger.Error("event handler failed", "handler", fmt.Sprintf("%T", h), "error", err)
				}
			}
		}
	}
}

// Handler is implemented by each of the six core subsystems' event
// adapters. Implementations type-switch on ev and ignore shapes that
// are not theirs.
type Handler interface {
	Handle(ctx context.Context, ev Event) error
}

// StartSigning implements withdrawal.SigningStarter: it reserves a
// sign_id synchronously and hands the actual session setup to the
// signing handler via a self-event, so the withdrawal engine never
// touches signing internals directly.
func (n *Node) StartSigning(ctx context.Context, sighash [32]byte) (uint64, error) {
	signID := n.signingManager.NextSignID()
	if err := n.Enqueue(EvSigningStart{SignID: signID, Message: sighash}); err != nil {
		return 0, err
	}
	return signID, nil
}

// TickRoundTimer enqueues a round-timer tick. Intended to be called
// from a background ticker goroutine at consensus.DefaultRoundTime
// cadence; never runs consensus logic itself.
func (n *Node) TickRoundTimer(now time.Time) error {
	return n.Enqueue(EvRoundTimerTick{Now: now})
}

// GroupKeyStatus reports whether DKG has installed a group key yet.
// Safe to call from any goroutine: it round-trips through the event
// loop rather than reading the installed key directly.
func (n *Node) GroupKeyStatus(ctx context.Context) (GroupKeyStatusResult, error) {
	result := make(chan GroupKeyStatusResult, 1)
	if err := n.Enqueue(EvGetGroupKey{Result: result}); err != nil {
		return GroupKeyStatusResult{}, err
	}
	select {
	case res := <-result:
		return res, nil
	case <-ctx.Done():
		return GroupKeyStatusResult{}, ctx.Err()
	}
}

// SigningResult reports whether a signing session has aggregated a
// final signature yet. Safe to call from any goroutine: it round-trips
// through the event loop rather than reading session state directly.
func (n *Node) SigningResult(ctx context.Context, signID uint64) (SigningResultResult, error) {
	result := make(chan SigningResultResult, 1)
	if err := n.Enqueue(EvGetSigningResult{SignID: signID, Result: result}); err != nil {
		return SigningResultResult{}, err
	}
	select {
	case res := <-result:
		return res, nil
	case <-ctx.Done():
		return SigningResultResult{}, ctx.Err()
	}
}
