package consensus

import (
	"context"
	"crypto/sha256"
	"sync"
	"testing"
	"time"

	"github.com/klingon-exchange/threshold-node/internal/chainengine"
	"github.com/klingon-exchange/threshold-node/internal/ledger"
	"github.com/klingon-exchange/threshold-node/internal/oracle"
	"github.com/klingon-exchange/threshold-node/internal/store"
	"github.com/klingon-exchange/threshold-node/internal/types"
)

func identifierFor(label string) types.Identifier {
	return types.Identifier(sha256.Sum256([]byte(label)))
}

// netBroadcaster relays proposals and votes synchronously to every
// other engine in a tiny in-process cluster.
type netBroadcaster struct {
	mu      sync.Mutex
	engines map[types.Identifier]*Engine
}

func (b *netBroadcaster) attach(id types.Identifier, e *Engine) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.engines[id] = e
}

func (b *netBroadcaster) BroadcastBlockProposal(ctx context.Context, round uint32, block *chainengine.Block) error {
	b.mu.Lock()
	targets := make([]*Engine, 0, len(b.engines))
	for _, e := range b.engines {
		targets = append(targets, e)
	}
	b.mu.Unlock()
	for _, e := range targets {
		if err := e.HandleProposal(ctx, round, block); err != nil {
			return err
		}
	}
	return nil
}

func (b *netBroadcaster) BroadcastVote(ctx context.Context, round uint32, blockHash [32]byte, voteType VoteType) error {
	b.mu.Lock()
	targets := make([]*Engine, 0, len(b.engines))
	for _, e := range b.engines {
		targets = append(targets, e)
	}
	b.mu.Unlock()
	for _, e := range targets {
		var err error
		if voteType == VotePrevote {
			err = e.HandlePrevote(ctx, e.self, round, blockHash)
		} else {
			err = e.HandlePrecommit(ctx, e.self, round, blockHash)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func newEngine(t *testing.T, label string, bc *netBroadcaster) *Engine {
	t.Helper()
	mem := store.NewMemory()
	fake := oracle.NewFake()
	vm := ledger.NewVM(fake)
	chain := chainengine.New(mem, vm)
	id := identifierFor(label)
	_, err := chain.CreateGenesis(context.Background(), chainengine.GenesisState{
		Validators: []types.Identifier{identifierFor("a"), identifierFor("b"), identifierFor("c")},
	}, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("create genesis: %v", err)
	}
	e := New(id, chain, bc, nil)
	for _, label := range []string{"a", "b", "c"} {
		e.AddValidator(identifierFor(label))
	}
	bc.attach(id, e)
	return e
}

func TestSelectLeaderIsConsistentAcrossNodes(t *testing.T) {
	bc := &netBroadcaster{engines: make(map[types.Identifier]*Engine)}
	engineA := newEngine(t, "a", bc)
	engineB := newEngine(t, "b", bc)
	engineC := newEngine(t, "c", bc)

	for round := uint32(1); round <= 5; round++ {
		la, _ := engineA.SelectLeader(round)
		lb, _ := engineB.SelectLeader(round)
		lc, _ := engineC.SelectLeader(round)
		if la != lb || lb != lc {
			t.Fatalf("round %d: leaders disagree: %v %v %v", round, la, lb, lc)
		}
	}
}

func TestRoundFinalisesBlockOnQuorum(t *testing.T) {
	ctx := context.Background()
	bc := &netBroadcaster{engines: make(map[types.Identifier]*Engine)}
	engineA := newEngine(t, "a", bc)
	engineB := newEngine(t, "b", bc)
	engineC := newEngine(t, "c", bc)

	leader, _ := engineA.SelectLeader(1)
	var leaderEngine *Engine
	for _, e := range []*Engine{engineA, engineB, engineC} {
		if e.self == leader {
			leaderEngine = e
		}
	}
	if leaderEngine == nil {
		t.Fatalf("no engine matches selected leader")
	}

	if err := leaderEngine.StartNewRound(ctx, time.Unix(10, 0)); err != nil {
		t.Fatalf("start new round: %v", err)
	}

	for _, e := range []*Engine{engineA, engineB, engineC} {
		if e.chain.State().BlockHeight != 1 {
			t.Fatalf("expected engine to finalise height 1, got %d", e.chain.State().BlockHeight)
		}
		if e.Phase() != WaitingForPropose {
			t.Fatalf("expected phase to reset to waiting_for_propose, got %v", e.Phase())
		}
	}
}

func TestSingleValidatorNeverStartsRound(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	fake := oracle.NewFake()
	vm := ledger.NewVM(fake)
	chain := chainengine.New(mem, vm)
	if _, err := chain.CreateGenesis(ctx, chainengine.GenesisState{
		Validators: []types.Identifier{identifierFor("a")},
	}, time.Unix(0, 0)); err != nil {
		t.Fatalf("create genesis: %v", err)
	}

	e := New(identifierFor("a"), chain, nil, nil)
	e.AddValidator(identifierFor("a"))

	if err := e.StartNewRound(ctx, time.Unix(1, 0)); err != nil {
		t.Fatalf("start new round: %v", err)
	}
	if e.Round() != 0 {
		t.Fatalf("expected round to stay at 0 with a single validator, got %d", e.Round())
	}
}
