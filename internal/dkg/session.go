// Package dkg drives one dealer-less FROST key generation session per
// group of participants, gated purely on message counts so the state
// machine is agnostic to delivery order.
package dkg

import (
	"fmt"

	"github.com/klingon-exchange/threshold-node/internal/frost"
	"github.com/klingon-exchange/threshold-node/internal/types"
)

// State is the session's position in the DKG round sequence.
type State int

const (
	StateIdle State = iota
	StateRound1Pending
	StateRound2Pending
	StateComplete
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRound1Pending:
		return "round1_pending"
	case StateRound2Pending:
		return "round2_pending"
	case StateComplete:
		return "complete"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Session runs the three-round DKG for one participant among a fixed
// peer set, producing an immutable types.GroupKey on success.
type Session struct {
	self        types.Identifier
	peers       []types.Identifier
	maxSigners  int
	participant frost.DKGParticipant

	state State

	round1Packages map[types.Identifier]frost.Round1Package
	round2Packages map[types.Identifier]frost.Round2Package

	result   *types.GroupKey
	abortErr error
}

// New constructs an idle session. peers must include self.
func New(self types.Identifier, peers []types.Identifier, maxSigners int, participant frost.DKGParticipant) (*Session, error) {
	found := false
	for _, p := range peers {
		if p == self {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("dkg: self %s not present in peer set", self)
	}
	return &Session{
		self:           self,
		peers:          peers,
		maxSigners:     maxSigners,
		participant:    participant,
		state:          StateIdle,
		round1Packages: make(map[types.Identifier]frost.Round1Package),
		round2Packages: make(map[types.Identifier]frost.Round2Package),
	}, nil
}

func (s *Session) State() State { return s.state }

// Result returns the completed GroupKey, or nil if not yet complete.
func (s *Session) Result() *types.GroupKey { return s.result }

// Err returns the abort reason, or nil if the session never aborted.
func (s *Session) Err() error { return s.abortErr }

// Start transitions Idle → Round1Pending, running DKG part-1 and
// returning this participant's round-1 package for the caller to
// broadcast on the round1 gossip topic.
func (s *Session) Start() (frost.Round1Package, error) {
	if s.state != StateIdle {
		return frost.Round1Package{}, fmt.Errorf("dkg: start called in state %s", s.state)
	}
	pkg, err := s.participant.Round1()
	if err != nil {
		s.abort(err)
		return frost.Round1Package{}, err
	}
	s.round1Packages[s.self] = pkg
	s.state = StateRound1Pending
	return pkg, nil
}

// HandleRound1 ingests a peer's round-1 broadcast. Duplicate packages
// from a sender already recorded are ignored (idempotent). Returns the
// round-2 packages to direct-message to each peer once this
// participant has every peer's round-1 package and has itself advanced
// past Round1Pending; returns (nil, nil) otherwise.
func (s *Session) HandleRound1(sender types.Identifier, pkg frost.Round1Package) ([]frost.Round2Package, error) {
	if s.state != StateRound1Pending {
		return nil, nil
	}
	if _, dup := s.round1Packages[sender]; dup {
		return nil, nil
	}
	s.round1Packages[sender] = pkg

	if len(s.round1Packages) != s.maxSigners {
		return nil, nil
	}

	out, err := s.participant.Round2(s.round1Packages)
	if err != nil {
		s.abort(err)
		return nil, err
	}
	s.state = StateRound2Pending
	return out, nil
}

// HandleRound2 ingests a peer's round-2 direct message addressed to
// this participant. Duplicates are ignored. Returns the completed
// GroupKey once every peer's round-2 package has been received;
// returns (nil, nil) otherwise.
func (s *Session) HandleRound2(sender types.Identifier, pkg frost.Round2Package) (*types.GroupKey, error) {
	if s.state != StateRound2Pending {
		return nil, nil
	}
	if _, dup := s.round2Packages[sender]; dup {
		return nil, nil
	}
	s.round2Packages[sender] = pkg

	if len(s.round2Packages)+1 != s.maxSigners {
		return nil, nil
	}

	gk, err := s.participant.Round3(s.round2Packages)
	if err != nil {
		s.abort(err)
		return nil, err
	}
	s.state = StateComplete
	s.result = gk
	return gk, nil
}

func (s *Session) abort(err error) {
	s.state = StateAborted
	s.abortErr = err
}
