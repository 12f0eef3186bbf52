// Package signing coordinates FROST threshold-Schnorr signing sessions
// identified by a monotonically increasing sign_id, bridging the
// coordinator/signer roles onto direct-message delivery from the node
// loop.
package signing

import (
	"fmt"
	"time"

	"github.com/klingon-exchange/threshold-node/internal/frost"
	"github.com/klingon-exchange/threshold-node/internal/types"
)

// DefaultSessionDeadline is the fixed timeout after which an
// incomplete session is reported failed.
const DefaultSessionDeadline = 30 * time.Second

// Role distinguishes the participant that drives the protocol from the
// participants that merely respond.
type Role int

const (
	RoleSigner Role = iota
	RoleCoordinator
)

// State is the session's position in the 2-round signing protocol.
type State int

const (
	StateAwaitingCommitments State = iota
	StateAwaitingShares
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitingCommitments:
		return "awaiting_commitments"
	case StateAwaitingShares:
		return "awaiting_shares"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Session drives one participant (signer and, for the initiator, also
// coordinator) through a single signing round for a fixed message.
//
// A signer uses its nonce exactly once: Commit is called at most once,
// and once a signature share has been produced the session is retired.
// A coordinator collecting a commitment or share after it has already
// moved past the corresponding phase discards the message, matching
// the tie-break rule for late commitments/duplicate shares.
type Session struct {
	SignID    uint64
	Message   [32]byte
	Role      Role
	Threshold int
	Deadline  time.Time

	self   types.Identifier
	signer frost.Signer

	state State

	commitments map[types.Identifier]frost.SigningCommitment
	shares      map[types.Identifier]frost.SignatureShare

	packageSent bool

	aggregator frost.Aggregator
	result     *[64]byte
	failErr    error
}

// NewSigner constructs a non-coordinating participant's session.
func NewSigner(signID uint64, message [32]byte, self types.Identifier, signer frost.Signer, now time.Time) *Session {
	return &Session{
		SignID:   signID,
		Message:  message,
		Role:     RoleSigner,
		self:     self,
		signer:   signer,
		state:    StateAwaitingCommitments,
		Deadline: now.Add(DefaultSessionDeadline),
	}
}

// NewCoordinator constructs the initiating participant's session,
// which additionally collects commitments/shares from the other
// chosen signers and aggregates the final signature.
func NewCoordinator(signID uint64, message [32]byte, self types.Identifier, signer frost.Signer, aggregator frost.Aggregator, threshold int, now time.Time) *Session {
	return &Session{
		SignID:      signID,
		Message:     message,
		Role:        RoleCoordinator,
		Threshold:   threshold,
		self:        self,
		signer:      signer,
		aggregator:  aggregator,
		state:       StateAwaitingCommitments,
		Deadline:    now.Add(DefaultSessionDeadline),
		commitments: make(map[types.Identifier]frost.SigningCommitment),
		shares:      make(map[types.Identifier]frost.SignatureShare),
	}
}

func (s *Session) State() State       { return s.state }
func (s *Session) Result() *[64]byte  { return s.result }
func (s *Session) Err() error         { return s.failErr }

// CheckDeadline transitions the session to Failed if now is past its
// deadline and it has not already finished.
func (s *Session) CheckDeadline(now time.Time) bool {
	if s.state == StateComplete || s.state == StateFailed {
		return false
	}
	if now.Before(s.Deadline) {
		return false
	}
	s.fail(fmt.Errorf("signing: session %d timed out", s.SignID))
	return true
}

// Commit generates this participant's round-1 nonce commitment in
// response to a coordinator's SignRequest. Must be called at most
// once; a second call indicates a coding error upstream and is
// rejected to protect the nonce.
func (s *Session) Commit() (frost.SigningCommitment, error) {
	if s.state != StateAwaitingCommitments {
		return frost.SigningCommitment{}, fmt.Errorf("signing: commit called in state %s", s.state)
	}
	c, err := s.signer.Commit(s.Message)
	if err != nil {
		s.fail(err)
		return frost.SigningCommitment{}, err
	}
	s.state = StateAwaitingShares
	return c, nil
}

// Sign produces this participant's round-2 signature share once the
// coordinator has sent the signing package (here: the full commitment
// set).
func (s *Session) Sign(commitments []frost.SigningCommitment) (frost.SignatureShare, error) {
	if s.state != StateAwaitingShares {
		return frost.SignatureShare{}, fmt.Errorf("signing: sign called in state %s", s.state)
	}
	share, err := s.signer.Sign(s.Message, commitments)
	if err != nil {
		s.fail(err)
		return frost.SignatureShare{}, err
	}
	s.state = StateComplete
	return share, nil
}

// HandleCommitment is the coordinator's intake of a signer's
// commitment. Commitments arriving after the signing package has
// already been sent are discarded per the tie-break rule. Returns true
// once Threshold commitments have been collected (the caller should
// now send the signing package to the collected signers).
func (s *Session) HandleCommitment(c frost.SigningCommitment) bool {
	if s.Role != RoleCoordinator || s.packageSent {
		return false
	}
	if _, dup := s.commitments[c.Sender]; dup {
		return false
	}
	s.commitments[c.Sender] = c
	if len(s.commitments) < s.Threshold {
		return false
	}
	s.packageSent = true
	return true
}

// Commitments returns the commitment set collected so far, in no
// particular order.
func (s *Session) Commitments() []frost.SigningCommitment {
	out := make([]frost.SigningCommitment, 0, len(s.commitments))
	for _, c := range s.commitments {
		out = append(out, c)
	}
	return out
}

// HandleShare is the coordinator's intake of a signer's round-2 share.
// Duplicate shares from an already-recorded sender are discarded.
// Returns the final signature once Threshold shares have been
// collected and aggregation succeeds.
func (s *Session) HandleShare(share frost.SignatureShare) (*[64]byte, error) {
	if s.Role != RoleCoordinator {
		return nil, fmt.Errorf("signing: only the coordinator aggregates shares")
	}
	if s.shares == nil {
		s.shares = make(map[types.Identifier]frost.SignatureShare)
	}
	if _, dup := s.shares[share.Sender]; dup {
		return nil, nil
	}
	s.shares[share.Sender] = share
	if len(s.shares) < s.Threshold {
		return nil, nil
	}

	sig, err := s.aggregator.Aggregate(s.Message, s.Commitments(), s.sharesSlice())
	if err != nil {
		s.fail(err)
		return nil, err
	}
	s.state = StateComplete
	s.result = &sig
	return &sig, nil
}

func (s *Session) sharesSlice() []frost.SignatureShare {
	out := make([]frost.SignatureShare, 0, len(s.shares))
	for _, sh := range s.shares {
		out = append(out, sh)
	}
	return out
}

func (s *Session) fail(err error) {
	s.state = StateFailed
	s.failErr = err
}
