package signing

import (
	"fmt"
	"sync"
	"time"

	"github.com/klingon-exchange/threshold-node/internal/corerr"
)

// Manager tracks every in-flight signing session by sign_id, handing
// out fresh ids and sweeping expired sessions. The node loop owns one
// Manager; all access happens from the single event-dispatch
// goroutine, and the mutex here guards both the monotonic counter and
// the session map against background callers (e.g. a round-timer ticking on its own
// goroutine per the node loop's concurrency model).
type Manager struct {
	mu      sync.Mutex
	nextID  uint64
	session map[uint64]*Session
}

// NewManager constructs an empty manager.
func NewManager() *Manager {
	return &Manager{session: make(map[uint64]*Session)}
}

// NextSignID returns a fresh, monotonically increasing session id.
func (m *Manager) NextSignID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	return m.nextID
}

// Put registers a session under its SignID, replacing any session
// already registered for that id.
func (m *Manager) Put(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session[s.SignID] = s
}

// Get returns the session for id, or nil if unknown.
func (m *Manager) Get(id uint64) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session[id]
}

// Remove drops a finished or aborted session.
func (m *Manager) Remove(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.session, id)
}

// SweepExpired fails and removes every session whose deadline has
// passed as of now, returning the ids that were swept.
func (m *Manager) SweepExpired(now time.Time) []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []uint64
	for id, s := range m.session {
		if s.CheckDeadline(now) {
			expired = append(expired, id)
			delete(m.session, id)
		}
	}
	return expired
}

// errUnknownSession builds the error returned when a message
// references a sign_id this manager has no session for (already
// completed, swept, or never started).
func errUnknownSession(id uint64) error {
	return corerr.New(corerr.KindInvalid, "signing.Manager", fmt.Errorf("unknown sign_id %d", id))
}

// Require looks up a session by id, returning errUnknownSession if
// absent.
func (m *Manager) Require(id uint64) (*Session, error) {
	s := m.Get(id)
	if s == nil {
		return nil, errUnknownSession(id)
	}
	return s, nil
}
