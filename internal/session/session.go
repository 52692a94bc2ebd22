// Package session owns the authenticated operator session: its ledger, its
// state machine, and the save, upload, and submit pipelines that feed it.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"taxrollsync/internal/ledger"
	"taxrollsync/pkg/domain"
)

// State is the controller-visible phase of a session.
type State int

const (
	StateUnauthenticated State = iota
	StateIdle
	StateEditing
	StateSubmitting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEditing:
		return "editing"
	case StateSubmitting:
		return "submitting"
	default:
		return "unauthenticated"
	}
}

// ErrSavesPending is returned by submit while saves are still writing rows.
var ErrSavesPending = &domain.ValidationError{Reason: "wait for pending saves to finish before submitting"}

// Session is created at authentication and dropped at logout. It is safe for
// concurrent use.
type Session struct {
	id       string
	identity string
	started  time.Time
	ledger   *ledger.Ledger

	mu      sync.Mutex
	state   State
	module  domain.ModuleID
	pending int
}

func newSession(identity string, now time.Time) *Session {
	return &Session{
		id:       uuid.NewString(),
		identity: identity,
		started:  now,
		ledger:   ledger.New(),
		state:    StateIdle,
	}
}

func (s *Session) ID() string             { return s.id }
func (s *Session) Identity() string       { return s.identity }
func (s *Session) StartedAt() time.Time   { return s.started }
func (s *Session) Ledger() *ledger.Ledger { return s.ledger }

// State returns the current phase and, when editing, the module.
func (s *Session) State() (State, domain.ModuleID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.module
}

// Edit moves the session to Editing(module).
func (s *Session) Edit(module domain.ModuleID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateSubmitting {
		return domain.ErrSubmitInProgress
	}
	s.state, s.module = StateEditing, module
	return nil
}

// Idle leaves the current module.
func (s *Session) Idle() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateSubmitting {
		return domain.ErrSubmitInProgress
	}
	s.state, s.module = StateIdle, ""
	return nil
}

// beginSave registers an in-flight save; it is refused while submitting.
func (s *Session) beginSave() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateSubmitting {
		return domain.ErrSubmitInProgress
	}
	s.pending++
	return nil
}

func (s *Session) endSave() {
	s.mu.Lock()
	s.pending--
	s.mu.Unlock()
}

type restorePoint struct {
	state  State
	module domain.ModuleID
}

func (s *Session) beginSubmit() (restorePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateSubmitting {
		return restorePoint{}, domain.ErrSubmitInProgress
	}
	if s.pending > 0 {
		return restorePoint{}, ErrSavesPending
	}
	rp := restorePoint{state: s.state, module: s.module}
	s.state = StateSubmitting
	return rp, nil
}

// endSubmit returns to Idle on success and to the pre-submit phase otherwise.
func (s *Session) endSubmit(rp restorePoint, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ok {
		s.state, s.module = StateIdle, ""
		return
	}
	s.state, s.module = rp.state, rp.module
}
