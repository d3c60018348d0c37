package session

import (
	"sync"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/policytrace/internal/event"
)

// Context supplies the actor and page recorded on each event.
type Context interface {
	Actor() string
	Page() string
}

// Session is the process-wide identity of one dashboard session.
// It is safe for concurrent use.
type Session struct {
	id    string
	mu    sync.RWMutex
	actor string
	page  string
}

// New creates a Session with a fresh ID.
func New(actor, page string) *Session {
	return &Session{
		id:    uuid.NewString(),
		actor: actor,
		page:  page,
	}
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// Actor returns the display name, or event.AnonymousActor when unset.
func (s *Session) Actor() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.actor == "" {
		return event.AnonymousActor
	}
	return s.actor
}

// Page returns the current page path, or event.DefaultPage when unset.
func (s *Session) Page() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.page == "" {
		return event.DefaultPage
	}
	return s.page
}

func (s *Session) SetActor(actor string) {
	s.mu.Lock()
	s.actor = actor
	s.mu.Unlock()
}

// Navigate records a new page path.
func (s *Session) Navigate(page string) {
	s.mu.Lock()
	s.page = page
	s.mu.Unlock()
}
