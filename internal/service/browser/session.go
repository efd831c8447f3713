package browser

import (
	"sync"
	"time"

	"github.com/zhouzirui/tabcast/backend/internal/engine"
	model "github.com/zhouzirui/tabcast/backend/internal/model/browser"
)

// Reasons recorded when a session is destroyed.
const (
	ReasonExpired  = "expired"
	ReasonCrashed  = "crashed"
	ReasonReplaced = "replaced"
	ReasonClosed   = "closed"
	ReasonShutdown = "shutdown"
)

// Session is one persistent browser tab owned by a client id.
type Session struct {
	ID        string
	CreatedAt time.Time

	page engine.Page

	mu         sync.Mutex
	lastURL    string
	lastAccess time.Time
}

func newSession(id string, page engine.Page) *Session {
	now := time.Now().UTC()
	return &Session{ID: id, CreatedAt: now, page: page, lastAccess: now}
}

// Page returns the tab backing the session.
func (s *Session) Page() engine.Page {
	return s.page
}

// LastURL is the most recent known location of the tab.
func (s *Session) LastURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastURL
}

func (s *Session) setLastURL(u string) {
	s.mu.Lock()
	s.lastURL = u
	s.mu.Unlock()
}

func (s *Session) touch(at time.Time) {
	s.mu.Lock()
	s.lastAccess = at
	s.mu.Unlock()
}

// Info snapshots the session for listings.
func (s *Session) Info() model.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.SessionInfo{
		ID:         s.ID,
		URL:        s.lastURL,
		CreatedAt:  s.CreatedAt,
		LastAccess: s.lastAccess,
	}
}

// Observer is notified of session lifecycle changes. Calls happen while the
// session's lease is held and must not block.
type Observer interface {
	SessionOpened(info model.SessionInfo)
	SessionTouched(info model.SessionInfo)
	SessionClosed(id, reason string)
}
