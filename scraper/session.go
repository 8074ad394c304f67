package scraper

import (
	"sync"
	"time"
)

// Session tracks whether the browser currently holds a valid authenticated
// session for one site. Expiry is lazy: staleness is checked on read, and a
// stale flag is cleared at that moment.
type Session struct {
	mu            sync.Mutex
	authenticated bool
	authTime      time.Time
	timeout       time.Duration
	now           func() time.Time
}

// NewSession creates a session tracker. timeout <= 0 defaults to 30 minutes.
func NewSession(timeout time.Duration) *Session {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &Session{timeout: timeout, now: time.Now}
}

// MarkAuthenticated records a successful login at the current time.
func (s *Session) MarkAuthenticated() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authenticated = true
	s.authTime = s.now()
}

// Authenticated reports whether the session is still valid. A session older
// than the timeout is cleared and reported as unauthenticated.
func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.authenticated {
		return false
	}
	if s.now().Sub(s.authTime) >= s.timeout {
		s.authenticated = false
		return false
	}
	return true
}

// Reset clears the session unconditionally.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authenticated = false
	s.authTime = time.Time{}
}

// Age returns how long ago the session authenticated, or zero when it never
// has.
func (s *Session) Age() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.authTime.IsZero() {
		return 0
	}
	return s.now().Sub(s.authTime)
}
