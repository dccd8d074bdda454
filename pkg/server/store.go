package server

import (
	"errors"
	"sync"
	"time"

	"github.com/menta2k/emoji-faces/pkg/session"
)

var (
	// ErrSessionNotFound is returned for unknown or expired session IDs
	ErrSessionNotFound = errors.New("session not found")

	// ErrStoreFull is returned when the store holds its maximum of live sessions
	ErrStoreFull = errors.New("session store is full")
)

type storeEntry struct {
	session    *session.Session
	lastAccess time.Time
}

// Store keeps sessions in memory and forgets them after ttl without access
type Store struct {
	ttl         time.Duration
	maxSessions int
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*storeEntry
	done     chan struct{}
	stopOnce sync.Once
}

// NewStore creates a store. A maxSessions of 0 means no limit.
func NewStore(ttl time.Duration, maxSessions int) *Store {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Store{
		ttl:         ttl,
		maxSessions: maxSessions,
		now:         time.Now,
		sessions:    make(map[string]*storeEntry),
		done:        make(chan struct{}),
	}
}

// Put adds a session, dropping expired ones first when the store is full
func (s *Store) Put(sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxSessions > 0 && len(s.sessions) >= s.maxSessions {
		s.sweepLocked()
		if len(s.sessions) >= s.maxSessions {
			return ErrStoreFull
		}
	}

	s.sessions[sess.ID()] = &storeEntry{session: sess, lastAccess: s.now()}
	return nil
}

// Get returns a live session and refreshes its expiry
func (s *Store) Get(id string) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}

	now := s.now()
	if now.Sub(e.lastAccess) > s.ttl {
		delete(s.sessions, id)
		return nil, ErrSessionNotFound
	}

	e.lastAccess = now
	return e.session, nil
}

// Delete removes a session
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	return nil
}

// Len returns the number of stored sessions, expired ones included
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep removes expired sessions and returns how many were removed
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked()
}

func (s *Store) sweepLocked() int {
	now := s.now()
	removed := 0
	for id, e := range s.sessions {
		if now.Sub(e.lastAccess) > s.ttl {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// StartJanitor sweeps the store every interval until Stop is called
func (s *Store) StartJanitor(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}

// Stop ends the janitor goroutine
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
}
