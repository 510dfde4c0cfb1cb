// Package session provides the in-memory conversation session store.
//
// A session maps a conversation key (Telegram chat ID, widget user ID, or
// X-Session-ID value) to the assistant thread currently serving it, together
// with a message counter used to rotate threads before their context grows
// without bound. Sessions live for the process lifetime; there is no
// persistence and no idle eviction.
package session

import (
	"log/slog"
	"sync"
	"time"
)

// Session holds the conversation state for one user key. Fields are only safe
// to touch from inside Store.Do, which serializes access per key.
type Session struct {
	UserKey      string
	ThreadID     string
	MessageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// BumpAndMaybeRotate increments the message counter and reports whether the
// thread must be rotated before the next message is sent. When rotation is
// signalled the counter is reset to reflect exactly one message on the new
// thread; the caller is responsible for replacing ThreadID.
func (s *Session) BumpAndMaybeRotate(maxMessages int) bool {
	if maxMessages > 0 && s.ThreadID != "" && s.MessageCount >= maxMessages {
		s.MessageCount = 1
		return true
	}
	s.MessageCount++
	return false
}

// entry pairs a session with its own lock so concurrent requests for
// different keys never contend with each other.
type entry struct {
	mu      sync.Mutex
	session Session
}

// Store is a key-addressed session store with per-key mutual exclusion.
// Two concurrent requests for the same conversation key are serialized;
// requests for different keys proceed independently.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{entries: make(map[string]*entry)}
}

func (st *Store) entryFor(userKey string) *entry {
	st.mu.Lock()
	defer st.mu.Unlock()
	e, ok := st.entries[userKey]
	if !ok {
		now := time.Now()
		e = &entry{session: Session{UserKey: userKey, CreatedAt: now, UpdatedAt: now}}
		st.entries[userKey] = e
		slog.Debug("session.Store: created session", "userKey", userKey)
	}
	return e
}

// Do runs fn with the session for userKey under that key's lock, creating the
// session on first touch. Mutations made by fn are retained unless fn returns
// an error, in which case the session is left as fn left it but the error is
// propagated to the caller.
func (st *Store) Do(userKey string, fn func(s *Session) error) error {
	e := st.entryFor(userKey)
	e.mu.Lock()
	defer e.mu.Unlock()
	err := fn(&e.session)
	e.session.UpdatedAt = time.Now()
	return err
}

// Snapshot returns a copy of the session for userKey, if one exists.
func (st *Store) Snapshot(userKey string) (Session, bool) {
	st.mu.Lock()
	e, ok := st.entries[userKey]
	st.mu.Unlock()
	if !ok {
		return Session{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session, true
}

// Reset removes the session for userKey.
func (st *Store) Reset(userKey string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.entries, userKey)
}

// Len reports the number of live sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.entries)
}
