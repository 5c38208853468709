// Package memory provides the in-process session store with time-based eviction.
package memory

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"example.com/repcount/internal/session"
)

// Store keeps sessions in an expiring LRU cache. Entries are dropped after the TTL or when the
// capacity is exceeded, oldest first, and their upload and dataset files are removed.
//
// A session put while streaming is pinned: it stays addressable past its TTL and capacity
// eviction until it is put again in another state. Putting a finished session restarts its TTL.
type Store struct {
	cache  *expirable.LRU[string, *session.Session]
	logger *log.Logger

	mu     sync.Mutex
	pinned map[string]*session.Session
}

// Option configures the store.
type Option func(*Store)

// WithLogger overrides the eviction logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore builds a store holding at most capacity sessions for ttl each. A capacity of zero
// means unbounded.
func NewStore(capacity int, ttl time.Duration, opts ...Option) *Store {
	s := &Store{
		logger: log.New(log.Writer(), "[sessions] ", log.LstdFlags|log.Lshortfile),
		pinned: make(map[string]*session.Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cache = expirable.NewLRU[string, *session.Session](capacity, s.onEvict, ttl)
	return s
}

// onEvict runs with the cache lock held; it must not call back into the cache.
func (s *Store) onEvict(id string, sess *session.Session) {
	s.mu.Lock()
	_, pinned := s.pinned[id]
	s.mu.Unlock()
	if pinned {
		s.logger.Printf("session %s left the cache while streaming; kept pinned", id)
		return
	}

	s.logger.Printf("evicted session %s (state=%s)", id, sess.State())
	s.removeFile(id, sess.VideoPath)
	if outcome, done := sess.Outcome(); done {
		s.removeFile(id, outcome.DatasetPath)
	}
}

func (s *Store) removeFile(id, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Printf("session %s: remove %s: %v", id, path, err)
	}
}

// Put stores or replaces a session and restarts its TTL.
func (s *Store) Put(_ context.Context, sess *session.Session) error {
	s.cache.Add(sess.ID, sess)

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.State() == session.StateStreaming {
		s.pinned[sess.ID] = sess
	} else {
		delete(s.pinned, sess.ID)
	}
	return nil
}

// Get returns the session or session.ErrNotFound.
func (s *Store) Get(_ context.Context, id string) (*session.Session, error) {
	if sess, ok := s.cache.Get(id); ok {
		return sess, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.pinned[id]; ok {
		return sess, nil
	}
	return nil, session.ErrNotFound
}

// Delete removes a session, pinned or not. Unknown ids are ignored.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.pinned, id)
	s.mu.Unlock()

	s.cache.Remove(id)
	return nil
}

// Len reports the number of addressable sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	ids := make([]string, 0, len(s.pinned))
	for id := range s.pinned {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	n := s.cache.Len()
	for _, id := range ids {
		if !s.cache.Contains(id) {
			n++
		}
	}
	return n
}
