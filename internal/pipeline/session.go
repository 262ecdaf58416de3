package pipeline

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// StreamID identifies a stream within one Session. IDs only grow.
type StreamID uint64

// Stream is the identity handed to the caller of Session.Begin. Token is a
// ULID reported to clients so they can discard frames from older streams.
type Stream struct {
	ID    StreamID
	Token string
}

// Session tracks the one active stream of a presenting surface. Starting a
// stream cancels the previous one, and events tagged with a stale identity
// are dropped.
type Session struct {
	mu      sync.Mutex
	current StreamID
	cancel  context.CancelFunc
}

// Begin cancels any active stream and returns a context and identity for a
// new one. The returned cancel func must be called when the stream ends.
func (s *Session) Begin(parent context.Context) (context.Context, Stream, context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.current++
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel

	id := s.current
	end := func() {
		cancel()
		s.mu.Lock()
		if s.current == id {
			s.cancel = nil
		}
		s.mu.Unlock()
	}
	return ctx, Stream{ID: id, Token: newToken()}, end
}

// Deliver runs fn only while id is the active stream. It reports whether fn
// ran. fn runs under the session lock, so deliveries are serialized and a
// Begin cannot interleave with one.
func (s *Session) Deliver(id StreamID, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != s.current {
		return false
	}
	fn()
	return true
}

// Current returns the active stream id, 0 before the first Begin.
func (s *Session) Current() StreamID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Sessions holds one Session per surface name.
type Sessions struct {
	mu sync.Mutex
	m  map[string]*Session
}

// Get returns the Session for surface, creating it on first use.
func (ss *Sessions) Get(surface string) *Session {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.m == nil {
		ss.m = make(map[string]*Session)
	}
	s, ok := ss.m[surface]
	if !ok {
		s = &Session{}
		ss.m[surface] = s
	}
	return s
}

func newToken() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
