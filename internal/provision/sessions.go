// internal/provision/sessions.go
// The session store is the registry of suspended workflows. Each entry owns
// exactly one browser page; a session exists if and only if its page is open.
// The store holds no durable state and is rebuilt empty on restart, so any
// in-flight workflow is lost with the process. That is an accepted limitation.
package provision

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tessierlabs/storeforge/api/schemas"
)

// Session is one suspended provisioning workflow.
type Session struct {
	ID   string
	Page schemas.Page

	mu   sync.Mutex
	meta schemas.SessionMeta

	// drive serializes browser access. A resume call must hold it for the
	// whole time it is driving the page; a second concurrent caller gets
	// rejected, never interleaved.
	drive sync.Mutex
}

// Meta returns a copy of the session metadata.
func (s *Session) Meta() schemas.SessionMeta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta
}

// SetStep advances the session's step marker.
func (s *Session) SetStep(step schemas.StepMarker) {
	s.mu.Lock()
	s.meta.Step = step
	s.mu.Unlock()
}

// TryAcquire attempts to take exclusive driving rights for this session.
func (s *Session) TryAcquire() bool {
	return s.drive.TryLock()
}

// Release gives up driving rights taken by TryAcquire.
func (s *Session) Release() {
	s.drive.Unlock()
}

// SessionStore maps opaque session ids to suspended workflows.
type SessionStore struct {
	logger *zap.Logger
	ttl    time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewSessionStore(ttl time.Duration, logger *zap.Logger) *SessionStore {
	return &SessionStore{
		logger:   logger.Named("sessions"),
		ttl:      ttl,
		sessions: make(map[string]*Session),
	}
}

// Create registers a new suspended session owning the given page and returns
// it. Ids are generated fresh and never reused.
func (st *SessionStore) Create(page schemas.Page, meta schemas.SessionMeta) *Session {
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now()
	}
	s := &Session{
		ID:   uuid.NewString(),
		Page: page,
		meta: meta,
	}

	st.mu.Lock()
	st.sessions[s.ID] = s
	st.mu.Unlock()

	st.logger.Info("Session created.",
		zap.String("session_id", s.ID),
		zap.String("store_name", meta.StoreName),
		zap.String("step", string(meta.Step)))
	return s
}

// Get looks up a session by id.
func (st *SessionStore) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}

// Delete closes the session's page and removes it from the store. Idempotent:
// deleting an absent id is a no-op and closing an already-closed page is safe.
// Returns whether the session existed.
func (st *SessionStore) Delete(ctx context.Context, id string) bool {
	st.mu.Lock()
	s, ok := st.sessions[id]
	if ok {
		delete(st.sessions, id)
	}
	st.mu.Unlock()

	if !ok {
		return false
	}

	if err := s.Page.Close(ctx); err != nil {
		st.logger.Warn("Error closing page on session delete.", zap.String("session_id", id), zap.Error(err))
	}
	st.logger.Info("Session deleted.", zap.String("session_id", id))
	return true
}

// Len returns the number of live sessions.
func (st *SessionStore) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// RunJanitor evicts expired sessions every interval until ctx is canceled.
// Sessions currently being driven are skipped and picked up on a later sweep.
func (st *SessionStore) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st.sweep(ctx)
		}
	}
}

func (st *SessionStore) sweep(ctx context.Context) {
	if st.ttl <= 0 {
		return
	}
	cutoff := time.Now().Add(-st.ttl)

	st.mu.RLock()
	expired := make([]*Session, 0)
	for _, s := range st.sessions {
		if s.Meta().CreatedAt.Before(cutoff) {
			expired = append(expired, s)
		}
	}
	st.mu.RUnlock()

	for _, s := range expired {
		if !s.TryAcquire() {
			continue
		}
		st.logger.Info("Evicting expired session.", zap.String("session_id", s.ID))
		st.Delete(ctx, s.ID)
		s.Release()
	}
}
