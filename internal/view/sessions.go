package view

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/chorgi/internal/model"
)

type session struct {
	ctrl *Controller
	idle *IdleTimer
}

// Sessions tracks which children currently have a screen open. A session
// ends after the idle timeout and the child returns to the picker.
type Sessions struct {
	deps    Deps
	timeout time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

func NewSessions(deps Deps, idleTimeout time.Duration) *Sessions {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sessions{
		deps:     deps,
		timeout:  idleTimeout,
		logger:   logger.With("component", "sessions"),
		sessions: make(map[string]*session),
	}
}

// Open returns the child's controller, creating one showing today if the
// child has no session. The idle countdown restarts either way.
func (s *Sessions) Open(ctx context.Context, child model.Child) (*Controller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[child.ID]; ok {
		sess.ctrl.SetChild(child)
		sess.idle.Reset()
		return sess.ctrl, false
	}

	ctrl := NewController(ctx, child, s.deps)
	sess := &session{ctrl: ctrl}
	id := child.ID
	sess.idle = NewIdleTimer(s.timeout, func() { s.expire(id, sess) })
	s.sessions[id] = sess
	s.logger.Info("session opened", "child_id", id)
	return ctrl, true
}

// Get returns an open session's controller.
func (s *Sessions) Get(childID string) (*Controller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[childID]
	if !ok {
		return nil, false
	}
	return sess.ctrl, true
}

// Touch records activity on a child's screen.
func (s *Sessions) Touch(childID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[childID]
	if !ok {
		return false
	}
	sess.idle.Reset()
	return true
}

// Close ends a session without notifying.
func (s *Sessions) Close(childID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[childID]; ok {
		sess.idle.Stop()
		delete(s.sessions, childID)
	}
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// CloseAll stops every idle timer. Used on shutdown.
func (s *Sessions) CloseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		sess.idle.Stop()
		delete(s.sessions, id)
	}
}

func (s *Sessions) expire(childID string, sess *session) {
	s.mu.Lock()
	current, ok := s.sessions[childID]
	if !ok || current != sess {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, childID)
	s.mu.Unlock()

	s.logger.Info("session expired", "child_id", childID)
	if s.deps.Notifier != nil {
		s.deps.Notifier.SessionExpired(childID)
	}
}
