package app

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"vitals/internal/domain"
)

// ErrSessionEnded is returned by SignedIn after End.
var ErrSessionEnded = errors.New("session ended")

// Session follows one login's identity: it keeps exactly one LiveView bound
// to the signed-in user and swaps it whenever the identity changes.
type Session struct {
	store domain.RecordStore
	log   *zap.Logger

	mu    sync.Mutex
	view  *LiveView
	ended bool
}

// NewSession creates a signed-out session.
func NewSession(store domain.RecordStore, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{store: store, log: log}
}

// SignedIn binds the session to userID. If it is already bound to that
// user the current view is returned; otherwise the old view is closed
// before a new one is opened.
func (s *Session) SignedIn(ctx context.Context, userID int64) (*LiveView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return nil, ErrSessionEnded
	}
	if s.view != nil {
		if s.view.UserID() == userID {
			return s.view, nil
		}
		s.view.Close()
		s.view = nil
	}

	view := NewLiveView(s.store, userID, s.log)
	if err := view.Start(ctx); err != nil {
		view.Close()
		return nil, err
	}
	s.view = view
	return view, nil
}

// SignedOut closes the current view, releasing its subscription.
func (s *Session) SignedOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.view != nil {
		s.view.Close()
		s.view = nil
	}
}

// End signs out and refuses further sign-ins.
func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
	if s.view != nil {
		s.view.Close()
		s.view = nil
	}
}

// View returns the current view, if signed in.
func (s *Session) View() (*LiveView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view, s.view != nil
}
