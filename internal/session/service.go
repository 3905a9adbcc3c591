package session

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/google/uuid"
)

// Sentinel errors for the chat endpoint. Callers map these to distinct
// response statuses.
var (
	ErrSessionNotFound  = errors.New("chat session not found")
	ErrSessionCompleted = errors.New("chat session is completed")
)

// Service is the logical chat endpoint: it joins the persistent
// session store with the live session table, lazily reviving live
// state for known sessions after a restart.
type Service struct {
	store         *Store
	manager       *Manager
	workspaceRoot string
}

// NewService creates the chat service. Each session's workspace is a
// subdirectory of workspaceRoot named after the session id.
func NewService(store *Store, manager *Manager, workspaceRoot string) *Service {
	return &Service{store: store, manager: manager, workspaceRoot: workspaceRoot}
}

// CreateSession persists a new chat session and returns its id.
func (s *Service) CreateSession(ctx context.Context, userID string) (string, error) {
	id := uuid.NewString()
	if err := s.store.Create(ctx, id, userID); err != nil {
		return "", err
	}
	return id, nil
}

// SendMessage routes one user message into a session's agent and
// returns the terminal answer. Unknown sessions and completed sessions
// are refused with their sentinel errors.
func (s *Service) SendMessage(ctx context.Context, chatSessionID, userID, message string) (string, error) {
	rec, err := s.store.Get(ctx, chatSessionID)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", ErrSessionNotFound
	}
	if rec.Status == StatusCompleted {
		return "", ErrSessionCompleted
	}

	if s.manager.Get(chatSessionID) == nil {
		cwd := filepath.Join(s.workspaceRoot, chatSessionID)
		if _, err := s.manager.Create(chatSessionID, userID, cwd, nil); err != nil {
			return "", err
		}
	}

	response, err := s.manager.Run(ctx, chatSessionID, message)
	if err != nil {
		return "", err
	}

	if err := s.store.Touch(ctx, chatSessionID); err != nil {
		return response, err
	}
	return response, nil
}

// CompleteSession marks a session completed and tears down its live
// state.
func (s *Service) CompleteSession(ctx context.Context, chatSessionID string) error {
	rec, err := s.store.Get(ctx, chatSessionID)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrSessionNotFound
	}
	if err := s.store.SetStatus(ctx, chatSessionID, StatusCompleted); err != nil {
		return err
	}
	s.manager.Remove(chatSessionID)
	return nil
}

// CancelSession raises the cancel flag on a live session.
func (s *Service) CancelSession(chatSessionID string) bool {
	return s.manager.Cancel(chatSessionID)
}
