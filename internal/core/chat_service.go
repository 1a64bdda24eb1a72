package core

import (
	"context"
	"fmt"
	"log"
	"sync"

	"rotorwise.app/rotorwise/internal/diagnosis"
	"rotorwise.app/rotorwise/internal/store"
)

// ChatService ties the live conversation to the saved-session collection and
// tracks which saved session, if any, the live conversation belongs to.
type ChatService struct {
	manager *SessionManager
	book    *store.SessionBook

	mu       sync.Mutex
	activeID string
}

func NewChatService(manager *SessionManager, book *store.SessionBook) *ChatService {
	return &ChatService{
		manager: manager,
		book:    book,
	}
}

func (s *ChatService) Manager() *SessionManager {
	return s.manager
}

func (s *ChatService) ActiveSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

func (s *ChatService) SendMessage(text string, attachments []store.Attachment) bool {
	return s.manager.SendMessage(text, attachments)
}

func (s *ChatService) SetAPIKey(ctx context.Context, key string) error {
	return s.manager.SetAPIKey(ctx, key)
}

// NewChat resets the live conversation and detaches it from any saved session.
func (s *ChatService) NewChat() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.manager.StartNewChat()
	s.activeID = ""
}

// ReplaceHistory loads an arbitrary message list into the live conversation.
// The result is not attached to a saved session.
func (s *ChatService) ReplaceHistory(messages []store.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.manager.SetHistory(messages)
	s.activeID = ""
}

func (s *ChatService) ListSessions() []store.Session {
	return s.book.List()
}

// SaveSession snapshots the live conversation. While a saved session is
// active it is updated in place; otherwise a new one is created and becomes
// active.
func (s *ChatService) SaveSession(name string) (store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.book.SaveSession(s.manager.Messages(), s.activeID, name)
	if err != nil {
		return store.Session{}, err
	}
	if session.ID != s.activeID {
		log.Printf("Saved new session %s (%q)", session.ID, session.Name)
	}
	s.activeID = session.ID
	return session, nil
}

// LoadSession replaces the live conversation with a saved session, cancelling
// any in-flight response.
func (s *ChatService) LoadSession(id string) (store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.book.Get(id)
	if !ok {
		return store.Session{}, store.ErrSessionNotFound
	}
	s.manager.SetHistory(session.Messages)
	s.activeID = session.ID
	return session, nil
}

// DeleteSession removes a saved session. Deleting the active session also
// starts a new chat.
func (s *ChatService) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.book.DeleteSession(id); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	if id == s.activeID {
		s.manager.StartNewChat()
		s.activeID = ""
	}
	return nil
}

// LatestDiagnosis returns the most recent final diagnosis in the live conversation.
func (s *ChatService) LatestDiagnosis() (diagnosis.Diagnosis, bool) {
	return diagnosis.Latest(s.manager.Messages())
}
