package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	DefaultSessionsKey = "rotorwise_sessions"
	defaultSessionName = "New Session"
	sessionNameRunes   = 30
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrEmptySession    = errors.New("cannot save an empty conversation")
)

// SessionBook is the saved-session collection. It is read once from the KV
// store and rewritten in full on every mutation.
type SessionBook struct {
	mu       sync.Mutex
	kv       KV
	key      string
	sessions []Session
	now      func() time.Time
}

// OpenSessionBook loads the collection stored under key. A corrupted entry is
// discarded rather than reported.
func OpenSessionBook(kv KV, key string) (*SessionBook, error) {
	if key == "" {
		key = DefaultSessionsKey
	}
	b := &SessionBook{kv: kv, key: key, now: time.Now}
	if err := b.Load(); err != nil {
		return nil, err
	}
	return b, nil
}

// Load re-reads the collection. Only KV read failures are returned; undecodable
// JSON resets the collection to empty and removes the stored value.
func (b *SessionBook) Load() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	raw, ok, err := b.kv.Get(b.key)
	if err != nil {
		return fmt.Errorf("failed to read sessions: %w", err)
	}
	b.sessions = []Session{}
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}

	var sessions []Session
	if err := json.Unmarshal([]byte(raw), &sessions); err != nil {
		log.Printf("Failed to decode stored sessions under %q, discarding: %v", b.key, err)
		if delErr := b.kv.Delete(b.key); delErr != nil {
			log.Printf("Warning: could not remove corrupted sessions entry: %v", delErr)
		}
		return nil
	}
	if sessions != nil {
		b.sessions = sessions
	}
	return nil
}

func (b *SessionBook) save() error {
	data, err := json.Marshal(b.sessions)
	if err != nil {
		return fmt.Errorf("failed to encode sessions: %w", err)
	}
	if err := b.kv.Put(b.key, string(data)); err != nil {
		return fmt.Errorf("failed to write sessions: %w", err)
	}
	return nil
}

func (b *SessionBook) List() []Session {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Session, len(b.sessions))
	for i, s := range b.sessions {
		out[i] = cloneSession(s)
	}
	return out
}

func (b *SessionBook) Get(id string) (Session, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if i := b.indexOf(id); i >= 0 {
		return cloneSession(b.sessions[i]), true
	}
	return Session{}, false
}

func (b *SessionBook) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i := range b.sessions {
		if b.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

// SaveSession snapshots messages. When existingID names a stored session its
// messages are replaced in place; otherwise a new session is appended, named
// by name or, when name is blank, by the leading text of the first user turn.
func (b *SessionBook) SaveSession(messages []Message, existingID, name string) (Session, error) {
	if len(messages) == 0 {
		return Session{}, ErrEmptySession
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now().UTC()
	if i := b.indexOf(existingID); i >= 0 {
		prev := b.sessions[i]
		b.sessions[i].Messages = CloneMessages(messages)
		b.sessions[i].UpdatedAt = now
		if err := b.save(); err != nil {
			b.sessions[i] = prev
			return Session{}, err
		}
		return cloneSession(b.sessions[i]), nil
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = SessionName(messages)
	}
	session := Session{
		ID:        uuid.NewString(),
		Name:      name,
		Messages:  CloneMessages(messages),
		CreatedAt: now,
		UpdatedAt: now,
	}
	b.sessions = append(b.sessions, session)
	if err := b.save(); err != nil {
		b.sessions = b.sessions[:len(b.sessions)-1]
		return Session{}, err
	}
	return cloneSession(session), nil
}

func (b *SessionBook) DeleteSession(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := b.indexOf(id)
	if i < 0 {
		return ErrSessionNotFound
	}
	prev := b.sessions
	next := make([]Session, 0, len(prev)-1)
	next = append(next, prev[:i]...)
	next = append(next, prev[i+1:]...)
	b.sessions = next
	if err := b.save(); err != nil {
		b.sessions = prev
		return err
	}
	return nil
}

// SessionName derives a label from the first user message: its leading
// runes, trimmed. Conversations without user text are "New Session".
func SessionName(messages []Message) string {
	for _, m := range messages {
		if m.Role != RoleUser {
			continue
		}
		text := strings.TrimSpace(m.Content)
		if text == "" {
			break
		}
		if utf8.RuneCountInString(text) > sessionNameRunes {
			text = strings.TrimSpace(string([]rune(text)[:sessionNameRunes]))
		}
		return text
	}
	return defaultSessionName
}
