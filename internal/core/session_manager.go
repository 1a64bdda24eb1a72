package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"rotorwise.app/rotorwise/internal/attachment"
	"rotorwise.app/rotorwise/internal/store"
)

type State string

const (
	StateIdle       State = "idle"
	StateProcessing State = "processing"
	StateStreaming  State = "streaming"
)

const (
	noKeyMessageID     = "error-no-key"
	initErrorMessageID = "error-init"
	errorHeading       = "### ⚠️ Error\n\n"
)

// Snapshot is a copy of the manager's observable state.
type Snapshot struct {
	State    State           `json:"state"`
	Messages []store.Message `json:"messages"`
}

type ManagerOptions struct {
	Factory           ClientFactory
	SystemInstruction string
	// Greeting, when set, is the single model message a fresh chat starts with.
	Greeting       string
	Connectivity   Connectivity
	RequestTimeout time.Duration
}

// SessionManager owns the live conversation and runs at most one streaming
// completion at a time.
type SessionManager struct {
	factory     ClientFactory
	instruction string
	greeting    string
	online      Connectivity
	timeout     time.Duration

	mu       sync.Mutex
	messages []store.Message
	state    State
	client   CompletionClient
	apiKey   string
	standing *store.Message // configuration error shown instead of a chat

	// generation is bumped whenever the in-flight stream is superseded; a
	// stream goroutine only writes while its generation is current.
	generation uint64
	cancel     context.CancelFunc
	done       chan struct{}
	pending    string // placeholder id of the in-flight reply

	listeners    map[int]func(Snapshot)
	nextListener int
}

func NewSessionManager(ctx context.Context, apiKey string, opts ManagerOptions) *SessionManager {
	online := opts.Connectivity
	if online == nil {
		online = AlwaysOnline{}
	}
	m := &SessionManager{
		factory:     opts.Factory,
		instruction: opts.SystemInstruction,
		greeting:    opts.Greeting,
		online:      online,
		timeout:     opts.RequestTimeout,
		state:       StateIdle,
		listeners:   make(map[int]func(Snapshot)),
	}
	m.messages = m.freshMessages()
	if err := m.SetAPIKey(ctx, apiKey); err != nil {
		log.Printf("Failed to initialize completion client: %v", err)
	}
	return m
}

// SetAPIKey rebuilds the completion client for key. A missing key or a client
// that cannot be built leaves a standing error message in place of the chat;
// a working client clears every error message.
func (m *SessionManager) SetAPIKey(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)

	m.mu.Lock()
	if key != "" && key == m.apiKey && m.client != nil {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	var (
		client   CompletionClient
		buildErr error
	)
	if key != "" {
		if m.factory == nil {
			buildErr = errors.New("no completion client factory configured")
		} else {
			client, buildErr = m.factory(ctx, key)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelLocked()
	old := m.client
	m.client = client
	m.apiKey = key

	switch {
	case key == "":
		m.client = nil
		if m.standing == nil || m.standing.ID != noKeyMessageID {
			m.standing = &store.Message{
				ID:      noKeyMessageID,
				Role:    store.RoleModel,
				Content: "### Configuration Error\n\n" + CategoryNoCredential.Message(),
				IsError: true,
			}
			m.messages = []store.Message{*m.standing}
		}
	case buildErr != nil:
		m.client = nil
		m.standing = &store.Message{
			ID:      fmt.Sprintf("%s-%d", initErrorMessageID, time.Now().UnixNano()),
			Role:    store.RoleModel,
			Content: "### Initialization Error\n\nCould not initialize the AI service. The API key might be malformed.",
			IsError: true,
		}
		m.messages = []store.Message{*m.standing}
	default:
		m.standing = nil
		kept := make([]store.Message, 0, len(m.messages))
		for _, msg := range m.messages {
			if !msg.IsError {
				kept = append(kept, msg)
			}
		}
		m.messages = kept
	}

	if c, ok := old.(io.Closer); ok {
		c.Close()
	}
	m.publishLocked()
	return buildErr
}

// SendMessage appends the user turn and an empty model placeholder, then
// streams the reply into the placeholder in the background. It reports false
// without touching the conversation when the manager is busy, has no client,
// or the turn has neither text nor attachments.
func (m *SessionManager) SendMessage(text string, attachments []store.Attachment) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateIdle || m.client == nil {
		return false
	}
	if strings.TrimSpace(text) == "" && len(attachments) == 0 {
		return false
	}

	user := store.Message{
		ID:      uuid.NewString(),
		Role:    store.RoleUser,
		Content: text,
	}
	if len(attachments) > 0 {
		user.Attachments = append([]store.Attachment(nil), attachments...)
	}
	placeholder := store.Message{ID: uuid.NewString(), Role: store.RoleModel}

	m.messages = append(m.messages, user, placeholder)
	history := store.CloneMessages(m.messages[:len(m.messages)-1])

	m.generation++
	gen := m.generation
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if m.timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), m.timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	m.cancel = cancel
	m.pending = placeholder.ID
	done := make(chan struct{})
	m.done = done
	m.state = StateProcessing
	m.publishLocked()

	go m.stream(ctx, cancel, m.client, gen, placeholder.ID, history, done)
	return true
}

func (m *SessionManager) stream(ctx context.Context, cancel context.CancelFunc, client CompletionClient, gen uint64, id string, history []store.Message, done chan struct{}) {
	defer close(done)
	defer cancel()

	contents, err := toContents(history)
	if err != nil {
		m.fail(gen, id, err)
		return
	}
	chunks, err := client.StreamChat(ctx, m.instruction, contents)
	if err != nil {
		m.fail(gen, id, err)
		return
	}

	var text strings.Builder
	for {
		chunk, err := chunks.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			m.fail(gen, id, err)
			return
		}
		text.WriteString(chunk)
		if !m.applyChunk(gen, id, text.String()) {
			return
		}
	}
	m.finish(gen)
}

func (m *SessionManager) applyChunk(gen uint64, id, content string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.generation {
		return false
	}
	if m.state == StateProcessing {
		m.state = StateStreaming
	}
	if i := m.indexOf(id); i >= 0 {
		m.messages[i].Content = content
	}
	m.publishLocked()
	return true
}

func (m *SessionManager) finish(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.generation {
		return
	}
	m.state = StateIdle
	m.cancel = nil
	m.pending = ""
	m.publishLocked()
}

func (m *SessionManager) fail(gen uint64, id string, err error) {
	if !m.isCurrent(gen) {
		return
	}
	category := ClassifyError(err, m.online.Online())
	log.Printf("Error streaming model response (%s): %v", category, err)

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.generation {
		return
	}
	if i := m.indexOf(id); i >= 0 {
		m.messages[i] = store.Message{
			ID:      id,
			Role:    store.RoleModel,
			Content: errorHeading + category.Message(),
			IsError: true,
		}
	}
	m.state = StateIdle
	m.cancel = nil
	m.pending = ""
	m.publishLocked()
}

// SetHistory replaces the conversation wholesale, cancelling any in-flight
// stream first. Messages without an id are given one.
func (m *SessionManager) SetHistory(history []store.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelLocked()
	msgs := store.CloneMessages(history)
	if msgs == nil {
		msgs = []store.Message{}
	}
	for i := range msgs {
		if msgs[i].ID == "" {
			msgs[i].ID = uuid.NewString()
		}
	}
	m.messages = msgs
	m.publishLocked()
}

// StartNewChat cancels any in-flight stream and resets the conversation to
// the greeting (or empty). A standing configuration error is kept.
func (m *SessionManager) StartNewChat() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelLocked()
	if m.standing != nil {
		m.messages = []store.Message{*m.standing}
	} else {
		m.messages = m.freshMessages()
	}
	m.publishLocked()
}

// Wait blocks until the most recently started stream goroutine has exited.
func (m *SessionManager) Wait() {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (m *SessionManager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *SessionManager) Messages() []store.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return store.CloneMessages(m.messages)
}

func (m *SessionManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Configured reports whether a completion client is available.
func (m *SessionManager) Configured() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client != nil
}

// Subscribe registers fn to receive a snapshot after every change. fn runs
// while the manager is locked: it must not block or call back into the
// manager. The returned func removes the subscription.
func (m *SessionManager) Subscribe(fn func(Snapshot)) func() {
	m.mu.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Close cancels any in-flight stream and releases the client.
func (m *SessionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelLocked()
	m.publishLocked()
	var err error
	if c, ok := m.client.(io.Closer); ok {
		err = c.Close()
	}
	m.client = nil
	return err
}

// cancelLocked supersedes the in-flight stream. A reply that never received
// text is removed; partial text is kept as the reply.
func (m *SessionManager) cancelLocked() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.pending != "" {
		if i := m.indexOf(m.pending); i >= 0 && m.messages[i].Content == "" {
			m.messages = append(m.messages[:i], m.messages[i+1:]...)
		}
		m.pending = ""
	}
	m.generation++
	m.state = StateIdle
}

func (m *SessionManager) isCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.generation
}

func (m *SessionManager) indexOf(id string) int {
	for i := range m.messages {
		if m.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (m *SessionManager) freshMessages() []store.Message {
	if m.greeting == "" {
		return []store.Message{}
	}
	return []store.Message{{ID: uuid.NewString(), Role: store.RoleModel, Content: m.greeting}}
}

func (m *SessionManager) snapshotLocked() Snapshot {
	return Snapshot{State: m.state, Messages: store.CloneMessages(m.messages)}
}

func (m *SessionManager) publishLocked() {
	if len(m.listeners) == 0 {
		return
	}
	snap := m.snapshotLocked()
	for _, fn := range m.listeners {
		fn(snap)
	}
}

// toContents converts the conversation into the completion request shape.
// Error messages and turns before the first user message are not sent, and
// turns without any part are dropped.
func toContents(messages []store.Message) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(messages))
	seenUser := false
	for _, msg := range messages {
		if msg.IsError {
			continue
		}
		if msg.Role == store.RoleUser {
			seenUser = true
		}
		if !seenUser {
			continue
		}

		var parts []genai.Part
		if msg.Content != "" {
			parts = append(parts, genai.Text(msg.Content))
		}
		for _, att := range msg.Attachments {
			data, err := attachment.Decode(att)
			if err != nil {
				return nil, fmt.Errorf("failed to decode attachment of message %s: %w", msg.ID, err)
			}
			parts = append(parts, genai.Blob{MIMEType: att.MIMEType, Data: data})
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, &genai.Content{Role: string(msg.Role), Parts: parts})
	}
	return contents, nil
}
