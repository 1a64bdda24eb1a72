package store

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func conversation(userText string) []Message {
	return []Message{
		{ID: "u1", Role: RoleUser, Content: userText},
		{ID: "m1", Role: RoleModel, Content: "Possible causes: ..."},
	}
}

func TestOpenSessionBookCorruptedValue(t *testing.T) {
	kv := NewMemoryKV()
	kv.Put(DefaultSessionsKey, "{not json")

	book, err := OpenSessionBook(kv, "")
	if err != nil {
		t.Fatalf("OpenSessionBook returned error for corrupted value: %v", err)
	}
	if got := len(book.List()); got != 0 {
		t.Fatalf("expected empty collection, got %d sessions", got)
	}
	if _, ok, _ := kv.Get(DefaultSessionsKey); ok {
		t.Fatalf("expected corrupted entry to be removed")
	}
}

func TestSaveSessionAppendsNamedByFirstUserMessage(t *testing.T) {
	book, err := OpenSessionBook(NewMemoryKV(), "")
	if err != nil {
		t.Fatal(err)
	}

	text := "Rough idle when warm and a faint smell of fuel after shutdown"
	s, err := book.SaveSession(conversation(text), "", "")
	if err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if s.ID == "" {
		t.Fatalf("expected generated id")
	}
	if !strings.HasPrefix(text, s.Name) || s.Name == "" {
		t.Fatalf("name %q is not a prefix of %q", s.Name, text)
	}
	if got := len(book.List()); got != 1 {
		t.Fatalf("expected 1 session, got %d", got)
	}
}

func TestSaveSessionExplicitName(t *testing.T) {
	book, _ := OpenSessionBook(NewMemoryKV(), "")
	s, err := book.SaveSession(conversation("No start when warm"), "", "  Flooded engine ")
	if err != nil {
		t.Fatal(err)
	}
	if s.Name != "Flooded engine" {
		t.Fatalf("expected explicit name, got %q", s.Name)
	}
}

func TestSaveSessionUpdatesInPlace(t *testing.T) {
	book, _ := OpenSessionBook(NewMemoryKV(), "")
	first, err := book.SaveSession(conversation("White smoke"), "", "")
	if err != nil {
		t.Fatal(err)
	}

	longer := append(conversation("White smoke"), Message{ID: "u2", Role: RoleUser, Content: "Only on startup"})
	if _, err := book.SaveSession(longer, first.ID, ""); err != nil {
		t.Fatal(err)
	}
	longest := append(longer, Message{ID: "m2", Role: RoleModel, Content: "Check the oil metering pump"})
	updated, err := book.SaveSession(longest, first.ID, "ignored")
	if err != nil {
		t.Fatal(err)
	}

	sessions := book.List()
	if len(sessions) != 1 {
		t.Fatalf("expected collection length 1, got %d", len(sessions))
	}
	if updated.ID != first.ID || updated.Name != first.Name {
		t.Fatalf("update changed identity: %+v vs %+v", updated, first)
	}
	if got := len(sessions[0].Messages); got != 4 {
		t.Fatalf("expected latest snapshot with 4 messages, got %d", got)
	}
}

func TestSaveSessionIsValueCopy(t *testing.T) {
	book, _ := OpenSessionBook(NewMemoryKV(), "")
	live := conversation("Clunking noise from rear")
	live[0].Attachments = []Attachment{{MIMEType: "image/png", Data: "AAAA"}}

	s, err := book.SaveSession(live, "", "")
	if err != nil {
		t.Fatal(err)
	}
	live[1].Content = "mutated"
	live[0].Attachments[0].Data = "BBBB"

	got, ok := book.Get(s.ID)
	if !ok {
		t.Fatal("saved session not found")
	}
	if got.Messages[1].Content != "Possible causes: ..." {
		t.Fatalf("saved session changed with live chat: %q", got.Messages[1].Content)
	}
	if got.Messages[0].Attachments[0].Data != "AAAA" {
		t.Fatalf("saved attachment changed with live chat")
	}
}

func TestSaveSessionRejectsEmpty(t *testing.T) {
	book, _ := OpenSessionBook(NewMemoryKV(), "")
	if _, err := book.SaveSession(nil, "", ""); !errors.Is(err, ErrEmptySession) {
		t.Fatalf("expected ErrEmptySession, got %v", err)
	}
}

func TestDeleteSession(t *testing.T) {
	kv := NewMemoryKV()
	book, _ := OpenSessionBook(kv, "")
	a, _ := book.SaveSession(conversation("first"), "", "")
	b, _ := book.SaveSession(conversation("second"), "", "")

	if err := book.DeleteSession(a.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	sessions := book.List()
	if len(sessions) != 1 || sessions[0].ID != b.ID {
		t.Fatalf("expected only %s to remain, got %+v", b.ID, sessions)
	}
	if err := book.DeleteSession(a.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	// the persisted collection reflects the deletion
	reopened, err := OpenSessionBook(kv, "")
	if err != nil {
		t.Fatal(err)
	}
	if got := len(reopened.List()); got != 1 {
		t.Fatalf("expected 1 persisted session, got %d", got)
	}
}

func TestSessionName(t *testing.T) {
	tests := []struct {
		name string
		msgs []Message
		want string
	}{
		{"short", []Message{{Role: RoleUser, Content: "Rough idle"}}, "Rough idle"},
		{"truncated", []Message{{Role: RoleUser, Content: strings.Repeat("a", 40)}}, strings.Repeat("a", 30)},
		{"skips model", []Message{{Role: RoleModel, Content: "hi"}, {Role: RoleUser, Content: "Stalls"}}, "Stalls"},
		{"attachment only", []Message{{Role: RoleUser, Content: ""}}, "New Session"},
		{"no user", []Message{{Role: RoleModel, Content: "hello"}}, "New Session"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SessionName(tt.msgs); got != tt.want {
				t.Errorf("SessionName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSQLiteStoreSessionsRoundTrip(t *testing.T) {
	db, err := NewSQLiteStore(filepath.Join(t.TempDir(), "rotorwise.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer db.Close()

	if _, ok, err := db.Get("missing"); err != nil || ok {
		t.Fatalf("Get(missing) = ok %v, err %v", ok, err)
	}

	book, err := OpenSessionBook(db, "")
	if err != nil {
		t.Fatal(err)
	}
	saved, err := book.SaveSession(conversation("Hard start when hot"), "", "")
	if err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenSessionBook(db, "")
	if err != nil {
		t.Fatal(err)
	}
	got, ok := reopened.Get(saved.ID)
	if !ok {
		t.Fatalf("session %s not persisted", saved.ID)
	}
	if got.Messages[1].Content != "Possible causes: ..." {
		t.Fatalf("unexpected persisted content %q", got.Messages[1].Content)
	}

	if err := db.Delete(DefaultSessionsKey); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := db.Get(DefaultSessionsKey); ok {
		t.Fatal("expected key to be deleted")
	}
}
