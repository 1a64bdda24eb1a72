package store

import "time"

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Attachment is an inline binary payload (image or video) carried with a message.
type Attachment struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"` // base64, standard encoding
}

type Message struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	IsError     bool         `json:"isError,omitempty"`
}

type Session struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CloneMessages returns a deep copy so that later mutation of the source
// (streaming content, appended turns) never leaks into the copy.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m
		if m.Attachments != nil {
			out[i].Attachments = append([]Attachment(nil), m.Attachments...)
		}
	}
	return out
}

func cloneSession(s Session) Session {
	s.Messages = CloneMessages(s.Messages)
	return s
}
