package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"rotorwise.app/rotorwise/internal/attachment"
	"rotorwise.app/rotorwise/internal/auth"
	"rotorwise.app/rotorwise/internal/core"
	"rotorwise.app/rotorwise/internal/export"
	"rotorwise.app/rotorwise/internal/store"
)

type ctxKey int

const subjectKey ctxKey = iota

// Subject returns the authenticated token subject, if any.
func Subject(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey).(string)
	return s
}

type APIHandler struct {
	chatService        *core.ChatService
	jwtSecret          string
	maxAttachmentBytes int64
	manual             string
	now                func() time.Time
}

// NewAPIHandler serves the chat. manual is the workshop manual excerpt given
// to the model, shown as-is by the manual route.
func NewAPIHandler(cs *core.ChatService, jwtSecret string, maxAttachmentBytes int64, manual string) *APIHandler {
	return &APIHandler{
		chatService:        cs,
		jwtSecret:          jwtSecret,
		maxAttachmentBytes: maxAttachmentBytes,
		manual:             strings.TrimSpace(manual),
		now:                time.Now,
	}
}

// JWTAuthMiddleware requires a valid bearer token. Without a configured
// secret every request is let through.
func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.jwtSecret == "" {
			next.ServeHTTP(w, r)
			return
		}

		tokenString := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if tokenString == "" {
			// browsers cannot set headers on a websocket handshake
			tokenString = r.URL.Query().Get("token")
		}
		if tokenString == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		subject, err := auth.ValidateJWT(h.jwtSecret, tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), subjectKey, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type ChatResponse struct {
	core.Snapshot
	Configured      bool   `json:"configured"`
	ActiveSessionID string `json:"active_session_id,omitempty"`
}

func (h *APIHandler) chatResponse() ChatResponse {
	m := h.chatService.Manager()
	return ChatResponse{
		Snapshot:        m.Snapshot(),
		Configured:      m.Configured(),
		ActiveSessionID: h.chatService.ActiveSessionID(),
	}
}

func (h *APIHandler) GetChatHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.chatResponse())
}

type PostMessageRequest struct {
	Text        string   `json:"text"`
	Attachments []string `json:"attachments,omitempty"` // data URIs
}

func (h *APIHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Text) == "" && len(req.Attachments) == 0 {
		http.Error(w, "Message needs text or an attachment", http.StatusBadRequest)
		return
	}

	attachments := make([]store.Attachment, 0, len(req.Attachments))
	for _, uri := range req.Attachments {
		a, err := attachment.ParseDataURI(uri)
		if err != nil {
			http.Error(w, err.Error(), attachmentStatus(err))
			return
		}
		if int64(base64.StdEncoding.DecodedLen(len(a.Data))) > h.maxAttachmentBytes {
			http.Error(w, attachment.ErrTooLarge.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		attachments = append(attachments, a)
	}

	if !h.chatService.Manager().Configured() {
		http.Error(w, core.CategoryNoCredential.Message(), http.StatusConflict)
		return
	}
	if !h.chatService.SendMessage(req.Text, attachments) {
		http.Error(w, "A response is already in progress", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusAccepted, h.chatResponse())
}

func (h *APIHandler) NewChatHandler(w http.ResponseWriter, r *http.Request) {
	h.chatService.NewChat()
	writeJSON(w, http.StatusOK, h.chatResponse())
}

type ReplaceHistoryRequest struct {
	Messages []store.Message `json:"messages"`
}

func (h *APIHandler) ReplaceHistoryHandler(w http.ResponseWriter, r *http.Request) {
	var req ReplaceHistoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	for _, msg := range req.Messages {
		if msg.Role != store.RoleUser && msg.Role != store.RoleModel {
			http.Error(w, "Invalid message role: "+string(msg.Role), http.StatusBadRequest)
			return
		}
	}
	h.chatService.ReplaceHistory(req.Messages)
	writeJSON(w, http.StatusOK, h.chatResponse())
}

type SuggestionsResponse struct {
	Suggestions []string `json:"suggestions"`
}

func (h *APIHandler) SuggestionsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SuggestionsResponse{Suggestions: core.Suggestions()})
}

func (h *APIHandler) ManualHandler(w http.ResponseWriter, r *http.Request) {
	if h.manual == "" {
		http.Error(w, "No workshop manual is loaded", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(h.manual))
}

func (h *APIHandler) DiagnosisHandler(w http.ResponseWriter, r *http.Request) {
	d, ok := h.chatService.LatestDiagnosis()
	if !ok {
		http.Error(w, "No final diagnosis yet", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *APIHandler) ExportHandler(w http.ResponseWriter, r *http.Request) {
	messages := h.chatService.Manager().Messages()
	now := h.now()

	var (
		buf         bytes.Buffer
		err         error
		contentType string
		filename    = export.FileName(now)
	)
	switch format := r.URL.Query().Get("format"); format {
	case "", "pdf":
		contentType = "application/pdf"
		_, err = export.PDF(&buf, messages, now)
	case "html":
		contentType = "text/html; charset=utf-8"
		filename = strings.TrimSuffix(filename, ".pdf") + ".html"
		err = export.HTML(&buf, messages, now)
	case "md":
		contentType = "text/markdown; charset=utf-8"
		filename = strings.TrimSuffix(filename, ".pdf") + ".md"
		err = export.Markdown(&buf, messages, now)
	default:
		http.Error(w, "Unknown export format: "+format, http.StatusBadRequest)
		return
	}
	if err != nil {
		log.Printf("Error exporting conversation: %v", err)
		http.Error(w, "Failed to export conversation", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Write(buf.Bytes())
}

type AttachmentResponse struct {
	MIMEType string `json:"mime_type"`
	DataURI  string `json:"data_uri"`
}

func (h *APIHandler) UploadAttachmentHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxAttachmentBytes+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			http.Error(w, attachment.ErrTooLarge.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Missing file field: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	a, err := attachment.Ingest(file, header.Filename, h.maxAttachmentBytes)
	if err != nil {
		http.Error(w, err.Error(), attachmentStatus(err))
		return
	}
	writeJSON(w, http.StatusCreated, AttachmentResponse{MIMEType: a.MIMEType, DataURI: attachment.DataURI(a)})
}

type APIKeyRequest struct {
	APIKey string `json:"api_key"`
}

func (h *APIHandler) SetAPIKeyHandler(w http.ResponseWriter, r *http.Request) {
	var req APIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.chatService.SetAPIKey(r.Context(), req.APIKey); err != nil {
		log.Printf("Error applying API key: %v", err)
		writeJSON(w, http.StatusUnprocessableEntity, h.chatResponse())
		return
	}
	writeJSON(w, http.StatusOK, h.chatResponse())
}

func (h *APIHandler) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.chatService.ListSessions())
}

type SaveSessionRequest struct {
	Name string `json:"name,omitempty"`
}

func (h *APIHandler) SaveSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req SaveSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	session, err := h.chatService.SaveSession(req.Name)
	if err != nil {
		if errors.Is(err, store.ErrEmptySession) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Printf("Error saving session: %v", err)
		http.Error(w, "Failed to save session", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (h *APIHandler) LoadSessionHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, err := h.chatService.LoadSession(sessionID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
		log.Printf("Error loading session %s: %v", sessionID, err)
		http.Error(w, "Failed to load session", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *APIHandler) DeleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.chatService.DeleteSession(sessionID); err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
		log.Printf("Error deleting session %s: %v", sessionID, err)
		http.Error(w, "Failed to delete session", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func attachmentStatus(err error) int {
	switch {
	case errors.Is(err, attachment.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, attachment.ErrUnsupportedMedia):
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
