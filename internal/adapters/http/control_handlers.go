package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"gitlab.com/timkado/api/support-chat-client/internal/application"
	"gitlab.com/timkado/api/support-chat-client/internal/domain"
)

// Chat is the part of the orchestrator the control routes drive.
type Chat interface {
	Snapshot() application.Snapshot
	SendMessage(ctx context.Context, text string) (domain.Message, error)
	MarkRead(ctx context.Context) (domain.MarkReadResult, error)
	SyncIdentity(ctx context.Context)
	Logout(ctx context.Context) error
}

// IdentitySetter replaces the authenticated principal.
type IdentitySetter interface {
	Set(id *domain.Identity)
}

// SendMessageRequest is the payload of POST /v1/chat/messages.
type SendMessageRequest struct {
	Text string `json:"text"`
}

// IdentityRequest is the payload of PUT /v1/identity.
type IdentityRequest struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Token  string `json:"token"`
}

// ControlHandlers lets the embedding host drive the chat over HTTP.
type ControlHandlers struct {
	chat     Chat
	identity IdentitySetter
	logger   domain.Logger
}

func NewControlHandlers(chat Chat, identity IdentitySetter, logger domain.Logger) *ControlHandlers {
	return &ControlHandlers{chat: chat, identity: identity, logger: logger}
}

// Register mounts the routes on mux, each wrapped by wrap.
func (h *ControlHandlers) Register(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	mux.Handle("GET /v1/chat", wrap(http.HandlerFunc(h.Snapshot)))
	mux.Handle("POST /v1/chat/messages", wrap(http.HandlerFunc(h.SendMessage)))
	mux.Handle("POST /v1/chat/read", wrap(http.HandlerFunc(h.MarkRead)))
	mux.Handle("PUT /v1/identity", wrap(http.HandlerFunc(h.Login)))
	mux.Handle("DELETE /v1/identity", wrap(http.HandlerFunc(h.Logout)))
}

func (h *ControlHandlers) Snapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.chat.Snapshot())
}

func (h *ControlHandlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn(r.Context(), "Failed to decode send payload", "error", err.Error())
		domain.NewErrorResponse(domain.ErrCodeBadRequest, "Invalid request payload", err.Error()).WriteJSON(w, http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	msg, err := h.chat.SendMessage(r.Context(), req.Text)
	switch {
	case errors.Is(err, domain.ErrEmptyMessage):
		domain.NewErrorResponse(domain.ErrCodeBadRequest, "Message text is required", "").WriteJSON(w, http.StatusBadRequest)
		return
	case err != nil:
		h.logger.Warn(r.Context(), "Control send failed", "error", err.Error())
		domain.NewErrorResponse(codeOf(err), "Message could not be sent", err.Error()).WriteJSON(w, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *ControlHandlers) MarkRead(w http.ResponseWriter, r *http.Request) {
	result, err := h.chat.MarkRead(r.Context())
	if errors.Is(err, domain.ErrNoConversation) {
		domain.NewErrorResponse(domain.ErrCodeNotFound, "No active conversation", "").WriteJSON(w, http.StatusNotFound)
		return
	}
	if err != nil {
		domain.NewErrorResponse(codeOf(err), "Mark as read failed", err.Error()).WriteJSON(w, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *ControlHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req IdentityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		domain.NewErrorResponse(domain.ErrCodeBadRequest, "Invalid request payload", err.Error()).WriteJSON(w, http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if req.UserID == "" {
		domain.NewErrorResponse(domain.ErrCodeBadRequest, "Invalid payload", "user_id is required.").WriteJSON(w, http.StatusBadRequest)
		return
	}

	h.identity.Set(&domain.Identity{UserID: req.UserID, Name: req.Name, Email: req.Email, Token: req.Token})
	h.chat.SyncIdentity(r.Context())
	h.logger.Info(r.Context(), "Host logged a user in", "user_id", req.UserID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *ControlHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	h.identity.Set(nil)
	if err := h.chat.Logout(r.Context()); err != nil {
		h.logger.Error(r.Context(), "Logout failed", "error", err.Error())
		domain.NewErrorResponse(codeOf(err), "Logout failed", err.Error()).WriteJSON(w, http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func codeOf(err error) domain.ErrorCode {
	var gwErr *domain.GatewayError
	if errors.As(err, &gwErr) && gwErr.Response.Code != "" {
		return gwErr.Response.Code
	}
	return domain.ErrCodeUnknown
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
