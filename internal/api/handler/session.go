package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/Rrens/ai-session-manager/internal/api/middleware"
	"github.com/Rrens/ai-session-manager/internal/api/response"
	"github.com/Rrens/ai-session-manager/internal/chat"
	"github.com/Rrens/ai-session-manager/internal/domain"
	"github.com/Rrens/ai-session-manager/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// SessionHandler handles the configure, chat and evaluate endpoints
type SessionHandler struct {
	sessions *service.SessionService
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessions *service.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

type sessionView struct {
	Session domain.Session       `json:"session"`
	State   chat.State           `json:"state"`
	Live    []chat.StreamMessage `json:"live"`
}

func viewOf(conv *chat.Conversation) sessionView {
	return sessionView{
		Session: conv.Store().Snapshot(),
		State:   conv.State(),
		Live:    conv.LiveView(),
	}
}

type turnView struct {
	State     chat.State `json:"state"`
	MessageID string     `json:"message_id,omitempty"`
	Content   string     `json:"content,omitempty"`
	Cancelled bool       `json:"cancelled"`
	Error     string     `json:"error,omitempty"`
}

func turnViewOf(res chat.TurnResult) turnView {
	v := turnView{
		State:     res.State,
		MessageID: res.MessageID,
		Content:   res.Content,
		Cancelled: res.Cancelled,
	}
	if res.Err != nil && !res.Cancelled {
		v.Error = res.Err.Error()
	}
	return v
}

// Configure starts a new session in the caller's tab
func (h *SessionHandler) Configure(w http.ResponseWriter, r *http.Request) {
	var input domain.SessionConfig
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	if err := validate.Struct(input); err != nil {
		validationError(w, err)
		return
	}

	tab, _ := middleware.GetTabID(r.Context())
	var owner *uuid.UUID
	if userID, ok := middleware.GetUserID(r.Context()); ok {
		owner = &userID
	}

	conv, err := h.sessions.Configure(r.Context(), tab, input, owner)
	if err != nil {
		writeError(w, err)
		return
	}

	response.Created(w, viewOf(conv))
}

// Active returns the active session of the caller's tab
func (h *SessionHandler) Active(w http.ResponseWriter, r *http.Request) {
	tab, _ := middleware.GetTabID(r.Context())

	conv, err := h.sessions.Active(r.Context(), tab)
	if err != nil {
		writeError(w, err)
		return
	}
	if !owns(r, conv) {
		writeError(w, domain.ErrNoActiveSession)
		return
	}

	response.OK(w, viewOf(conv))
}

// Clear abandons the active session of the caller's tab
func (h *SessionHandler) Clear(w http.ResponseWriter, r *http.Request) {
	tab, _ := middleware.GetTabID(r.Context())

	if conv, err := h.sessions.Active(r.Context(), tab); err == nil && !owns(r, conv) {
		writeError(w, domain.ErrNoActiveSession)
		return
	}

	if err := h.sessions.Clear(r.Context(), tab); err != nil {
		writeError(w, err)
		return
	}
	response.NoContent(w)
}

// SetParameters replaces the generation parameters
func (h *SessionHandler) SetParameters(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.open(w, r)
	if !ok {
		return
	}

	var input domain.ModelParameters
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	if err := validate.Struct(input); err != nil {
		validationError(w, err)
		return
	}

	if err := conv.Store().SetParameters(input); err != nil {
		writeError(w, err)
		return
	}

	response.OK(w, conv.Store().Parameters())
}

// SetModel switches the model before the first turn
func (h *SessionHandler) SetModel(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.open(w, r)
	if !ok {
		return
	}

	var input struct {
		Model string `json:"model" validate:"required"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	if err := validate.Struct(input); err != nil {
		validationError(w, err)
		return
	}

	if err := h.sessions.SetModel(conv, input.Model); err != nil {
		writeError(w, err)
		return
	}

	response.OK(w, viewOf(conv))
}

// Cancel stops the turn in flight
func (h *SessionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.open(w, r)
	if !ok {
		return
	}

	response.OK(w, turnViewOf(conv.Cancel()))
}

// Complete attaches post-session ratings and archives the session
func (h *SessionHandler) Complete(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.open(w, r)
	if !ok {
		return
	}

	var input domain.PostSessionRatings
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	if err := validate.Struct(input); err != nil {
		validationError(w, err)
		return
	}

	tab, _ := middleware.GetTabID(r.Context())
	final, err := h.sessions.Complete(r.Context(), tab, conv, input)
	if err != nil {
		writeError(w, err)
		return
	}

	response.OK(w, final)
}

// History lists the caller's archived sessions
func (h *SessionHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	sessions, err := h.sessions.History(r.Context(), userID, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}

	response.OK(w, map[string]any{
		"sessions": sessions,
	})
}

// Archived returns one of the caller's archived sessions
func (h *SessionHandler) Archived(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		response.BadRequest(w, "invalid session ID")
		return
	}

	s, err := h.sessions.Archived(r.Context(), userID, id)
	if err != nil {
		writeError(w, err)
		return
	}

	response.OK(w, s)
}

// open resolves the session named in the URL for the caller's tab
func (h *SessionHandler) open(w http.ResponseWriter, r *http.Request) (*chat.Conversation, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		response.BadRequest(w, "invalid session ID")
		return nil, false
	}

	tab, _ := middleware.GetTabID(r.Context())
	conv, err := h.sessions.Open(r.Context(), tab, id)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	if !owns(r, conv) {
		writeError(w, domain.ErrSessionNotFound)
		return nil, false
	}
	return conv, true
}

// owns reports whether the caller may access conv. Anonymous sessions are
// reachable by anyone holding the tab id.
func owns(r *http.Request, conv *chat.Conversation) bool {
	owner := conv.Store().Snapshot().UserID
	if owner == nil {
		return true
	}
	userID, ok := middleware.GetUserID(r.Context())
	return ok && userID == *owner
}
