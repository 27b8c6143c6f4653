package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Rrens/ai-session-manager/internal/api/response"
	"github.com/Rrens/ai-session-manager/internal/api/sse"
	"github.com/Rrens/ai-session-manager/internal/chat"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

const keepAliveInterval = 15 * time.Second

var errStreamingUnsupported = errors.New("streaming not supported")

type submitRequest struct {
	Content string `json:"content" validate:"required,max=32000"`
	ID      string `json:"id" validate:"omitempty,max=64"`
}

type editRequest struct {
	Content string `json:"content" validate:"required,max=32000"`
}

// starter begins a turn. It reports whether a turn was started and the id
// of the user message involved.
type starter func() (messageID string, started bool, err error)

// Submit sends a user message and streams the answer
func (h *SessionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.open(w, r)
	if !ok {
		return
	}

	var input submitRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := validate.Struct(input); err != nil {
		validationError(w, err)
		return
	}

	h.stream(w, r, conv, func() (string, bool, error) {
		id, err := h.sessions.Submit(r.Context(), conv, input.Content, input.ID)
		return id, err == nil, err
	})
}

// Edit rewrites a user message. When the message had an answer the new
// answer is streamed, otherwise the updated session is returned.
func (h *SessionHandler) Edit(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.open(w, r)
	if !ok {
		return
	}

	var input editRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := validate.Struct(input); err != nil {
		validationError(w, err)
		return
	}

	messageID := chi.URLParam(r, "messageID")
	h.stream(w, r, conv, func() (string, bool, error) {
		started, err := h.sessions.Edit(r.Context(), conv, messageID, input.Content)
		return messageID, started, err
	})
}

// UpdateMessage replaces the content of a stored message in place
func (h *SessionHandler) UpdateMessage(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.open(w, r)
	if !ok {
		return
	}

	var input editRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := validate.Struct(input); err != nil {
		validationError(w, err)
		return
	}

	if err := conv.Update(chi.URLParam(r, "messageID"), input.Content); err != nil {
		writeError(w, err)
		return
	}

	response.OK(w, viewOf(conv))
}

// RemoveMessage deletes a stored message
func (h *SessionHandler) RemoveMessage(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.open(w, r)
	if !ok {
		return
	}

	if err := conv.Remove(chi.URLParam(r, "messageID")); err != nil {
		writeError(w, err)
		return
	}

	response.OK(w, viewOf(conv))
}

// Regenerate streams a new answer to the latest user message
func (h *SessionHandler) Regenerate(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.open(w, r)
	if !ok {
		return
	}

	h.stream(w, r, conv, func() (string, bool, error) {
		err := h.sessions.Regenerate(r.Context(), conv)
		return "", err == nil, err
	})
}

// stream subscribes to conv, starts a turn and relays its events until the
// turn ends. A client that goes away stops the relay but not the turn.
func (h *SessionHandler) stream(w http.ResponseWriter, r *http.Request, conv *chat.Conversation, start starter) {
	if _, ok := w.(http.Flusher); !ok {
		response.InternalError(w, errStreamingUnsupported.Error())
		return
	}

	events, unsubscribe := conv.Subscribe()
	defer unsubscribe()

	messageID, started, err := start()
	if err != nil {
		writeError(w, err)
		return
	}
	if !started {
		response.OK(w, viewOf(conv))
		return
	}

	sw, err := sse.NewWriter(w)
	if err != nil {
		response.InternalError(w, err.Error())
		return
	}

	turnDone := make(chan chat.TurnResult, 1)
	go func() { turnDone <- conv.Wait() }()

	sessionID := conv.Store().ID().String()
	if err := sw.WriteJSON(sse.EventStart, map[string]string{
		"session_id": sessionID,
		"message_id": messageID,
	}); err != nil {
		return
	}

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := sw.WriteJSON(string(ev.Kind), ev); err != nil {
				log.Debug().Err(err).Str("session_id", sessionID).Msg("Client stopped reading stream")
				return
			}
		case res := <-turnDone:
			drain(sw, events)
			_ = sw.WriteJSON(sse.EventDone, turnViewOf(res))
			return
		case <-keepAlive.C:
			if err := sw.WriteComment("keep-alive"); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

// drain relays events already buffered when the turn ended
func drain(sw *sse.Writer, events <-chan chat.Event) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := sw.WriteJSON(string(ev.Kind), ev); err != nil {
				return
			}
		default:
			return
		}
	}
}
