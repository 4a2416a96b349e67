package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/nexus-im/courier/internal/chat"
	"github.com/nexus-im/courier/store/message"
)

func (a *API) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Chat server is running and connected to the store!"))
}

func (a *API) handlePing(w http.ResponseWriter, r *http.Request) {
	if err := a.ping.PingContext(r.Context()); err != nil {
		a.log.Error("Ping failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "Failed to ping store",
			"details": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Ping successful!"})
}

func (a *API) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req chat.SendRequest
	if !a.decode(w, r, &req) {
		return
	}

	msg, err := a.chat.Send(r.Context(), req)
	if err != nil {
		a.fail(w, err, "Failed to send message")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"message": "Message sent", "id": msg.ID})
}

func (a *API) handleListMessages(w http.ResponseWriter, r *http.Request) {
	order, err := message.ParseOrder(r.URL.Query().Get("order"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "order must be asc or desc")
		return
	}
	var limit int
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
	}

	views, err := a.chat.ListMessages(r.Context(), r.PathValue("conversationId"), message.Query{Order: order, Limit: limit})
	if err != nil {
		a.fail(w, err, "Failed to fetch messages")
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (a *API) handleListConversations(w http.ResponseWriter, r *http.Request) {
	views, err := a.chat.ListConversations(r.Context(), r.PathValue("userId"))
	if err != nil {
		a.fail(w, err, "Failed to fetch conversations")
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (a *API) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Participants []string `json:"participants"`
	}
	if !a.decode(w, r, &req) {
		return
	}

	convo, err := a.chat.CreateConversation(r.Context(), req.Participants)
	if err != nil {
		a.fail(w, err, "Failed to create conversation")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": convo.ID})
}

// decode reads a JSON body of at most maxBody bytes into v and answers the
// request itself when that fails.
func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func (a *API) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, "Route not found")
}

// fail maps the chat error taxonomy to a response. Store failures keep
// their detail in the log and answer with the generic message.
func (a *API) fail(w http.ResponseWriter, err error, generic string) {
	switch {
	case errors.Is(err, chat.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chat.ErrNotFound):
		writeError(w, http.StatusNotFound, "Conversation not found")
	default:
		a.log.Error(generic, "error", err)
		writeError(w, http.StatusInternalServerError, generic)
	}
}
