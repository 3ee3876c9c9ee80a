package chat

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// API is the REST surface over the store: conversation CRUD, message
// pagination and edit/delete. Plain request/response plumbing; the room
// engine is not involved.
type API struct {
	store    Store
	validate *validator.Validate
	log      zerolog.Logger
}

func NewAPI(store Store, log zerolog.Logger) *API {
	return &API{
		store:    store,
		validate: validator.New(),
		log:      log.With().Str("component", "api").Logger(),
	}
}

func (a *API) Routes(r chi.Router) {
	r.Get("/health", a.health)
	r.Post("/conversations", a.createConversation)
	r.Get("/conversations/{conversationID}", a.getConversation)
	r.Get("/conversations/{conversationID}/messages", a.listMessages)
	r.Post("/conversations/{conversationID}/messages", a.createMessage)
	r.Put("/conversations/{conversationID}/messages/{messageID}", a.updateMessage)
	r.Delete("/conversations/{conversationID}/messages/{messageID}", a.deleteMessage)
}

type createConversationRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

type createMessageRequest struct {
	Sender  Sender `json:"sender" validate:"required"`
	Content string `json:"content" validate:"required"`
}

type updateMessageRequest struct {
	Content string `json:"content" validate:"required"`
}

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "API is healthy.",
	})
}

func (a *API) createConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if !a.decode(w, r, &req) {
		return
	}

	conv, err := a.store.CreateConversation(r.Context(), req.UserID)
	if err != nil {
		a.serverError(w, err, "create conversation")
		return
	}
	a.writeJSON(w, http.StatusCreated, conv)
}

func (a *API) getConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := a.store.GetConversation(r.Context(), chi.URLParam(r, "conversationID"))
	if errors.Is(err, ErrConversationNotFound) {
		a.writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	if err != nil {
		a.serverError(w, err, "get conversation")
		return
	}
	a.writeJSON(w, http.StatusOK, conv)
}

func (a *API) listMessages(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1, 1, 1<<30)
	size := queryInt(r, "size", 10, 1, 100)

	messages, total, err := a.store.ListMessagesPage(r.Context(), chi.URLParam(r, "conversationID"), page, size)
	if err != nil {
		a.serverError(w, err, "list messages")
		return
	}
	a.writeJSON(w, http.StatusOK, MessagePage{
		Messages: messages,
		Total:    total,
		Page:     page,
		Size:     size,
	})
}

func (a *API) createMessage(w http.ResponseWriter, r *http.Request) {
	var req createMessageRequest
	if !a.decode(w, r, &req) {
		return
	}
	if !req.Sender.Valid() {
		a.writeError(w, http.StatusBadRequest, "sender must be 'user' or 'ai'")
		return
	}

	msg, err := a.store.AppendMessage(r.Context(), chi.URLParam(r, "conversationID"), req.Sender, req.Content)
	if errors.Is(err, ErrConversationNotFound) {
		a.writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	if err != nil {
		a.serverError(w, err, "create message")
		return
	}
	a.writeJSON(w, http.StatusCreated, msg)
}

func (a *API) updateMessage(w http.ResponseWriter, r *http.Request) {
	var req updateMessageRequest
	if !a.decode(w, r, &req) {
		return
	}

	msg, err := a.store.UpdateMessage(r.Context(),
		chi.URLParam(r, "conversationID"), chi.URLParam(r, "messageID"), req.Content)
	if errors.Is(err, ErrMessageNotFound) {
		a.writeError(w, http.StatusNotFound, "Message not found or cannot be edited")
		return
	}
	if err != nil {
		a.serverError(w, err, "update message")
		return
	}
	a.writeJSON(w, http.StatusOK, msg)
}

func (a *API) deleteMessage(w http.ResponseWriter, r *http.Request) {
	err := a.store.DeleteMessage(r.Context(),
		chi.URLParam(r, "conversationID"), chi.URLParam(r, "messageID"))
	if errors.Is(err, ErrMessageNotFound) {
		a.writeError(w, http.StatusNotFound, "Message not found or cannot be deleted")
		return
	}
	if err != nil {
		a.serverError(w, err, "delete message")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decode unmarshals and validates a JSON body, replying 400 on failure.
func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := a.validate.Struct(v); err != nil {
		a.writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Warn().Err(err).Msg("could not write response")
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, msg string) {
	a.writeJSON(w, status, map[string]string{"detail": msg})
}

func (a *API) serverError(w http.ResponseWriter, err error, op string) {
	a.log.Error().Err(err).Str("op", op).Msg("request failed")
	a.writeError(w, http.StatusInternalServerError, "internal server error")
}

func queryInt(r *http.Request, key string, def, min, max int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min {
		return def
	}
	if n > max {
		return max
	}
	return n
}
