package chat

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // The widget is embedded on third-party origins.
	},
}

// Handler owns the websocket endpoint: connection lifecycle, event dispatch
// and room membership changes.
type Handler struct {
	baseCtx  context.Context
	hub      *Hub
	registry *RoomRegistry
	orch     *Orchestrator
	validate *validator.Validate
	log      zerolog.Logger
}

func NewHandler(ctx context.Context, hub *Hub, registry *RoomRegistry, orch *Orchestrator, log zerolog.Logger) *Handler {
	return &Handler{
		baseCtx:  ctx,
		hub:      hub,
		registry: registry,
		orch:     orch,
		validate: validator.New(),
		log:      log.With().Str("component", "ws").Logger(),
	}
}

// ServeWs upgrades the connection and pumps events until the client goes
// away. Cleanup always runs, whether the client left rooms explicitly or not.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	sess := NewSession(conn, h.log)
	h.hub.Register(sess)
	h.log.Info().Str("session_id", sess.ID()).Msg("client connected")

	go sess.writePump()
	sess.readPump(h.dispatch)

	h.hub.Unregister(sess)
	h.log.Info().Str("session_id", sess.ID()).Msg("client disconnected")
}

func (h *Handler) dispatch(sess *Session, env Envelope) {
	switch env.Event {
	case EventJoinConversation:
		h.handleJoin(sess, env.Data, true)
	case EventLeaveConversation:
		h.handleJoin(sess, env.Data, false)
	case EventTyping:
		h.handleTyping(sess, env.Data)
	case EventSendMessage:
		h.handleSendMessage(sess, env.Data)
	default:
		sess.sendError("unknown event: " + env.Event)
	}
}

func (h *Handler) handleJoin(sess *Session, data json.RawMessage, join bool) {
	var p JoinPayload
	if err := json.Unmarshal(data, &p); err != nil || h.validate.Struct(p) != nil {
		sess.sendError("conversationId is required")
		return
	}

	if join {
		h.registry.Join(p.ConversationID, sess.ID())
	} else {
		h.registry.Leave(p.ConversationID, sess.ID())
	}
	h.log.Debug().
		Str("session_id", sess.ID()).
		Str("conversation_id", p.ConversationID).
		Bool("join", join).
		Msg("room membership changed")
}

func (h *Handler) handleTyping(sess *Session, data json.RawMessage) {
	var p TypingPayload
	if err := json.Unmarshal(data, &p); err != nil || h.validate.Struct(p) != nil {
		sess.sendError("conversationId and isTyping are required")
		return
	}

	// User typing is rebroadcast to everyone else in the room. The sender is
	// excluded here; AI typing events from the orchestrator are not.
	h.hub.Broadcast(p.ConversationID, EventTyping, TypingEvent{
		UserID:   sess.ID(),
		IsTyping: *p.IsTyping,
	}, sess.ID())
}

func (h *Handler) handleSendMessage(sess *Session, data json.RawMessage) {
	var p SendMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		sess.sendError("conversationId and content are required")
		return
	}

	// Each message gets its own goroutine; the generator await must not block
	// this session's read loop or any other room. The base context (not the
	// request's) keeps an in-flight reply alive if the sender disconnects.
	go h.orch.HandleSendMessage(h.baseCtx, sess, p)
}
