package chat

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/bhavik66/chat-widget-backend/internal/ai"
)

// Peer is the session-facing side of the orchestrator: errors that concern
// only the message sender go here, never through the broadcaster.
type Peer interface {
	ID() string
	SendEvent(event string, payload any) error
}

// Orchestrator drives the lifecycle of one inbound user message: persist it,
// echo it to the room, signal that the AI is typing, await the generated
// reply, persist and broadcast it, clear typing. Each invocation runs on its
// own goroutine so a slow generator never stalls another conversation; the
// hub serializes the actual deliveries per room.
type Orchestrator struct {
	store       Store
	generator   ai.Generator
	bus         Broadcaster
	timeout     time.Duration
	historySize int
	validate    *validator.Validate
	log         zerolog.Logger
}

func NewOrchestrator(store Store, generator ai.Generator, bus Broadcaster, timeout time.Duration, historySize int, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:       store,
		generator:   generator,
		bus:         bus,
		timeout:     timeout,
		historySize: historySize,
		validate:    validator.New(),
		log:         log.With().Str("component", "orchestrator").Logger(),
	}
}

// HandleSendMessage runs the full state machine for one send_message event.
// Invariant: once typing:true has been broadcast, exactly one typing:false
// follows on every exit path.
func (o *Orchestrator) HandleSendMessage(ctx context.Context, peer Peer, p SendMessagePayload) {
	if err := o.validate.Struct(p); err != nil {
		o.sendError(peer, "conversationId and content are required")
		return
	}
	room := p.ConversationID
	log := o.log.With().Str("conversation_id", room).Str("session_id", peer.ID()).Logger()

	userMsg, err := o.store.AppendMessage(ctx, room, SenderUser, p.Content)
	if err != nil {
		// Nothing was broadcast yet, so the failure stays between us and the
		// sender.
		if errors.Is(err, ErrConversationNotFound) {
			o.sendError(peer, "conversation not found")
		} else {
			log.Error().Err(err).Msg("persisting user message failed")
			o.sendError(peer, "internal server error")
		}
		return
	}

	o.bus.Broadcast(room, EventNewMessage, userMsg, "")
	o.bus.Broadcast(room, EventTyping, TypingEvent{UserID: AIUserID, IsTyping: true}, "")

	reply, err := o.generate(ctx, room, userMsg)
	if err != nil {
		o.failTyping(room, log, err, "could not generate a reply")
		return
	}

	aiMsg, err := o.store.AppendMessage(ctx, room, SenderAI, reply.Content)
	if err != nil {
		// The user message is already visible, so the room hears about this
		// one.
		o.failTyping(room, log, err, "could not save the reply")
		return
	}

	o.bus.Broadcast(room, EventNewMessage, AIMessage{Message: aiMsg, Actions: reply.Actions}, "")
	o.bus.Broadcast(room, EventTyping, TypingEvent{UserID: AIUserID, IsTyping: false}, "")
}

// failTyping is the shared Failed exit once typing has been signalled: clear
// the indicator first, then tell the room.
func (o *Orchestrator) failTyping(room string, log zerolog.Logger, err error, msg string) {
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "reply generation timed out"
	}
	log.Error().Err(err).Msg(msg)
	o.bus.Broadcast(room, EventTyping, TypingEvent{UserID: AIUserID, IsTyping: false}, "")
	o.bus.Broadcast(room, EventError, ErrorEvent{Message: msg}, "")
}

func (o *Orchestrator) generate(ctx context.Context, room string, userMsg Message) (ai.Reply, error) {
	genCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	return o.generator.Generate(genCtx, userMsg.Content, o.history(ctx, room, userMsg.ID))
}

// history loads the most recent messages as chronological turns, leaving out
// the message currently being handled (the generator receives it separately).
func (o *Orchestrator) history(ctx context.Context, room, currentID string) []ai.Turn {
	if o.historySize <= 0 {
		return nil
	}
	msgs, _, err := o.store.ListMessagesPage(ctx, room, 1, o.historySize)
	if err != nil {
		o.log.Warn().Err(err).Str("conversation_id", room).Msg("history unavailable, generating without it")
		return nil
	}
	msgs = lo.Reject(msgs, func(m Message, _ int) bool { return m.ID == currentID })
	return lo.Map(lo.Reverse(msgs), func(m Message, _ int) ai.Turn {
		return ai.Turn{Sender: string(m.Sender), Content: m.Content}
	})
}

func (o *Orchestrator) sendError(peer Peer, message string) {
	if err := peer.SendEvent(EventError, ErrorEvent{Message: message}); err != nil {
		o.log.Warn().Err(err).Str("session_id", peer.ID()).Msg("could not deliver error event")
	}
}
