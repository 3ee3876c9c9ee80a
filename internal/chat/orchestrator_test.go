package chat

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/bhavik66/chat-widget-backend/internal/ai"
)

type recordedEvent struct {
	Room    string
	Event   string
	Payload any
	Exclude string
}

// recordBus captures broadcasts in invocation order.
type recordBus struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (b *recordBus) Broadcast(room, event string, payload any, exclude string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, recordedEvent{Room: room, Event: event, Payload: payload, Exclude: exclude})
}

func (b *recordBus) snapshot() []recordedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]recordedEvent{}, b.events...)
}

func (b *recordBus) forRoom(room string) []recordedEvent {
	var out []recordedEvent
	for _, e := range b.snapshot() {
		if e.Room == room {
			out = append(out, e)
		}
	}
	return out
}

type peerEvent struct {
	Event   string
	Payload any
}

type fakePeer struct {
	id     string
	mu     sync.Mutex
	events []peerEvent
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) SendEvent(event string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, peerEvent{Event: event, Payload: payload})
	return nil
}

func (p *fakePeer) received() []peerEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]peerEvent{}, p.events...)
}

type genFunc func(ctx context.Context, userMessage string, history []ai.Turn) (ai.Reply, error)

func (f genFunc) Generate(ctx context.Context, userMessage string, history []ai.Turn) (ai.Reply, error) {
	return f(ctx, userMessage, history)
}

func newTestOrchestrator(t *testing.T, store Store, gen ai.Generator, bus Broadcaster, timeout time.Duration) *Orchestrator {
	t.Helper()
	return NewOrchestrator(store, gen, bus, timeout, 20, zerolog.Nop())
}

func mustCreateConversation(t *testing.T, store Store) Conversation {
	t.Helper()
	conv, err := store.CreateConversation(context.Background(), "user-1")
	require.NoError(t, err)
	return conv
}

func eventNames(events []recordedEvent) []string {
	names := make([]string, 0, len(events))
	for _, e := range events {
		names = append(names, e.Event)
	}
	return names
}

func TestHandleSendMessage_SuccessSequence(t *testing.T) {
	store := NewMemoryStore()
	conv := mustCreateConversation(t, store)
	bus := &recordBus{}
	gen := genFunc(func(_ context.Context, msg string, _ []ai.Turn) (ai.Reply, error) {
		return ai.Reply{Content: "reply to " + msg, Actions: map[string]string{"action1": "Learn More"}}, nil
	})
	orch := newTestOrchestrator(t, store, gen, bus, time.Second)
	peer := &fakePeer{id: "s1"}

	orch.HandleSendMessage(context.Background(), peer, SendMessagePayload{
		ConversationID: conv.ID,
		Content:        "hello",
	})

	events := bus.snapshot()
	require.Equal(t,
		[]string{EventNewMessage, EventTyping, EventNewMessage, EventTyping},
		eventNames(events))

	userMsg, ok := events[0].Payload.(Message)
	require.True(t, ok)
	require.Equal(t, SenderUser, userMsg.Sender)
	require.Equal(t, "hello", userMsg.Content)
	require.Equal(t, conv.ID, userMsg.ConversationID)

	require.Equal(t, TypingEvent{UserID: AIUserID, IsTyping: true}, events[1].Payload)

	aiMsg, ok := events[2].Payload.(AIMessage)
	require.True(t, ok)
	require.Equal(t, SenderAI, aiMsg.Sender)
	require.Equal(t, "reply to hello", aiMsg.Content)
	require.Equal(t, map[string]string{"action1": "Learn More"}, aiMsg.Actions)

	require.Equal(t, TypingEvent{UserID: AIUserID, IsTyping: false}, events[3].Payload)

	// The sender saw no error and nothing was excluded from the broadcasts.
	require.Empty(t, peer.received())
	for _, e := range events {
		require.Empty(t, e.Exclude)
	}

	// Both messages were persisted.
	_, total, err := store.ListMessagesPage(context.Background(), conv.ID, 1, 10)
	require.NoError(t, err)
	require.Equal(t, 2, total)
}

func TestHandleSendMessage_ValidationErrorGoesToSenderOnly(t *testing.T) {
	store := NewMemoryStore()
	conv := mustCreateConversation(t, store)
	bus := &recordBus{}
	gen := genFunc(func(context.Context, string, []ai.Turn) (ai.Reply, error) {
		t.Fatal("generator must not be called")
		return ai.Reply{}, nil
	})
	orch := newTestOrchestrator(t, store, gen, bus, time.Second)

	for _, p := range []SendMessagePayload{
		{ConversationID: "", Content: "hello"},
		{ConversationID: conv.ID, Content: ""},
	} {
		peer := &fakePeer{id: "s1"}
		orch.HandleSendMessage(context.Background(), peer, p)

		events := peer.received()
		require.Len(t, events, 1)
		require.Equal(t, EventError, events[0].Event)
		require.Equal(t, ErrorEvent{Message: "conversationId and content are required"}, events[0].Payload)
		require.Empty(t, bus.snapshot())
	}

	_, total, err := store.ListMessagesPage(context.Background(), conv.ID, 1, 10)
	require.NoError(t, err)
	require.Zero(t, total)
}

func TestHandleSendMessage_UnknownConversation(t *testing.T) {
	store := NewMemoryStore()
	bus := &recordBus{}
	gen := genFunc(func(context.Context, string, []ai.Turn) (ai.Reply, error) {
		t.Fatal("generator must not be called")
		return ai.Reply{}, nil
	})
	orch := newTestOrchestrator(t, store, gen, bus, time.Second)
	peer := &fakePeer{id: "s1"}

	orch.HandleSendMessage(context.Background(), peer, SendMessagePayload{
		ConversationID: "missing",
		Content:        "hello",
	})

	events := peer.received()
	require.Len(t, events, 1)
	require.Equal(t, EventError, events[0].Event)
	require.Equal(t, ErrorEvent{Message: "conversation not found"}, events[0].Payload)
	require.Empty(t, bus.snapshot())
}

func TestHandleSendMessage_GeneratorFailureClearsTyping(t *testing.T) {
	store := NewMemoryStore()
	conv := mustCreateConversation(t, store)
	bus := &recordBus{}
	gen := genFunc(func(context.Context, string, []ai.Turn) (ai.Reply, error) {
		return ai.Reply{}, fmt.Errorf("model unavailable")
	})
	orch := newTestOrchestrator(t, store, gen, bus, time.Second)
	peer := &fakePeer{id: "s1"}

	orch.HandleSendMessage(context.Background(), peer, SendMessagePayload{
		ConversationID: conv.ID,
		Content:        "hello",
	})

	events := bus.snapshot()
	require.Equal(t,
		[]string{EventNewMessage, EventTyping, EventTyping, EventError},
		eventNames(events))
	require.Equal(t, TypingEvent{UserID: AIUserID, IsTyping: true}, events[1].Payload)
	require.Equal(t, TypingEvent{UserID: AIUserID, IsTyping: false}, events[2].Payload)

	// Only the user message made it to the store.
	_, total, err := store.ListMessagesPage(context.Background(), conv.ID, 1, 10)
	require.NoError(t, err)
	require.Equal(t, 1, total)
}

func TestHandleSendMessage_GeneratorTimeout(t *testing.T) {
	store := NewMemoryStore()
	conv := mustCreateConversation(t, store)
	bus := &recordBus{}
	gen := genFunc(func(ctx context.Context, _ string, _ []ai.Turn) (ai.Reply, error) {
		<-ctx.Done()
		return ai.Reply{}, ctx.Err()
	})
	orch := newTestOrchestrator(t, store, gen, bus, 20*time.Millisecond)
	peer := &fakePeer{id: "s1"}

	start := time.Now()
	orch.HandleSendMessage(context.Background(), peer, SendMessagePayload{
		ConversationID: conv.ID,
		Content:        "hello",
	})
	require.Less(t, time.Since(start), 5*time.Second, "timeout must bound the wait")

	events := bus.snapshot()
	require.Equal(t,
		[]string{EventNewMessage, EventTyping, EventTyping, EventError},
		eventNames(events))
	require.Equal(t, TypingEvent{UserID: AIUserID, IsTyping: false}, events[2].Payload)
	require.Equal(t, ErrorEvent{Message: "reply generation timed out"}, events[3].Payload)
}

type replyFailStore struct {
	Store
}

func (s *replyFailStore) AppendMessage(ctx context.Context, conversationID string, sender Sender, content string) (Message, error) {
	if sender == SenderAI {
		return Message{}, fmt.Errorf("storage gone")
	}
	return s.Store.AppendMessage(ctx, conversationID, sender, content)
}

func TestHandleSendMessage_ReplyPersistFailure(t *testing.T) {
	mem := NewMemoryStore()
	conv := mustCreateConversation(t, mem)
	store := &replyFailStore{Store: mem}
	bus := &recordBus{}
	gen := genFunc(func(context.Context, string, []ai.Turn) (ai.Reply, error) {
		return ai.Reply{Content: "fine"}, nil
	})
	orch := newTestOrchestrator(t, store, gen, bus, time.Second)
	peer := &fakePeer{id: "s1"}

	orch.HandleSendMessage(context.Background(), peer, SendMessagePayload{
		ConversationID: conv.ID,
		Content:        "hello",
	})

	// The user message stays visible; typing is cleared and the room is told.
	events := bus.snapshot()
	require.Equal(t,
		[]string{EventNewMessage, EventTyping, EventTyping, EventError},
		eventNames(events))
	require.Equal(t, TypingEvent{UserID: AIUserID, IsTyping: false}, events[2].Payload)
	require.Equal(t, ErrorEvent{Message: "could not save the reply"}, events[3].Payload)
}

func TestHandleSendMessage_HistoryPassedToGenerator(t *testing.T) {
	store := NewMemoryStore()
	conv := mustCreateConversation(t, store)
	ctx := context.Background()
	_, err := store.AppendMessage(ctx, conv.ID, SenderUser, "hi")
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, conv.ID, SenderAI, "hello there")
	require.NoError(t, err)

	var got []ai.Turn
	gen := genFunc(func(_ context.Context, _ string, history []ai.Turn) (ai.Reply, error) {
		got = history
		return ai.Reply{Content: "ok"}, nil
	})
	orch := newTestOrchestrator(t, store, gen, &recordBus{}, time.Second)

	orch.HandleSendMessage(ctx, &fakePeer{id: "s1"}, SendMessagePayload{
		ConversationID: conv.ID,
		Content:        "next question",
	})

	// Chronological, without the message currently being handled.
	require.Equal(t, []ai.Turn{
		{Sender: "user", Content: "hi"},
		{Sender: "ai", Content: "hello there"},
	}, got)
}

func TestHandleSendMessage_RoomsAreIndependent(t *testing.T) {
	store := NewMemoryStore()
	convA := mustCreateConversation(t, store)
	convB := mustCreateConversation(t, store)
	bus := &recordBus{}

	release := make(chan struct{})
	gen := genFunc(func(ctx context.Context, msg string, _ []ai.Turn) (ai.Reply, error) {
		if msg == "slow" {
			select {
			case <-release:
			case <-ctx.Done():
				return ai.Reply{}, ctx.Err()
			}
		}
		return ai.Reply{Content: "reply to " + msg}, nil
	})
	orch := newTestOrchestrator(t, store, gen, bus, 10*time.Second)

	// Room A's reply hangs on the generator.
	done := make(chan struct{})
	go func() {
		defer close(done)
		orch.HandleSendMessage(context.Background(), &fakePeer{id: "sA"}, SendMessagePayload{
			ConversationID: convA.ID,
			Content:        "slow",
		})
	}()

	require.Eventually(t, func() bool {
		return len(bus.forRoom(convA.ID)) == 2 // user message + typing:true
	}, time.Second, 5*time.Millisecond)

	// Room B completes in full while A is still pending.
	orch.HandleSendMessage(context.Background(), &fakePeer{id: "sB"}, SendMessagePayload{
		ConversationID: convB.ID,
		Content:        "fast",
	})
	require.Equal(t,
		[]string{EventNewMessage, EventTyping, EventNewMessage, EventTyping},
		eventNames(bus.forRoom(convB.ID)))
	require.Len(t, bus.forRoom(convA.ID), 2)

	close(release)
	<-done
	require.Equal(t,
		[]string{EventNewMessage, EventTyping, EventNewMessage, EventTyping},
		eventNames(bus.forRoom(convA.ID)))
}
