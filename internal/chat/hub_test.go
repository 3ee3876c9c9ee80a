package chat

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestSession(id string, buffer int) *Session {
	return &Session{id: id, send: make(chan []byte, buffer), log: zerolog.Nop()}
}

func drainEvents(t *testing.T, s *Session) []Envelope {
	t.Helper()
	var out []Envelope
	for {
		select {
		case frame := <-s.send:
			var env Envelope
			require.NoError(t, json.Unmarshal(frame, &env))
			out = append(out, env)
		default:
			return out
		}
	}
}

func newLocalHub() (*Hub, *RoomRegistry) {
	registry := NewRoomRegistry()
	return NewHub(registry, nil, zerolog.Nop()), registry
}

func TestHub_BroadcastReachesRoomMembersInOrder(t *testing.T) {
	hub, registry := newLocalHub()

	s1 := newTestSession("s1", 16)
	s2 := newTestSession("s2", 16)
	s3 := newTestSession("s3", 16)
	for _, s := range []*Session{s1, s2, s3} {
		hub.Register(s)
	}
	registry.Join("c1", s1.ID())
	registry.Join("c1", s2.ID())
	registry.Join("c2", s3.ID())

	hub.Broadcast("c1", EventTyping, TypingEvent{UserID: "ai", IsTyping: true}, "")
	hub.Broadcast("c1", EventTyping, TypingEvent{UserID: "ai", IsTyping: false}, "")

	for _, s := range []*Session{s1, s2} {
		events := drainEvents(t, s)
		require.Len(t, events, 2)
		require.Equal(t, EventTyping, events[0].Event)

		var first, second TypingEvent
		require.NoError(t, json.Unmarshal(events[0].Data, &first))
		require.NoError(t, json.Unmarshal(events[1].Data, &second))
		require.True(t, first.IsTyping)
		require.False(t, second.IsTyping)
	}

	// Other rooms hear nothing.
	require.Empty(t, drainEvents(t, s3))
}

func TestHub_BroadcastExcludesSender(t *testing.T) {
	hub, registry := newLocalHub()

	s1 := newTestSession("s1", 16)
	s2 := newTestSession("s2", 16)
	hub.Register(s1)
	hub.Register(s2)
	registry.Join("c1", s1.ID())
	registry.Join("c1", s2.ID())

	hub.Broadcast("c1", EventTyping, TypingEvent{UserID: s1.ID(), IsTyping: true}, s1.ID())

	require.Empty(t, drainEvents(t, s1))
	require.Len(t, drainEvents(t, s2), 1)
}

func TestHub_SlowConsumerIsIsolated(t *testing.T) {
	hub, registry := newLocalHub()

	slow := newTestSession("slow", 1)
	fast := newTestSession("fast", 16)
	hub.Register(slow)
	hub.Register(fast)
	registry.Join("c1", slow.ID())
	registry.Join("c1", fast.ID())

	hub.Broadcast("c1", EventTyping, TypingEvent{IsTyping: true}, "")
	hub.Broadcast("c1", EventTyping, TypingEvent{IsTyping: false}, "")

	// The slow session dropped the second frame; the fast one got both.
	require.Len(t, drainEvents(t, slow), 1)
	require.Len(t, drainEvents(t, fast), 2)
}

func TestHub_UnregisterPurgesMembership(t *testing.T) {
	hub, registry := newLocalHub()

	s1 := newTestSession("s1", 16)
	hub.Register(s1)
	registry.Join("c1", s1.ID())
	registry.Join("c2", s1.ID())

	hub.Unregister(s1)
	require.Empty(t, registry.MembersOf("c1"))
	require.Empty(t, registry.MembersOf("c2"))

	// Idempotent, and broadcasting afterwards must not panic.
	hub.Unregister(s1)
	hub.Broadcast("c1", EventTyping, TypingEvent{}, "")

	_, open := <-s1.send
	require.False(t, open, "send channel should be closed")
}
