package chat

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// busChannel is the Redis pub/sub channel bridging broadcasts between
// processes. Room membership stays local to each process; the bus only
// carries frames.
const busChannel = "chat:events"

// Broadcaster delivers an event to every member of a room. The orchestrator
// depends on this interface so tests can record the event sequence.
type Broadcaster interface {
	Broadcast(room, event string, payload any, excludeSession string)
}

// Hub owns the live sessions and fans events out to room members. Delivery
// within a room happens in Broadcast-invocation order: the delivery loop is a
// single serialization point and per-session enqueues never block.
type Hub struct {
	log      zerolog.Logger
	registry *RoomRegistry
	redis    *redis.Client // nil means local fan-out only

	sessMu   sync.RWMutex
	sessions map[string]*Session

	deliverMu sync.Mutex
}

func NewHub(registry *RoomRegistry, redisClient *redis.Client, log zerolog.Logger) *Hub {
	return &Hub{
		log:      log.With().Str("component", "hub").Logger(),
		registry: registry,
		redis:    redisClient,
		sessions: make(map[string]*Session),
	}
}

var _ Broadcaster = (*Hub)(nil)

// Register makes a session reachable for broadcasts.
func (h *Hub) Register(s *Session) {
	h.sessMu.Lock()
	defer h.sessMu.Unlock()
	h.sessions[s.id] = s
}

// Unregister forgets the session, purges its room memberships and closes its
// send channel. Idempotent.
func (h *Hub) Unregister(s *Session) {
	h.sessMu.Lock()
	defer h.sessMu.Unlock()

	if _, ok := h.sessions[s.id]; !ok {
		return
	}
	delete(h.sessions, s.id)
	h.registry.PurgeSession(s.id)
	s.close()
}

// busFrame is what rides the Redis bridge: the encoded event plus enough
// routing information to apply room scoping and sender exclusion on the
// receiving side.
type busFrame struct {
	Room    string `json:"room"`
	Exclude string `json:"exclude,omitempty"`
	Frame   []byte `json:"frame"`
}

// Broadcast delivers the event to every member of the room, minus
// excludeSession when set. Best-effort: a failed enqueue for one session is
// logged and does not affect the others.
func (h *Hub) Broadcast(room, event string, payload any, excludeSession string) {
	frame, err := encodeEvent(event, payload)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("could not encode event")
		return
	}

	if h.redis != nil {
		data, err := json.Marshal(busFrame{Room: room, Exclude: excludeSession, Frame: frame})
		if err != nil {
			h.log.Error().Err(err).Msg("could not encode bus frame")
			return
		}
		if err := h.redis.Publish(context.Background(), busChannel, data).Err(); err != nil {
			h.log.Error().Err(err).Str("room", room).Msg("redis publish failed")
		}
		return
	}

	h.deliver(room, frame, excludeSession)
}

// RunBridge subscribes to the Redis bus and delivers incoming frames to local
// room members. Blocks until ctx is done. No-op without a Redis client.
func (h *Hub) RunBridge(ctx context.Context) error {
	if h.redis == nil {
		<-ctx.Done()
		return nil
	}

	pubsub := h.redis.Subscribe(ctx, busChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var bf busFrame
			if err := json.Unmarshal([]byte(msg.Payload), &bf); err != nil {
				h.log.Warn().Err(err).Msg("dropping malformed bus frame")
				continue
			}
			h.deliver(bf.Room, bf.Frame, bf.Exclude)
		}
	}
}

func (h *Hub) deliver(room string, frame []byte, excludeSession string) {
	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()

	members := h.registry.MembersOf(room)

	h.sessMu.RLock()
	defer h.sessMu.RUnlock()
	for _, id := range members {
		if id == excludeSession {
			continue
		}
		s, ok := h.sessions[id]
		if !ok {
			// Disconnected between snapshot and delivery.
			continue
		}
		if err := s.Enqueue(frame); err != nil {
			h.log.Warn().Err(err).Str("room", room).Str("session_id", id).Msg("dropping frame")
		}
	}
}
