package chat

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 4096                // Maximum frame size allowed from peer.

	sendBuffer = 256
)

// Envelope is the framing for every event exchanged over the transport.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func encodeEvent(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// Session is one live connection. It owns the outbound send capability; the
// room registry only ever holds its id.
type Session struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	log  zerolog.Logger

	mu     sync.Mutex
	closed bool
}

func NewSession(conn *websocket.Conn, log zerolog.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		id:   id,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		log:  log.With().Str("session_id", id).Logger(),
	}
}

func (s *Session) ID() string { return s.id }

// Enqueue hands a pre-encoded frame to the write pump without blocking. When
// the buffer is full the frame is dropped for this session only.
func (s *Session) Enqueue(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	select {
	case s.send <- frame:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// close shuts the send channel so the write pump finishes its queue and
// closes the connection. Idempotent; Enqueue after close fails cleanly.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}

// SendEvent encodes and enqueues an event addressed to this session alone.
func (s *Session) SendEvent(event string, payload any) error {
	frame, err := encodeEvent(event, payload)
	if err != nil {
		return err
	}
	return s.Enqueue(frame)
}

func (s *Session) sendError(message string) {
	if err := s.SendEvent(EventError, ErrorEvent{Message: message}); err != nil {
		s.log.Warn().Err(err).Msg("could not deliver error event")
	}
}

// readPump pumps frames from the websocket connection to the dispatch
// callback. It blocks until the connection dies.
func (s *Session) readPump(dispatch func(*Session, Envelope)) {
	defer s.conn.Close()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			s.sendError("invalid frame: expected {event, data}")
			continue
		}
		dispatch(s, env)
	}
}

// writePump pumps frames from the send channel to the websocket connection
// and keeps the connection alive with pings.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
