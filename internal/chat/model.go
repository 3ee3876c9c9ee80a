package chat

import "time"

// Sender distinguishes who authored a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderAI
}

// AIUserID is the pseudo user id used for orchestrator-driven typing events.
const AIUserID = "ai"

// ---------------------------------------------
// Database & API models
// ---------------------------------------------

type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`

	// Populated on single-conversation reads.
	Messages []Message `json:"messages"`
}

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Sender         Sender    `json:"sender"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// MessagePage is the paginated REST response for a conversation's messages,
// ordered newest-first.
type MessagePage struct {
	Messages []Message `json:"messages"`
	Total    int       `json:"total"`
	Page     int       `json:"page"`
	Size     int       `json:"size"`
}

// ---------------------------------------------
// Websocket event payloads
// ---------------------------------------------

// Inbound payloads. Field names follow the wire contract (camelCase).

type JoinPayload struct {
	ConversationID string `json:"conversationId" validate:"required"`
}

type TypingPayload struct {
	ConversationID string `json:"conversationId" validate:"required"`
	IsTyping       *bool  `json:"isTyping" validate:"required"`
}

type SendMessagePayload struct {
	ConversationID string `json:"conversationId" validate:"required"`
	Content        string `json:"content" validate:"required"`
}

// Outbound payloads.

type TypingEvent struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}

// AIMessage is the broadcast form of a generated reply: the persisted
// message plus the generator's suggested actions (null when there are none).
type AIMessage struct {
	Message
	Actions map[string]string `json:"actions"`
}

// Event names exchanged over the transport.
const (
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventTyping            = "typing"
	EventSendMessage       = "send_message"
	EventNewMessage        = "new_message"
	EventError             = "error"
)
