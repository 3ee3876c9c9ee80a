package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a Store backed by process memory. It serves as the dev-mode
// fallback when no database DSN is configured, and as the store used in
// tests. Semantics mirror the Postgres repository.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]Conversation
	messages      map[string][]Message // conversation id -> messages, oldest first
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]Conversation),
		messages:      make(map[string][]Message),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) CreateConversation(_ context.Context, userID string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
		Messages:  []Message{},
	}
	s.conversations[conv.ID] = conv
	s.messages[conv.ID] = nil
	return conv, nil
}

func (s *MemoryStore) GetConversation(_ context.Context, id string) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return Conversation{}, ErrConversationNotFound
	}
	conv.Messages = append([]Message{}, s.messages[id]...)
	return conv, nil
}

func (s *MemoryStore) ConversationExists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.conversations[id]
	return ok, nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, conversationID string, sender Sender, content string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return Message{}, ErrConversationNotFound
	}
	now := time.Now().UTC()
	msg := Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Sender:         sender,
		Content:        content,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	return msg, nil
}

func (s *MemoryStore) ListMessagesPage(_ context.Context, conversationID string, page, size int) ([]Message, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.messages[conversationID]
	total := len(all)

	// Newest first.
	desc := make([]Message, 0, total)
	for i := total - 1; i >= 0; i-- {
		desc = append(desc, all[i])
	}

	start := (page - 1) * size
	if start >= total {
		return []Message{}, total, nil
	}
	end := start + size
	if end > total {
		end = total
	}
	return append([]Message{}, desc[start:end]...), total, nil
}

func (s *MemoryStore) UpdateMessage(_ context.Context, conversationID, messageID, content string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages[conversationID]
	for i, msg := range msgs {
		if msg.ID != messageID || msg.Sender != SenderUser {
			continue
		}
		msg.Content = content
		msg.UpdatedAt = time.Now().UTC()
		msgs[i] = msg
		return msg, nil
	}
	return Message{}, ErrMessageNotFound
}

func (s *MemoryStore) DeleteMessage(_ context.Context, conversationID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages[conversationID]
	for i, msg := range msgs {
		if msg.ID != messageID || msg.Sender != SenderUser {
			continue
		}
		s.messages[conversationID] = append(msgs[:i:i], msgs[i+1:]...)
		return nil
	}
	return ErrMessageNotFound
}
