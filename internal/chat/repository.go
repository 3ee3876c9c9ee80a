package chat

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Store is the persistence contract the room engine depends on. The
// orchestrator only ever appends and reads; the REST surface also uses the
// conversation/edit/delete operations.
type Store interface {
	CreateConversation(ctx context.Context, userID string) (Conversation, error)
	GetConversation(ctx context.Context, id string) (Conversation, error)
	ConversationExists(ctx context.Context, id string) (bool, error)

	// AppendMessage fails with ErrConversationNotFound when the conversation
	// is absent; any other error is a storage failure.
	AppendMessage(ctx context.Context, conversationID string, sender Sender, content string) (Message, error)

	// ListMessagesPage returns messages ordered by creation time descending,
	// with 1-based pages, plus the total message count.
	ListMessagesPage(ctx context.Context, conversationID string, page, size int) ([]Message, int, error)

	UpdateMessage(ctx context.Context, conversationID, messageID, content string) (Message, error)
	DeleteMessage(ctx context.Context, conversationID, messageID string) error
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ Store = (*Repository)(nil)

func (r *Repository) CreateConversation(ctx context.Context, userID string) (Conversation, error) {
	conv := Conversation{ID: uuid.NewString(), UserID: userID}
	query := `
		INSERT INTO conversations (id, user_id)
		VALUES ($1, $2)
		RETURNING created_at
	`
	if err := r.db.QueryRowContext(ctx, query, conv.ID, conv.UserID).Scan(&conv.CreatedAt); err != nil {
		return Conversation{}, errors.Wrap(err, "insert conversation")
	}
	conv.Messages = []Message{}
	return conv, nil
}

func (r *Repository) GetConversation(ctx context.Context, id string) (Conversation, error) {
	var conv Conversation
	query := "SELECT id, user_id, created_at FROM conversations WHERE id = $1"
	err := r.db.QueryRowContext(ctx, query, id).Scan(&conv.ID, &conv.UserID, &conv.CreatedAt)
	if err == sql.ErrNoRows {
		return Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return Conversation{}, errors.Wrap(err, "select conversation")
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender, content, created_at, updated_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC
	`, id)
	if err != nil {
		return Conversation{}, errors.Wrap(err, "select conversation messages")
	}
	defer rows.Close()

	conv.Messages = []Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return Conversation{}, err
		}
		conv.Messages = append(conv.Messages, msg)
	}
	return conv, rows.Err()
}

func (r *Repository) ConversationExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	query := "SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1)"
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&exists); err != nil {
		return false, errors.Wrap(err, "check conversation")
	}
	return exists, nil
}

func (r *Repository) AppendMessage(ctx context.Context, conversationID string, sender Sender, content string) (Message, error) {
	exists, err := r.ConversationExists(ctx, conversationID)
	if err != nil {
		return Message{}, err
	}
	if !exists {
		return Message{}, ErrConversationNotFound
	}

	msg := Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Sender:         sender,
		Content:        content,
	}
	query := `
		INSERT INTO messages (id, conversation_id, sender, content)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`
	err = r.db.QueryRowContext(ctx, query, msg.ID, msg.ConversationID, msg.Sender, msg.Content).
		Scan(&msg.CreatedAt, &msg.UpdatedAt)
	if err != nil {
		return Message{}, errors.Wrap(err, "insert message")
	}
	return msg, nil
}

func (r *Repository) ListMessagesPage(ctx context.Context, conversationID string, page, size int) ([]Message, int, error) {
	var total int
	countQuery := "SELECT COUNT(*) FROM messages WHERE conversation_id = $1"
	if err := r.db.QueryRowContext(ctx, countQuery, conversationID).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count messages")
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender, content, created_at, updated_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC
		OFFSET $2 LIMIT $3
	`, conversationID, (page-1)*size, size)
	if err != nil {
		return nil, 0, errors.Wrap(err, "select messages")
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		messages = append(messages, msg)
	}
	return messages, total, rows.Err()
}

func (r *Repository) UpdateMessage(ctx context.Context, conversationID, messageID, content string) (Message, error) {
	var msg Message
	query := `
		UPDATE messages
		SET content = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2 AND conversation_id = $3 AND sender = 'user'
		RETURNING id, conversation_id, sender, content, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query, content, messageID, conversationID).
		Scan(&msg.ID, &msg.ConversationID, &msg.Sender, &msg.Content, &msg.CreatedAt, &msg.UpdatedAt)
	if err == sql.ErrNoRows {
		return Message{}, ErrMessageNotFound
	}
	if err != nil {
		return Message{}, errors.Wrap(err, "update message")
	}
	return msg, nil
}

func (r *Repository) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	query := "DELETE FROM messages WHERE id = $1 AND conversation_id = $2 AND sender = 'user'"
	res, err := r.db.ExecContext(ctx, query, messageID, conversationID)
	if err != nil {
		return errors.Wrap(err, "delete message")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "delete message")
	}
	if affected == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func scanMessage(rows *sql.Rows) (Message, error) {
	var msg Message
	if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Sender, &msg.Content, &msg.CreatedAt, &msg.UpdatedAt); err != nil {
		return Message{}, errors.Wrap(err, "scan message")
	}
	return msg, nil
}
