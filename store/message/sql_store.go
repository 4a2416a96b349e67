package message

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

// SQLStore implements Store using a database/sql connection.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a new SQLStore.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Create(ctx context.Context, msg *Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = Now()
	}
	msg.ID = uuid.NewString()
	msg.IsRead = false

	query := `
		INSERT INTO messages (id, conversation_id, sender_id, content, created_at, is_read)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Content, msg.Timestamp, msg.IsRead)
	return err
}

const recentMessages = `
	SELECT id, conversation_id, sender_id, content, created_at, is_read
	FROM messages
	WHERE conversation_id = $1
	ORDER BY created_at DESC, id DESC
	LIMIT $2
`

func (s *SQLStore) List(ctx context.Context, conversationID string, q Query) ([]Message, error) {
	query := recentMessages
	if q.Order != OrderRecent {
		query = `SELECT * FROM (` + recentMessages + `) recent ORDER BY created_at ASC, id ASC`
	}

	rows, err := s.db.QueryContext(ctx, query, conversationID, q.Limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	messages := []Message{}
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content,
			&msg.Timestamp, &msg.IsRead); err != nil {
			return nil, err
		}
		msg.Timestamp = msg.Timestamp.UTC()
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *SQLStore) CountUnread(ctx context.Context, conversationID, viewerID string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM messages
		WHERE conversation_id = $1 AND sender_id <> $2 AND is_read = false
	`

	var count int
	if err := s.db.QueryRowContext(ctx, query, conversationID, viewerID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
