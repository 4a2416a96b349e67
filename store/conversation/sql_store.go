package conversation

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// SQLStore implements Store using a database/sql connection.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a new SQLStore.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const selectConversation = `
	SELECT c.id, c.last_message_content, c.last_message_sender, c.last_message_at,
		c.created_at, c.updated_at,
		array_agg(m.user_id ORDER BY m.position)
	FROM conversations c
	JOIN conversation_members m ON m.conversation_id = c.id
`

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (*Conversation, error) {
	var (
		convo         Conversation
		content       sql.NullString
		sender        sql.NullString
		lastMessageAt sql.NullTime
		participants  pq.StringArray
	)
	if err := row.Scan(&convo.ID, &content, &sender, &lastMessageAt,
		&convo.CreatedAt, &convo.UpdatedAt, &participants); err != nil {
		return nil, err
	}
	if lastMessageAt.Valid {
		convo.LastMessage = &Summary{
			Content:   content.String,
			SenderID:  sender.String,
			Timestamp: lastMessageAt.Time.UTC(),
		}
	}
	convo.CreatedAt = convo.CreatedAt.UTC()
	convo.UpdatedAt = convo.UpdatedAt.UTC()
	convo.Participants = participants
	return &convo, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*Conversation, error) {
	query := selectConversation + `
		WHERE c.id = $1
		GROUP BY c.id
	`

	convo, err := scanConversation(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return convo, nil
}

func (s *SQLStore) Create(ctx context.Context, convo *Conversation) (err error) {
	participants, err := NormalizeParticipants(convo.Participants)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	if convo.CreatedAt.IsZero() {
		convo.CreatedAt = now
	}
	convo.UpdatedAt = convo.CreatedAt
	convo.ID = uuid.NewString()
	convo.Participants = participants
	convo.LastMessage = nil

	convoInsert := `
		INSERT INTO conversations (id, created_at, updated_at)
		VALUES ($1, $2, $3)
	`
	if _, err = tx.ExecContext(ctx, convoInsert, convo.ID, convo.CreatedAt, convo.UpdatedAt); err != nil {
		return err
	}

	memberInsert := `
		INSERT INTO conversation_members (conversation_id, user_id, position, joined_at)
		VALUES ($1, $2, $3, $4)
	`
	for position, memberID := range participants {
		if _, err = tx.ExecContext(ctx, memberInsert, convo.ID, memberID, position, convo.CreatedAt); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLStore) UpdateSummary(ctx context.Context, id string, summary Summary) error {
	query := `
		UPDATE conversations
		SET last_message_content = $2, last_message_sender = $3, last_message_at = $4, updated_at = $5
		WHERE id = $1
	`

	res, err := s.db.ExecContext(ctx, query, id, summary.Content, summary.SenderID,
		summary.Timestamp, time.Now().UTC())
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrConversationNotFound
	}
	return nil
}

func (s *SQLStore) ListForUser(ctx context.Context, userID string) ([]Conversation, error) {
	query := selectConversation + `
		WHERE c.id IN (SELECT conversation_id FROM conversation_members WHERE user_id = $1)
		GROUP BY c.id
		ORDER BY COALESCE(c.last_message_at, c.created_at) DESC, c.id
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	convos := []Conversation{}
	for rows.Next() {
		convo, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convos = append(convos, *convo)
	}
	return convos, rows.Err()
}
