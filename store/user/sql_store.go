package user

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SQLStore implements Store using a database/sql connection.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a new SQLStore.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Get(ctx context.Context, id string) (*User, error) {
	query := `
		SELECT id, username, avatar, status, connection_id, updated_at
		FROM users
		WHERE id = $1
	`

	var (
		u            User
		connectionID sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&u.ID, &u.Username, &u.Avatar, &u.Status, &connectionID, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	u.ConnectionID = connectionID.String
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}

func (s *SQLStore) Save(ctx context.Context, u *User) error {
	u.UpdatedAt = time.Now().UTC()
	if u.Status == "" {
		u.Status = StatusOffline
	}

	query := `
		INSERT INTO users (id, username, avatar, status, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET username = EXCLUDED.username, avatar = EXCLUDED.avatar, updated_at = EXCLUDED.updated_at
	`
	_, err := s.db.ExecContext(ctx, query, u.ID, u.Username, u.Avatar, u.Status, u.UpdatedAt)
	return err
}

func (s *SQLStore) MarkOnline(ctx context.Context, id, connectionID string) (err error) {
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

	// A connection that re-joined under another user no longer speaks for
	// the previous one.
	release := `
		UPDATE users
		SET status = $1, connection_id = NULL, updated_at = $2
		WHERE connection_id = $3 AND id <> $4
	`
	if _, err = tx.ExecContext(ctx, release, StatusOffline, now, connectionID, id); err != nil {
		return err
	}

	upsert := `
		INSERT INTO users (id, username, avatar, status, connection_id, updated_at)
		VALUES ($1, '', '', $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, connection_id = EXCLUDED.connection_id, updated_at = EXCLUDED.updated_at
	`
	if _, err = tx.ExecContext(ctx, upsert, id, StatusOnline, connectionID, now); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLStore) MarkOffline(ctx context.Context, connectionID string) error {
	query := `
		UPDATE users
		SET status = $1, connection_id = NULL, updated_at = $2
		WHERE connection_id = $3
	`
	_, err := s.db.ExecContext(ctx, query, StatusOffline, time.Now().UTC(), connectionID)
	return err
}
