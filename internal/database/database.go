// Package database opens the durable stores: Postgres through database/sql
// and the embedded Badger alternative.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	_ "github.com/lib/pq"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Connect opens a Postgres handle and waits until the server answers,
// retrying every interval until ctx is done.
func Connect(ctx context.Context, log *slog.Logger, url string, interval time.Duration) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := WaitReady(ctx, log, db, interval); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// WaitReady pings until the store answers. There is no attempt limit.
func WaitReady(ctx context.Context, log *slog.Logger, db Pinger, interval time.Duration) error {
	for attempt := 1; ; attempt++ {
		err := db.PingContext(ctx)
		if err == nil {
			log.Info("Connected to database", "attempts", attempt)
			return nil
		}
		log.Warn("Database unreachable, retrying", "attempt", attempt, "retry_in", interval, "error", err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("connect database: %w", ctx.Err())
		case <-time.After(interval):
		}
	}
}

// OpenBadger opens (or creates) the embedded store at path.
func OpenBadger(path string) (*badger.DB, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	return db, nil
}

// BadgerPinger reports whether the embedded store can still serve reads.
type BadgerPinger struct {
	DB *badger.DB
}

func (p BadgerPinger) PingContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.DB.IsClosed() {
		return errors.New("badger store is closed")
	}
	return p.DB.View(func(*badger.Txn) error { return nil })
}
