package cmd

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nexus-im/courier/internal/config"
	"github.com/nexus-im/courier/internal/database"
	"github.com/nexus-im/courier/internal/httpapi"
	"github.com/nexus-im/courier/store/conversation"
	"github.com/nexus-im/courier/store/message"
	"github.com/nexus-im/courier/store/user"
)

// backend groups the stores of the configured driver with the handle they
// share.
type backend struct {
	conversations conversation.Store
	messages      message.Store
	users         user.Store
	pinger        httpapi.Pinger
	// sql is nil unless the driver is Postgres.
	sql   *sql.DB
	close func() error
}

func openBackend(ctx context.Context) (*backend, error) {
	switch cfg.StoreDriver {
	case config.DriverBadger:
		db, err := database.OpenBadger(cfg.BadgerPath)
		if err != nil {
			return nil, err
		}
		log.Info("Badger store opened", "path", cfg.BadgerPath)
		return &backend{
			conversations: conversation.NewBadgerStore(db),
			messages:      message.NewBadgerStore(db),
			users:         user.NewBadgerStore(db),
			pinger:        database.BadgerPinger{DB: db},
			close:         db.Close,
		}, nil

	case config.DriverPostgres:
		db, err := database.Connect(ctx, log, cfg.DatabaseURL, cfg.ConnectRetryInterval)
		if err != nil {
			return nil, err
		}
		return &backend{
			conversations: conversation.NewSQLStore(db),
			messages:      message.NewSQLStore(db),
			users:         user.NewSQLStore(db),
			pinger:        db,
			sql:           db,
			close:         db.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
