package user

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore implements Store on an embedded BadgerDB.
//
// Keys:
//
//	user:{id}             -> JSON encoded User
//	user_conn:{connID}    -> user id, reverse index used by MarkOffline
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore creates a new BadgerStore.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func userKey(id string) []byte {
	return []byte("user:" + id)
}

func connectionKey(connectionID string) []byte {
	return []byte("user_conn:" + connectionID)
}

func getUser(txn *badger.Txn, id string) (*User, error) {
	item, err := txn.Get(userKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	var u User
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &u)
	}); err != nil {
		return nil, err
	}
	return &u, nil
}

func setUser(txn *badger.Txn, u *User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return txn.Set(userKey(u.ID), data)
}

// update runs fn in a read-write transaction, replaying it when the commit
// conflicts with a concurrent writer.
func (s *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	const maxAttempts = 3

	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (s *BadgerStore) Get(_ context.Context, id string) (*User, error) {
	var u *User
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		u, err = getUser(txn, id)
		return err
	})
	return u, err
}

func (s *BadgerStore) Save(_ context.Context, u *User) error {
	return s.update(func(txn *badger.Txn) error {
		stored, err := getUser(txn, u.ID)
		switch {
		case errors.Is(err, ErrUserNotFound):
			stored = &User{ID: u.ID, Status: StatusOffline}
		case err != nil:
			return err
		}
		stored.Username = u.Username
		stored.Avatar = u.Avatar
		stored.UpdatedAt = time.Now().UTC()
		*u = *stored
		return setUser(txn, stored)
	})
}

func (s *BadgerStore) MarkOnline(_ context.Context, id, connectionID string) error {
	return s.update(func(txn *badger.Txn) error {
		u, err := getUser(txn, id)
		switch {
		case errors.Is(err, ErrUserNotFound):
			u = &User{ID: id}
		case err != nil:
			return err
		}
		if u.ConnectionID != "" && u.ConnectionID != connectionID {
			if err := txn.Delete(connectionKey(u.ConnectionID)); err != nil {
				return err
			}
		}
		now := time.Now().UTC()
		if err := releaseConnection(txn, connectionID, id, now); err != nil {
			return err
		}
		u.Status = StatusOnline
		u.ConnectionID = connectionID
		u.UpdatedAt = now
		if err := setUser(txn, u); err != nil {
			return err
		}
		return txn.Set(connectionKey(connectionID), []byte(id))
	})
}

// releaseConnection marks offline the user other than id that still holds
// connectionID, so a connection is held by at most one user.
func releaseConnection(txn *badger.Txn, connectionID, id string, now time.Time) error {
	item, err := txn.Get(connectionKey(connectionID))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	}
	holder, err := item.ValueCopy(nil)
	if err != nil {
		return err
	}
	if string(holder) == id {
		return nil
	}

	previous, err := getUser(txn, string(holder))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil
		}
		return err
	}
	if previous.ConnectionID != connectionID {
		return nil
	}
	previous.Status = StatusOffline
	previous.ConnectionID = ""
	previous.UpdatedAt = now
	return setUser(txn, previous)
}

func (s *BadgerStore) MarkOffline(_ context.Context, connectionID string) error {
	return s.update(func(txn *badger.Txn) error {
		item, err := txn.Get(connectionKey(connectionID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := txn.Delete(connectionKey(connectionID)); err != nil {
			return err
		}

		u, err := getUser(txn, string(id))
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				return nil
			}
			return err
		}
		if u.ConnectionID != connectionID {
			return nil
		}
		u.Status = StatusOffline
		u.ConnectionID = ""
		u.UpdatedAt = time.Now().UTC()
		return setUser(txn, u)
	})
}
