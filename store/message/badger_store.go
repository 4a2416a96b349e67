package message

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// BadgerStore implements Store on an embedded BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore creates a new BadgerStore.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func conversationPrefix(conversationID string) []byte {
	return []byte("msg:" + conversationID + ":")
}

// messageKey is formatted as "msg:{conversation}:{timestamp_padded}:{id}" so
// that a prefix scan walks a conversation in timestamp order, the id breaking
// ties between messages stored within the same nanosecond.
func messageKey(msg *Message) []byte {
	return []byte(fmt.Sprintf("msg:%s:%019d:%s", msg.ConversationID, msg.Timestamp.UnixNano(), msg.ID))
}

func (s *BadgerStore) Create(_ context.Context, msg *Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = Now()
	}
	msg.Timestamp = msg.Timestamp.UTC()
	msg.ID = uuid.NewString()
	msg.IsRead = false

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(msg), data)
	})
}

// List walks the conversation backwards from its newest message and stops
// once q.Limit messages are collected.
func (s *BadgerStore) List(_ context.Context, conversationID string, q Query) ([]Message, error) {
	messages := []Message{}
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := conversationPrefix(conversationID)
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(append(slices.Clone(prefix), 0xff)); it.ValidForPrefix(prefix); it.Next() {
			if q.Limit > 0 && len(messages) == q.Limit {
				break
			}
			var msg Message
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				return err
			}
			messages = append(messages, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if q.Order != OrderRecent {
		slices.Reverse(messages)
	}
	return messages, nil
}

func (s *BadgerStore) CountUnread(_ context.Context, conversationID, viewerID string) (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := conversationPrefix(conversationID)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var msg Message
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				return err
			}
			if msg.SenderID != viewerID && !msg.IsRead {
				count++
			}
		}
		return nil
	})
	return count, err
}
