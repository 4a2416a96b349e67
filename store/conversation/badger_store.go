package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// BadgerStore implements Store on an embedded BadgerDB.
//
// Keys:
//
//	conv:{id}                 -> JSON encoded Conversation
//	conv_member:{user}:{id}   -> empty, membership index used by ListForUser
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore creates a new BadgerStore.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func conversationKey(id string) []byte {
	return []byte("conv:" + id)
}

func memberPrefix(userID string) []byte {
	return []byte("conv_member:" + userID + ":")
}

func getConversation(txn *badger.Txn, id string) (*Conversation, error) {
	item, err := txn.Get(conversationKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	var convo Conversation
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &convo)
	}); err != nil {
		return nil, err
	}
	return &convo, nil
}

func setConversation(txn *badger.Txn, convo *Conversation) error {
	data, err := json.Marshal(convo)
	if err != nil {
		return err
	}
	return txn.Set(conversationKey(convo.ID), data)
}

func (s *BadgerStore) Get(_ context.Context, id string) (*Conversation, error) {
	var convo *Conversation
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		convo, err = getConversation(txn, id)
		return err
	})
	return convo, err
}

func (s *BadgerStore) Create(_ context.Context, convo *Conversation) error {
	participants, err := NormalizeParticipants(convo.Participants)
	if err != nil {
		return err
	}

	if convo.CreatedAt.IsZero() {
		convo.CreatedAt = time.Now().UTC()
	}
	convo.UpdatedAt = convo.CreatedAt
	convo.ID = uuid.NewString()
	convo.Participants = participants
	convo.LastMessage = nil

	return s.db.Update(func(txn *badger.Txn) error {
		if err := setConversation(txn, convo); err != nil {
			return err
		}
		for _, memberID := range participants {
			if err := txn.Set(append(memberPrefix(memberID), convo.ID...), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateSummary rewrites the conversation record in a single read-write
// transaction. Badger rejects the commit with ErrConflict when another send
// touched the same record concurrently; the update is then replayed.
func (s *BadgerStore) UpdateSummary(_ context.Context, id string, summary Summary) error {
	const maxAttempts = 3

	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = s.db.Update(func(txn *badger.Txn) error {
			convo, err := getConversation(txn, id)
			if err != nil {
				return err
			}
			summary.Timestamp = summary.Timestamp.UTC()
			convo.LastMessage = &summary
			convo.UpdatedAt = time.Now().UTC()
			return setConversation(txn, convo)
		})
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (s *BadgerStore) ListForUser(_ context.Context, userID string) ([]Conversation, error) {
	convos := []Conversation{}
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := memberPrefix(userID)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		var ids []string
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id := string(it.Item().Key()[len(prefix):])
			// A user id containing ':' shares this prefix; conversation ids never do.
			if strings.Contains(id, ":") {
				continue
			}
			ids = append(ids, id)
		}

		for _, id := range ids {
			convo, err := getConversation(txn, id)
			if err != nil {
				if errors.Is(err, ErrConversationNotFound) {
					continue
				}
				return err
			}
			convos = append(convos, *convo)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(convos, byActivityDesc)
	return convos, nil
}
