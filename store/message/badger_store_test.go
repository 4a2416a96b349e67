package message

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

func newBadgerStore(t *testing.T) *BadgerStore {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewBadgerStore(db)
}

func seed(t *testing.T, store *BadgerStore, conversationID string, senders ...string) []Message {
	t.Helper()
	at := time.Now().UTC()
	var stored []Message
	for i, sender := range senders {
		msg := &Message{
			ConversationID: conversationID,
			SenderID:       sender,
			Content:        sender + " says hi",
			Timestamp:      at.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, store.Create(context.Background(), msg))
		stored = append(stored, *msg)
	}
	return stored
}

func TestBadgerStore_List_Chronological(t *testing.T) {
	req := require.New(t)
	store := newBadgerStore(t)
	stored := seed(t, store, "c1", "alice", "bob", "clara")
	seed(t, store, "c2", "dave")

	messages, err := store.List(context.Background(), "c1", Query{Order: OrderChronological, Limit: 50})
	req.NoError(err)
	req.Len(messages, 3)
	for i := range stored {
		req.Equal(stored[i].ID, messages[i].ID)
		req.True(stored[i].Timestamp.Equal(messages[i].Timestamp))
	}
}

func TestBadgerStore_List_Limit_Keeps_Most_Recent(t *testing.T) {
	req := require.New(t)
	store := newBadgerStore(t)
	stored := seed(t, store, "c1", "alice", "bob", "clara")

	// Detail view: the two most recent, oldest first
	messages, err := store.List(context.Background(), "c1", Query{Order: OrderChronological, Limit: 2})
	req.NoError(err)
	req.Len(messages, 2)
	req.Equal(stored[1].ID, messages[0].ID)
	req.Equal(stored[2].ID, messages[1].ID)

	// Preview: the two most recent, newest first
	messages, err = store.List(context.Background(), "c1", Query{Order: OrderRecent, Limit: 2})
	req.NoError(err)
	req.Len(messages, 2)
	req.Equal(stored[2].ID, messages[0].ID)
	req.Equal(stored[1].ID, messages[1].ID)
}

func TestBadgerStore_List_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	store := newBadgerStore(t)
	seed(t, store, "c1", "alice", "bob", "alice", "bob")

	first, err := store.List(context.Background(), "c1", Query{Limit: 50})
	req.NoError(err)
	second, err := store.List(context.Background(), "c1", Query{Limit: 50})
	req.NoError(err)
	req.Equal(first, second)
	for i := 1; i < len(first); i++ {
		req.False(first[i].Timestamp.Before(first[i-1].Timestamp))
	}
}

func TestBadgerStore_List_Unknown_Conversation(t *testing.T) {
	store := newBadgerStore(t)

	messages, err := store.List(context.Background(), "nothing", Query{Limit: 50})
	require.NoError(t, err)
	require.Empty(t, messages)
}

func TestBadgerStore_CountUnread(t *testing.T) {
	req := require.New(t)
	store := newBadgerStore(t)
	ctx := context.Background()
	seed(t, store, "c1", "alice", "bob", "alice")

	count, err := store.CountUnread(ctx, "c1", "bob")
	req.NoError(err)
	req.Equal(2, count)

	count, err = store.CountUnread(ctx, "c1", "alice")
	req.NoError(err)
	req.Equal(1, count)

	// A new message from a non-viewer raises the count by exactly one
	seed(t, store, "c1", "alice")
	count, err = store.CountUnread(ctx, "c1", "bob")
	req.NoError(err)
	req.Equal(3, count)
}
