package message

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

var messageColumns = []string{"id", "conversation_id", "sender_id", "content", "created_at", "is_read"}

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewSQLStore(db), mock
}

func TestSQLStore_Create(t *testing.T) {
	req := require.New(t)
	store, mock := newMockStore(t)
	before := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO messages")).
		WithArgs(sqlmock.AnyArg(), "c1", "alice", "hi", sqlmock.AnyArg(), false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	msg := &Message{ConversationID: "c1", SenderID: "alice", Content: "hi"}
	req.NoError(store.Create(context.Background(), msg))
	req.NotEmpty(msg.ID)
	req.False(msg.IsRead)
	req.False(msg.Timestamp.Before(before))
}

func TestSQLStore_Create_Failure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO messages")).
		WillReturnError(context.Canceled)

	err := store.Create(context.Background(), &Message{ConversationID: "c1", SenderID: "alice", Content: "hi"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestSQLStore_List_Chronological(t *testing.T) {
	req := require.New(t)
	store, mock := newMockStore(t)
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("recent ORDER BY created_at ASC, id ASC")).
		WithArgs("c1", 50).
		WillReturnRows(sqlmock.NewRows(messageColumns).
			AddRow("m1", "c1", "alice", "first", at, false).
			AddRow("m2", "c1", "bob", "second", at.Add(time.Second), true))

	messages, err := store.List(context.Background(), "c1", Query{Order: OrderChronological, Limit: 50})
	req.NoError(err)
	req.Len(messages, 2)
	req.Equal("first", messages[0].Content)
	req.Equal("second", messages[1].Content)
	req.True(messages[1].IsRead)
}

func TestSQLStore_List_Recent(t *testing.T) {
	req := require.New(t)
	store, mock := newMockStore(t)
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC, id DESC")).
		WithArgs("c1", 1).
		WillReturnRows(sqlmock.NewRows(messageColumns).
			AddRow("m2", "c1", "bob", "second", at.Add(time.Second), false))

	messages, err := store.List(context.Background(), "c1", Query{Order: OrderRecent, Limit: 1})
	req.NoError(err)
	req.Len(messages, 1)
	req.Equal("m2", messages[0].ID)
}

func TestSQLStore_CountUnread(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("sender_id <> $2 AND is_read = false")).
		WithArgs("c1", "bob").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := store.CountUnread(context.Background(), "c1", "bob")
	require.NoError(t, err)
	require.Equal(t, 3, count)
}

func TestParseOrder(t *testing.T) {
	req := require.New(t)

	order, err := ParseOrder("")
	req.NoError(err)
	req.Equal(OrderChronological, order)

	order, err = ParseOrder("DESC")
	req.NoError(err)
	req.Equal(OrderRecent, order)

	_, err = ParseOrder("sideways")
	req.Error(err)
}

func TestNow_Never_Before_Wall_Clock(t *testing.T) {
	for i := 0; i < 100; i++ {
		before := time.Now()
		ts := Now()
		require.False(t, ts.Before(before))
		require.Zero(t, ts.Nanosecond()%int(time.Microsecond))
	}
}
