package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketchat/internal/model"
	"github.com/marketchat/internal/storage"
	"github.com/marketchat/migrations"
)

// newTestStore подключается к TEST_DATABASE_URL; без него тесты пропускаются.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	names, err := migrations.Names()
	require.NoError(t, err)
	for _, name := range names {
		data, err := migrations.Files.ReadFile(name)
		require.NoError(t, err)
		_, err = pool.Exec(ctx, string(data))
		require.NoError(t, err, name)
	}
	return NewStore(pool, nil)
}

// uniq разводит параллельные прогоны на одной БД.
func uniq(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

func createChat(t *testing.T, s *Store, at time.Time, members ...string) *model.Chat {
	t.Helper()
	ctx := context.Background()
	c := &model.Chat{ID: uniq("chat"), CreatedBy: members[0], CreatedAt: at}
	if len(members) == 2 {
		key := model.PairKey(members[0], members[1], nil)
		c.PairKey = &key
	}
	require.NoError(t, s.Chats().Create(ctx, c))
	for _, m := range members {
		require.NoError(t, s.Chats().AddParticipant(ctx, c.ID, m))
	}
	t.Cleanup(func() { s.Chats().Delete(context.Background(), c.ID) })
	return c
}

func TestPGChatLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, b, c := uniq("a"), uniq("b"), uniq("c")
	now := time.Now().UTC().Truncate(time.Microsecond)

	pair := createChat(t, s, now, a, b)
	require.NoError(t, s.Chats().AddParticipant(ctx, pair.ID, a), "repeat join is a no-op")

	dup := &model.Chat{ID: uniq("chat"), CreatedBy: b, CreatedAt: now, PairKey: pair.PairKey}
	assert.ErrorIs(t, s.Chats().Create(ctx, dup), storage.ErrDuplicate)

	found, err := s.Chats().FindExistingChat(ctx, b, a, nil)
	require.NoError(t, err)
	assert.Equal(t, pair.ID, found.ID)

	createChat(t, s, now, a, b, c)
	_, err = s.Chats().FindExistingChat(ctx, a, c, nil)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	parts, err := s.Chats().GetParticipants(ctx, pair.ID)
	require.NoError(t, err)
	assert.Len(t, parts, 2)

	ok, err := s.Chats().IsParticipant(ctx, pair.ID, c)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPGMessagesAndPreview(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, b := uniq("a"), uniq("b")
	now := time.Now().UTC().Truncate(time.Microsecond)
	older := createChat(t, s, now.Add(-time.Hour), a, b)
	newer := createChat(t, s, now, a, uniq("c"))

	var last *model.Message
	for i, body := range []string{"first", "second"} {
		m, err := model.NewMessage(uniq("m"), older.ID, &b, model.Text{Body: body}, now.Add(time.Duration(i+1)*time.Minute))
		require.NoError(t, err)
		err = s.WithinTx(ctx, func(tx storage.Messaging) error {
			if err := tx.Messages().Create(ctx, m); err != nil {
				return err
			}
			return tx.Chats().UpdateLastMessage(ctx, m.ChatID, m.CreatedAt)
		})
		require.NoError(t, err)
		last = m
	}

	list, err := s.Chats().FindByUser(ctx, a, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, older.ID, list[0].Chat.ID)
	require.NotNil(t, list[0].LastMessage)
	assert.Equal(t, "second", list[0].LastMessage.Content)
	assert.Equal(t, newer.ID, list[1].Chat.ID)

	msgs, err := s.Messages().FindByChat(ctx, older.ID, 1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, last.ID, msgs[0].ID)

	read, err := s.Messages().MarkAsRead(ctx, last.ID)
	require.NoError(t, err)
	assert.True(t, read.IsRead)

	_, err = s.Messages().Delete(ctx, last.ID)
	require.NoError(t, err)
	_, err = s.Messages().GetByID(ctx, last.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	n, err := s.Messages().PurgeChat(ctx, older.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestPGWithinTxRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := uniq("chat")
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(tx storage.Messaging) error {
		require.NoError(t, tx.Chats().Create(ctx, &model.Chat{ID: id, CreatedBy: "x", CreatedAt: time.Now().UTC()}))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	_, err = s.Chats().GetByID(ctx, id)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPGPreviewTieBreaksByID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := uniq("a")
	now := time.Now().UTC().Truncate(time.Microsecond)
	chat := createChat(t, s, now, a, uniq("b"))

	suffix := uuid.NewString()
	for _, id := range []string{"m-2-" + suffix, "m-1-" + suffix} {
		m, err := model.NewMessage(id, chat.ID, &a, model.Text{Body: id}, now)
		require.NoError(t, err)
		require.NoError(t, s.Messages().Create(ctx, m))
	}

	list, err := s.Chats().FindByUser(ctx, a, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].LastMessage)
	assert.Equal(t, "m-2-"+suffix, list[0].LastMessage.MessageID)

	msgs, err := s.Messages().FindByChat(ctx, chat.ID, 1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, list[0].LastMessage.MessageID, msgs[0].ID)
}
