package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marketchat/internal/attachment"
	"github.com/marketchat/internal/storage"
)

const uniqueViolation = "23505"

// DBTX: *pgxpool.Pool или pgx.Tx, репозитории работают в транзакции и вне её.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type beginner interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store: storage.Messaging на PostgreSQL.
type Store struct {
	db    beginner
	chats *ChatRepository
	msgs  *MessageRepository
	files attachment.Store
}

func NewStore(pool *pgxpool.Pool, files attachment.Store) *Store {
	return newStore(pool, files)
}

func newStore(db beginner, files attachment.Store) *Store {
	return &Store{
		db:    db,
		chats: NewChatRepository(db),
		msgs:  NewMessageRepository(db, files),
		files: files,
	}
}

func (s *Store) Chats() storage.ChatStore       { return s.chats }
func (s *Store) Messages() storage.MessageStore { return s.msgs }

// WithinTx; внутри уже открытой транзакции pgx создаёт savepoint.
func (s *Store) WithinTx(ctx context.Context, fn func(tx storage.Messaging) error) error {
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		return fn(newStore(tx, s.files))
	})
	if err != nil {
		return fmt.Errorf("store.WithinTx: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// scanner: общий интерфейс pgx.Row и pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}
