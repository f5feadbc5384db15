// Package repository реализует хранилище биллинга на PostgreSQL: запись подписки
// в строке users, журнал входящих вебхуков и выборки для планировщика уведомлений.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

var (
	// ErrUserNotFound возвращается, если пользователя с таким идентификатором нет.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists возвращается при повторном создании записи пользователя.
	ErrUserExists = errors.New("user already exists")
	// ErrStaleWrite возвращается, если предусловия патча не выполнились:
	// статус изменился или уже применено более позднее событие.
	ErrStaleWrite = errors.New("stale subscription write")
)

// DBTX: подмножество pgxpool.Pool, которое использует хранилище.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Storage инкапсулирует пул соединений с PostgreSQL.
type Storage struct {
	DB   DBTX
	pool *pgxpool.Pool
}

// New создаёт пул соединений и проверяет доступность базы.
func New(ctx context.Context, storageConnectionString string) (*Storage, error) {
	const op = "storage.New"

	pool, err := pgxpool.New(ctx, storageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Storage{DB: pool, pool: pool}, nil
}

// NewWithDB оборачивает готовое соединение (в тестах: pgxmock).
func NewWithDB(db DBTX) *Storage {
	return &Storage{DB: db}
}

// Ping проверяет соединение с базой.
func (s *Storage) Ping(ctx context.Context) error {
	const op = "storage.Ping"
	if err := s.DB.Ping(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SQLDB возвращает *sql.DB поверх пула для golang-migrate. Закрывает вызывающий код.
func (s *Storage) SQLDB() (*sql.DB, error) {
	if s.pool == nil {
		return nil, errors.New("storage.SQLDB: storage has no pool")
	}
	return stdlib.OpenDBFromPool(s.pool), nil
}

// Close закрывает пул.
func (s *Storage) Close() {
	s.DB.Close()
}

// CheckDatabaseReady проверяет, что миграции применены.
func CheckDatabaseReady(ctx context.Context, s *Storage) error {
	var exists bool
	err := s.DB.QueryRow(ctx, `SELECT EXISTS (
		SELECT FROM information_schema.tables
		WHERE table_name = 'users'
	)`).Scan(&exists)
	if err != nil {
		return fmt.Errorf("required table users query error: %w", err)
	}
	if !exists {
		return errors.New("required table users missing")
	}
	return nil
}

func checkCtx(ctx context.Context, op string) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
		return nil
	}
}
