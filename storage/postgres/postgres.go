// Package postgres implements storage.Repository backed by PostgreSQL.
//
// Blobs live in a single table keyed by (namespace, name), mirroring the
// bucket/key layout of the BBolt and in-memory backends.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmcleod/ironward/storage"
)

const (
	tableName      = "secure_blobs"
	defaultTimeout = 5 * time.Second
)

// Store implements storage.Repository backed by PostgreSQL.
type Store struct {
	pool    *pgxpool.Pool
	qb      sq.StatementBuilderType
	timeout time.Duration
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given pgx connection pool.
func NewRepository(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:    pool,
		qb:      sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		timeout: defaultTimeout,
	}
}

// NewRepositoryFromDSN creates a connection pool from a DSN string, ensures
// the schema exists, and returns a new Repository.
func NewRepositoryFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return NewRepository(pool), nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *Store) Put(namespace, name string, blob []byte) error {
	if err := storage.ValidateName(namespace, name); err != nil {
		return err
	}
	query, args, err := s.qb.Insert(tableName).
		Columns("namespace", "name", "blob", "updated_at").
		Values(namespace, name, blob, sq.Expr("now()")).
		Suffix("ON CONFLICT (namespace, name) DO UPDATE SET blob = EXCLUDED.blob, updated_at = EXCLUDED.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("building put query: %w", err)
	}
	ctx, cancel := s.ctx()
	defer cancel()
	_, err = s.pool.Exec(ctx, query, args...)
	return err
}

func (s *Store) Get(namespace, name string) ([]byte, error) {
	query, args, err := s.qb.Select("blob").
		From(tableName).
		Where(sq.Eq{"namespace": namespace, "name": name}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get query: %w", err)
	}
	ctx, cancel := s.ctx()
	defer cancel()

	var blob []byte
	err = s.pool.QueryRow(ctx, query, args...).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", namespace, name, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return blob, nil
}

func (s *Store) Delete(namespace, name string) error {
	query, args, err := s.qb.Delete(tableName).
		Where(sq.Eq{"namespace": namespace, "name": name}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building delete query: %w", err)
	}
	ctx, cancel := s.ctx()
	defer cancel()
	_, err = s.pool.Exec(ctx, query, args...)
	return err
}

func (s *Store) List(namespace string) ([]string, error) {
	query, args, err := s.qb.Select("name").
		From(tableName).
		Where(sq.Eq{"namespace": namespace}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list query: %w", err)
	}
	ctx, cancel := s.ctx()
	defer cancel()

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
