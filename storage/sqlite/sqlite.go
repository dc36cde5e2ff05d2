// Package sqlite implements storage.Repository on an embedded SQLite
// database using the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"github.com/jmcleod/ironward/storage"
)

const (
	tableName      = "secure_blobs"
	defaultTimeout = 5 * time.Second
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS secure_blobs (
	namespace  TEXT    NOT NULL,
	name       TEXT    NOT NULL,
	blob       BLOB    NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (namespace, name)
);
`

// Store implements storage.Repository backed by SQLite.
type Store struct {
	db      *sql.DB
	qb      sq.StatementBuilderType
	timeout time.Duration
}

var _ storage.Repository = (*Store)(nil)

// Open opens (or creates) the database at path and ensures the schema.
// Use ":memory:" for a private in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// SQLite serialises writers; a single connection also keeps ":memory:"
	// databases from being per-connection.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return &Store{
		db:      db,
		qb:      sq.StatementBuilder.PlaceholderFormat(sq.Question),
		timeout: defaultTimeout,
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *Store) Put(namespace, name string, blob []byte) error {
	if err := storage.ValidateName(namespace, name); err != nil {
		return err
	}
	if blob == nil {
		blob = []byte{}
	}
	query, args, err := s.qb.Insert(tableName).
		Columns("namespace", "name", "blob", "updated_at").
		Values(namespace, name, blob, time.Now().Unix()).
		Suffix("ON CONFLICT (namespace, name) DO UPDATE SET blob = excluded.blob, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("building put query: %w", err)
	}
	ctx, cancel := s.ctx()
	defer cancel()
	_, err = s.db.ExecContext(ctx, query, args...)
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
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
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
	_, err = s.db.ExecContext(ctx, query, args...)
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

	rows, err := s.db.QueryContext(ctx, query, args...)
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
