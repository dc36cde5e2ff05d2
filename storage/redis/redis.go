// Package redis implements storage.Repository on top of Redis. Each namespace
// maps to one hash; names are hash fields.
package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jmcleod/ironward/storage"
)

const defaultTimeout = 3 * time.Second

// Options configures the Redis connection.
type Options struct {
	Addr       string
	Password   string
	DB         int
	TLSEnabled bool
	// KeyPrefix is prepended to every namespace hash key.
	KeyPrefix string
}

// Store implements storage.Repository backed by Redis hashes.
type Store struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
}

var _ storage.Repository = (*Store)(nil)

// NewRepository wraps an existing client.
func NewRepository(client redis.UniversalClient, keyPrefix string) *Store {
	return &Store{client: client, prefix: keyPrefix, timeout: defaultTimeout}
}

// Dial connects to Redis, verifies the connection with PING and returns a
// Store.
func Dial(ctx context.Context, opts Options) (*Store, error) {
	ro := &redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,

		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  defaultTimeout,
		WriteTimeout: defaultTimeout,
	}
	if opts.TLSEnabled {
		ro.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(ro)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRepository(client, opts.KeyPrefix), nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(namespace string) string {
	if s.prefix == "" {
		return namespace
	}
	return s.prefix + ":" + namespace
}

func (s *Store) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *Store) Put(namespace, name string, blob []byte) error {
	if err := storage.ValidateName(namespace, name); err != nil {
		return err
	}
	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.client.HSet(ctx, s.key(namespace), name, blob).Err(); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

func (s *Store) Get(namespace, name string) ([]byte, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	blob, err := s.client.HGet(ctx, s.key(namespace), name).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s/%s: %w", namespace, name, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis hget: %w", err)
	}
	return blob, nil
}

func (s *Store) Delete(namespace, name string) error {
	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.client.HDel(ctx, s.key(namespace), name).Err(); err != nil {
		return fmt.Errorf("redis hdel: %w", err)
	}
	return nil
}

func (s *Store) List(namespace string) ([]string, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	names, err := s.client.HKeys(ctx, s.key(namespace)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hkeys: %w", err)
	}
	return names, nil
}
