// Package securestore is an encrypted key-value store layered over a
// plaintext storage.Repository. Values are JSON encoded, sealed with
// AES-256-GCM and bound to their storage name.
//
// Reads never surface errors: a missing, undecryptable or undecodable entry
// reads as absent, and a corrupt entry is purged on the way out.
package securestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jmcleod/ironward/crypto"
	"github.com/jmcleod/ironward/internal/util"
	"github.com/jmcleod/ironward/storage"
)

// DefaultNamespace is used when no namespace option is supplied.
const DefaultNamespace = "secure"

const aadPrefix = "ironward:securestore:v1:"

// Store encrypts values before handing them to the backing repository.
type Store struct {
	mu        sync.Mutex
	repo      storage.Repository
	key       *crypto.Key
	namespace string
	logger    *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithNamespace scopes every name to namespace in the backing repository.
func WithNamespace(namespace string) Option {
	return func(s *Store) {
		s.namespace = namespace
	}
}

// WithLogger sets the logger used to report purged entries.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New returns a Store sealing values with key and persisting them in repo.
func New(repo storage.Repository, key *crypto.Key, opts ...Option) *Store {
	s := &Store{
		repo:      repo,
		key:       key,
		namespace: DefaultNamespace,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	s.logger = s.logger.With("component", "securestore", "namespace", s.namespace)
	return s
}

// Namespace returns the namespace the store writes to.
func (s *Store) Namespace() string {
	return s.namespace
}

func (s *Store) aad(name string) []byte {
	return []byte(aadPrefix + s.namespace + ":" + name)
}

// Set encrypts value and persists it under name, replacing any prior value.
func (s *Store) Set(name string, value any) error {
	plain, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %q: %w", name, err)
	}
	defer util.WipeBytes(plain)

	env, err := storage.SealEnvelope(s.key, plain, s.aad(name))
	if err != nil {
		return fmt.Errorf("sealing %q: %w", name, err)
	}
	blob, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("encoding envelope for %q: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.repo.Put(s.namespace, name, blob); err != nil {
		return fmt.Errorf("persisting %q: %w", name, err)
	}
	return nil
}

// Lookup decrypts the value stored under name into dst. It reports false
// when the entry is missing or corrupt; corrupt entries are removed.
func (s *Store) Lookup(name string, dst any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := s.repo.Get(s.namespace, name)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("secure item read failed", "name", name, "error", err)
		}
		return false
	}

	plain, err := s.open(name, blob)
	if err != nil {
		s.purgeLocked(name, err)
		return false
	}
	defer util.WipeBytes(plain)

	if err := json.Unmarshal(plain, dst); err != nil {
		s.purgeLocked(name, err)
		return false
	}
	return true
}

func (s *Store) open(name string, blob []byte) ([]byte, error) {
	env, err := storage.UnmarshalEnvelope(blob)
	if err != nil {
		return nil, err
	}
	return storage.OpenEnvelope(s.key, env, s.aad(name))
}

func (s *Store) purgeLocked(name string, cause error) {
	s.logger.Warn("purging unreadable secure item", "name", name, "error", cause)
	if err := s.repo.Delete(s.namespace, name); err != nil {
		s.logger.Error("purging secure item failed", "name", name, "error", err)
	}
}

// Remove deletes name. Missing names and backend errors are ignored; the
// latter are logged.
func (s *Store) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.repo.Delete(s.namespace, name); err != nil {
		s.logger.Error("removing secure item failed", "name", name, "error", err)
	}
}

// Names lists the names currently stored, including entries that may turn
// out to be unreadable.
func (s *Store) Names() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.List(s.namespace)
}

// Get returns the value stored under name decoded as T. The boolean is false
// when the entry is absent or was purged as corrupt.
func Get[T any](s *Store, name string) (T, bool) {
	var v T
	if !s.Lookup(name, &v) {
		var zero T
		return zero, false
	}
	return v, true
}
