// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"fmt"
	"sync"

	"github.com/jmcleod/ironward/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for testing, demos, and single-process use cases.
type Repository struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]map[string][]byte)}
}

func (r *Repository) Put(namespace, name string, blob []byte) error {
	if err := storage.ValidateName(namespace, name); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ns, ok := r.data[namespace]
	if !ok {
		ns = make(map[string][]byte)
		r.data[namespace] = ns
	}
	ns[name] = append([]byte(nil), blob...)
	return nil
}

func (r *Repository) Get(namespace, name string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	blob, ok := r.data[namespace][name]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", namespace, name, storage.ErrNotFound)
	}
	return append([]byte(nil), blob...), nil
}

func (r *Repository) Delete(namespace, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ns, ok := r.data[namespace]
	if !ok {
		return nil
	}
	delete(ns, name)
	if len(ns) == 0 {
		delete(r.data, namespace)
	}
	return nil
}

func (r *Repository) List(namespace string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.data[namespace]))
	for name := range r.data[namespace] {
		names = append(names, name)
	}
	return names, nil
}

// Corrupt overwrites the stored blob in place without any validation. It
// exists for tests that simulate tampering with the underlying medium.
func (r *Repository) Corrupt(namespace, name string, fn func([]byte) []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	blob, ok := r.data[namespace][name]
	if !ok {
		return false
	}
	r.data[namespace][name] = fn(append([]byte(nil), blob...))
	return true
}
