// Package storagetest provides a conformance suite run against every
// storage.Repository backend.
package storagetest

import (
	"bytes"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/jmcleod/ironward/storage"
)

// Run exercises repo against the storage.Repository contract. The repository
// should start empty.
func Run(t *testing.T, repo storage.Repository) {
	t.Helper()
	ns := "ns1"

	t.Run("PutAndGet", func(t *testing.T) {
		if err := repo.Put(ns, "a", []byte("alpha")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		got, err := repo.Get(ns, "a")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !bytes.Equal(got, []byte("alpha")) {
			t.Errorf("Get returned %q, want %q", got, "alpha")
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		repo.Put(ns, "ow", []byte("v1"))
		repo.Put(ns, "ow", []byte("v2"))
		got, err := repo.Get(ns, "ow")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(got) != "v2" {
			t.Errorf("expected overwritten value v2, got %q", got)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		_, err := repo.Get(ns, "missing")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		_, err = repo.Get("other-ns", "a")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound across namespaces, got %v", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		repo.Put(ns, "del", []byte("x"))
		if err := repo.Delete(ns, "del"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := repo.Get(ns, "del"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
	})

	t.Run("DeleteMissing", func(t *testing.T) {
		if err := repo.Delete(ns, "never-existed"); err != nil {
			t.Errorf("Delete of missing name should succeed, got %v", err)
		}
		if err := repo.Delete("never-ns", "never-existed"); err != nil {
			t.Errorf("Delete in missing namespace should succeed, got %v", err)
		}
	})

	t.Run("List", func(t *testing.T) {
		repo.Put("listns", "x", []byte("1"))
		repo.Put("listns", "y", []byte("2"))
		repo.Put("listns-other", "z", []byte("3"))

		names, err := repo.List("listns")
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		sort.Strings(names)
		if len(names) != 2 || names[0] != "x" || names[1] != "y" {
			t.Errorf("List returned %v, want [x y]", names)
		}

		names, _ = repo.List("empty-ns")
		if len(names) != 0 {
			t.Errorf("expected no names in empty namespace, got %v", names)
		}
	})

	t.Run("ReturnedBlobIsolated", func(t *testing.T) {
		repo.Put(ns, "iso", []byte("abc"))
		got, _ := repo.Get(ns, "iso")
		got[0] = 'X'
		again, _ := repo.Get(ns, "iso")
		if again[0] == 'X' {
			t.Error("mutating a returned blob must not affect stored data")
		}
	})

	t.Run("InvalidName", func(t *testing.T) {
		if err := repo.Put("", "a", []byte("x")); !errors.Is(err, storage.ErrInvalidName) {
			t.Errorf("expected ErrInvalidName for empty namespace, got %v", err)
		}
		if err := repo.Put(ns, "", []byte("x")); !errors.Is(err, storage.ErrInvalidName) {
			t.Errorf("expected ErrInvalidName for empty name, got %v", err)
		}
	})

	t.Run("Concurrent", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				name := string(rune('a' + i))
				for j := 0; j < 20; j++ {
					repo.Put("conc", name, []byte{byte(j)})
					repo.Get("conc", name)
				}
			}(i)
		}
		wg.Wait()
		names, err := repo.List("conc")
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(names) != 8 {
			t.Errorf("expected 8 names after concurrent writes, got %d", len(names))
		}
	})
}
