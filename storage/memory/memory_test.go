package memory

import (
	"testing"

	"github.com/jmcleod/ironward/storage/storagetest"
)

func TestMemoryRepository(t *testing.T) {
	storagetest.Run(t, NewRepository())
}

func TestCorrupt(t *testing.T) {
	repo := NewRepository()
	repo.Put("ns", "a", []byte("abc"))

	ok := repo.Corrupt("ns", "a", func(b []byte) []byte {
		b[0] = 'X'
		return b
	})
	if !ok {
		t.Fatal("Corrupt should report an existing entry")
	}
	got, _ := repo.Get("ns", "a")
	if string(got) != "Xbc" {
		t.Errorf("expected corrupted value Xbc, got %q", got)
	}

	if repo.Corrupt("ns", "missing", func(b []byte) []byte { return b }) {
		t.Error("Corrupt should report false for missing entry")
	}
}
