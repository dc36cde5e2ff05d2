package redis

import (
	"context"
	"os"
	"testing"

	"github.com/jmcleod/ironward/internal/uuid"
	"github.com/jmcleod/ironward/storage/storagetest"
)

func TestRedisStorage(t *testing.T) {
	addr := os.Getenv("IRONWARD_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("IRONWARD_TEST_REDIS_ADDR not set; skipping Redis tests")
	}

	// A unique prefix keeps runs isolated without flushing the database.
	s, err := Dial(context.Background(), Options{Addr: addr, KeyPrefix: "ironward-test-" + uuid.New()})
	if err != nil {
		t.Fatalf("could not connect to redis: %v", err)
	}
	defer s.Close()

	storagetest.Run(t, s)
}

func TestKeyPrefix(t *testing.T) {
	s := &Store{prefix: "app"}
	if got := s.key("ns"); got != "app:ns" {
		t.Errorf("key() = %q, want app:ns", got)
	}
	s.prefix = ""
	if got := s.key("ns"); got != "ns" {
		t.Errorf("key() = %q, want ns", got)
	}
}
