package api

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmcleod/ironward/crypto"
	"github.com/jmcleod/ironward/internal/util"
	"github.com/jmcleod/ironward/internal/uuid"
	"github.com/jmcleod/ironward/securestore"
	"github.com/jmcleod/ironward/shield"
)

var errAccountExists = errors.New("account already exists")

type accountRecord struct {
	Subject      string    `json:"subject"`
	TenantID     string    `json:"tenant_id,omitempty"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// accountStore keeps password hashes in the encrypted accounts namespace,
// keyed by a digest of the normalized identifier.
type accountStore struct {
	mu     sync.Mutex
	store  *securestore.Store
	hasher *crypto.Hasher

	// dummyHash is verified against for unknown identifiers so a miss costs
	// the same as a wrong password.
	dummyOnce sync.Once
	dummyHash string
}

func newAccountStore(sh *shield.Shield) *accountStore {
	return &accountStore{
		store:  sh.AccountStore(),
		hasher: sh.Hasher(),
	}
}

// normalizeIdentifier folds an identifier so that rate limiting and lookup
// agree on one spelling per account.
func normalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(util.Normalize(identifier)))
}

func accountLookupID(identifier string) string {
	sum := sha256.Sum256([]byte(identifier))
	return hex.EncodeToString(sum[:])
}

func (s *accountStore) create(identifier, password, tenantID string) (accountRecord, error) {
	hash, err := s.hasher.Hash(password, nil)
	if err != nil {
		return accountRecord{}, fmt.Errorf("hashing password: %w", err)
	}
	record := accountRecord{
		Subject:      uuid.New(),
		TenantID:     tenantID,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}

	name := accountLookupID(identifier)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := securestore.Get[accountRecord](s.store, name); ok {
		return accountRecord{}, errAccountExists
	}
	if err := s.store.Set(name, record); err != nil {
		return accountRecord{}, fmt.Errorf("saving account: %w", err)
	}
	return record, nil
}

// verify checks password for identifier and returns the session payload for
// the account.
func (s *accountStore) verify(identifier, password string) (shield.Data, bool) {
	record, ok := securestore.Get[accountRecord](s.store, accountLookupID(identifier))
	if !ok {
		s.hasher.Verify(password, s.dummy())
		return shield.Data{}, false
	}
	if !s.hasher.Verify(password, record.PasswordHash) {
		return shield.Data{}, false
	}
	return shield.Data{Subject: record.Subject, TenantID: record.TenantID}, true
}

func (s *accountStore) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash(uuid.New(), nil)
	})
	return s.dummyHash
}
