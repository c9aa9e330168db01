package memory

import (
	"context"
	"sync"
	"time"

	"github.com/veridian-id/go-authn-backend/internal/domain"
	"github.com/veridian-id/go-authn-backend/internal/replayguard"
	"github.com/veridian-id/go-authn-backend/internal/storage"
)

// Store implements an in-memory storage
type Store struct {
	challenges    *ChallengeStore
	credentials   *CredentialStore
	recoveryCodes *RecoveryCodeStore
	attempts      *AttemptStore
}

// NewStore creates a new in-memory store
func NewStore() *Store {
	return &Store{
		challenges:    &ChallengeStore{data: make(map[string]*domain.Challenge)},
		credentials:   &CredentialStore{data: make(map[string]*domain.Credential)},
		recoveryCodes: &RecoveryCodeStore{data: make(map[string]*domain.RecoveryCode)},
		attempts:      &AttemptStore{},
	}
}

func (s *Store) Challenges() storage.ChallengeStore        { return s.challenges }
func (s *Store) Credentials() storage.CredentialStore      { return s.credentials }
func (s *Store) RecoveryCodes() storage.RecoveryCodeStore  { return s.recoveryCodes }
func (s *Store) Attempts() storage.AttemptStore            { return s.attempts }
func (s *Store) Close() error                              { return nil }
func (s *Store) Ping(ctx context.Context) error            { return nil }

// ChallengeStore implements in-memory challenge storage
type ChallengeStore struct {
	mu   sync.Mutex
	data map[string]*domain.Challenge
}

func (s *ChallengeStore) Create(ctx context.Context, challenge *domain.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[challenge.ID]; exists {
		return storage.ErrAlreadyExists
	}

	if challenge.CreatedAt.IsZero() {
		challenge.CreatedAt = time.Now()
	}
	cp := *challenge
	s.data[challenge.ID] = &cp
	return nil
}

func (s *ChallengeStore) LatestUnused(ctx context.Context, purpose domain.ChallengePurpose, userID string) (*domain.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *domain.Challenge
	for _, ch := range s.data {
		if ch.Used || ch.Purpose != purpose || ch.UserID != userID {
			continue
		}
		if latest == nil || ch.CreatedAt.After(latest.CreatedAt) {
			latest = ch
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *ChallengeStore) MarkUsed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	if ch.Used {
		return storage.ErrConflict
	}
	ch.Used = true
	return nil
}

func (s *ChallengeStore) DeleteExpired(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for id, ch := range s.data {
		if now.After(ch.ExpiresAt) {
			delete(s.data, id)
		}
	}
	return nil
}

// CredentialStore implements in-memory credential storage.
// Keyed by authenticator credential ID, which gives the system-wide
// uniqueness invariant for free.
type CredentialStore struct {
	mu   sync.Mutex
	data map[string]*domain.Credential
}

func (s *CredentialStore) Create(ctx context.Context, credential *domain.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[credential.CredentialID]; exists {
		return storage.ErrAlreadyExists
	}

	if credential.CreatedAt.IsZero() {
		credential.CreatedAt = time.Now()
	}
	cp := *credential
	s.data[credential.CredentialID] = &cp
	return nil
}

func (s *CredentialStore) GetByCredentialID(ctx context.Context, credentialID string) (*domain.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, exists := s.data[credentialID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	cp := *cred
	return &cp, nil
}

func (s *CredentialStore) GetAllByUser(ctx context.Context, userID string) ([]*domain.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	creds := make([]*domain.Credential, 0)
	for _, cred := range s.data {
		if cred.UserID == userID {
			cp := *cred
			creds = append(creds, &cp)
		}
	}
	return creds, nil
}

func (s *CredentialStore) UpdateCounter(ctx context.Context, credentialID string, newCounter uint32) (*domain.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, exists := s.data[credentialID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	if !replayguard.Valid(newCounter, cred.Counter) {
		return nil, storage.ErrConflict
	}

	now := time.Now()
	cred.Counter = newCounter
	cred.LastUsedAt = &now
	cp := *cred
	return &cp, nil
}

func (s *CredentialStore) Delete(ctx context.Context, userID, credentialID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, exists := s.data[credentialID]
	if !exists || cred.UserID != userID {
		return storage.ErrNotFound
	}
	delete(s.data, credentialID)
	return nil
}

// RecoveryCodeStore implements in-memory recovery code storage
type RecoveryCodeStore struct {
	mu   sync.Mutex
	data map[string]*domain.RecoveryCode
}

func (s *RecoveryCodeStore) CreateBatch(ctx context.Context, userID string, codes []*domain.RecoveryCode, invalidateExisting bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if invalidateExisting {
		now := time.Now()
		for _, code := range s.data {
			if code.UserID == userID && !code.Used {
				code.Used = true
				code.UsedAt = &now
			}
		}
	}

	for _, code := range codes {
		if code.CreatedAt.IsZero() {
			code.CreatedAt = time.Now()
		}
		cp := *code
		s.data[code.ID] = &cp
	}
	return nil
}

func (s *RecoveryCodeStore) GetUnusedByUser(ctx context.Context, userID string) ([]*domain.RecoveryCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	codes := make([]*domain.RecoveryCode, 0)
	for _, code := range s.data {
		if code.UserID == userID && !code.Used {
			cp := *code
			codes = append(codes, &cp)
		}
	}
	return codes, nil
}

func (s *RecoveryCodeStore) MarkUsed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	code, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	if code.Used {
		return storage.ErrConflict
	}
	now := time.Now()
	code.Used = true
	code.UsedAt = &now
	return nil
}

func (s *RecoveryCodeStore) CountUnused(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, code := range s.data {
		if code.UserID == userID && !code.Used {
			count++
		}
	}
	return count, nil
}

// AttemptStore implements in-memory audit storage (append-only)
type AttemptStore struct {
	mu   sync.Mutex
	data []*domain.AuthAttempt
}

func (s *AttemptStore) Create(ctx context.Context, attempt *domain.AuthAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now()
	}
	cp := *attempt
	s.data = append(s.data, &cp)
	return nil
}

// All returns a snapshot of recorded attempts, oldest first.
func (s *AttemptStore) All() []*domain.AuthAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.AuthAttempt, len(s.data))
	copy(out, s.data)
	return out
}
