package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridian-id/go-authn-backend/internal/domain"
	"github.com/veridian-id/go-authn-backend/internal/storage"
)

func newChallenge(id, userID string, purpose domain.ChallengePurpose) *domain.Challenge {
	return &domain.Challenge{
		ID:        id,
		UserID:    userID,
		Purpose:   purpose,
		Value:     "nonce-" + id,
		ExpiresAt: time.Now().Add(5 * time.Minute),
		CreatedAt: time.Now(),
	}
}

func TestChallengeStore(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	t.Run("create and fetch latest unused", func(t *testing.T) {
		require.NoError(t, store.Challenges().Create(ctx, newChallenge("c1", "alice", domain.PurposeRegistration)))

		got, err := store.Challenges().LatestUnused(ctx, domain.PurposeRegistration, "alice")
		require.NoError(t, err)
		assert.Equal(t, "c1", got.ID)
	})

	t.Run("duplicate id rejected", func(t *testing.T) {
		err := store.Challenges().Create(ctx, newChallenge("c1", "alice", domain.PurposeRegistration))
		assert.ErrorIs(t, err, storage.ErrAlreadyExists)
	})

	t.Run("mark used is conditional", func(t *testing.T) {
		require.NoError(t, store.Challenges().MarkUsed(ctx, "c1"))
		assert.ErrorIs(t, store.Challenges().MarkUsed(ctx, "c1"), storage.ErrConflict)
		assert.ErrorIs(t, store.Challenges().MarkUsed(ctx, "missing"), storage.ErrNotFound)
	})

	t.Run("used challenges are not served", func(t *testing.T) {
		_, err := store.Challenges().LatestUnused(ctx, domain.PurposeRegistration, "alice")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("delete expired", func(t *testing.T) {
		expired := newChallenge("c2", "bob", domain.PurposeAuthentication)
		expired.ExpiresAt = time.Now().Add(-time.Minute)
		require.NoError(t, store.Challenges().Create(ctx, expired))

		require.NoError(t, store.Challenges().DeleteExpired(ctx))

		_, err := store.Challenges().LatestUnused(ctx, domain.PurposeAuthentication, "bob")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestChallengeMarkUsedConcurrent(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	require.NoError(t, store.Challenges().Create(ctx, newChallenge("c1", "alice", domain.PurposeAuthentication)))

	const workers = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.Challenges().MarkUsed(ctx, "c1"); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	assert.Len(t, wins, 1, "exactly one concurrent burn must win")
}

func newCredential(credentialID, userID string, counter uint32) *domain.Credential {
	return &domain.Credential{
		ID:           "id-" + credentialID,
		UserID:       userID,
		CredentialID: credentialID,
		PublicKey:    []byte("key"),
		Counter:      counter,
		CreatedAt:    time.Now(),
	}
}

func TestCredentialStore(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	require.NoError(t, store.Credentials().Create(ctx, newCredential("cred-1", "alice", 0)))

	t.Run("credential id is unique across users", func(t *testing.T) {
		err := store.Credentials().Create(ctx, newCredential("cred-1", "bob", 0))
		assert.ErrorIs(t, err, storage.ErrAlreadyExists)
	})

	t.Run("get by credential id", func(t *testing.T) {
		got, err := store.Credentials().GetByCredentialID(ctx, "cred-1")
		require.NoError(t, err)
		assert.Equal(t, "alice", got.UserID)

		_, err = store.Credentials().GetByCredentialID(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("get all by user", func(t *testing.T) {
		require.NoError(t, store.Credentials().Create(ctx, newCredential("cred-2", "alice", 0)))

		creds, err := store.Credentials().GetAllByUser(ctx, "alice")
		require.NoError(t, err)
		assert.Len(t, creds, 2)

		none, err := store.Credentials().GetAllByUser(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("delete is scoped to owner", func(t *testing.T) {
		assert.ErrorIs(t, store.Credentials().Delete(ctx, "bob", "cred-2"), storage.ErrNotFound)
		require.NoError(t, store.Credentials().Delete(ctx, "alice", "cred-2"))
		_, err := store.Credentials().GetByCredentialID(ctx, "cred-2")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestUpdateCounter(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	require.NoError(t, store.Credentials().Create(ctx, newCredential("cred-1", "alice", 0)))

	t.Run("zero to zero allowed", func(t *testing.T) {
		updated, err := store.Credentials().UpdateCounter(ctx, "cred-1", 0)
		require.NoError(t, err)
		assert.Equal(t, uint32(0), updated.Counter)
		assert.NotNil(t, updated.LastUsedAt)
	})

	t.Run("strictly increasing", func(t *testing.T) {
		updated, err := store.Credentials().UpdateCounter(ctx, "cred-1", 5)
		require.NoError(t, err)
		assert.Equal(t, uint32(5), updated.Counter)

		_, err = store.Credentials().UpdateCounter(ctx, "cred-1", 5)
		assert.ErrorIs(t, err, storage.ErrConflict)

		_, err = store.Credentials().UpdateCounter(ctx, "cred-1", 3)
		assert.ErrorIs(t, err, storage.ErrConflict)

		// Once nonzero, a zero report is a regression
		_, err = store.Credentials().UpdateCounter(ctx, "cred-1", 0)
		assert.ErrorIs(t, err, storage.ErrConflict)
	})

	t.Run("unknown credential", func(t *testing.T) {
		_, err := store.Credentials().UpdateCounter(ctx, "missing", 1)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestUpdateCounterConcurrent(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	require.NoError(t, store.Credentials().Create(ctx, newCredential("cred-1", "alice", 0)))

	// All workers carry the same counter value; the conditional write
	// admits exactly one
	const workers = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Credentials().UpdateCounter(ctx, "cred-1", 7); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	assert.Len(t, wins, 1, "exactly one concurrent counter update must win")
}

func newRecoveryCode(id, userID string) *domain.RecoveryCode {
	return &domain.RecoveryCode{
		ID:        id,
		UserID:    userID,
		CodeHash:  "hash-" + id,
		CreatedAt: time.Now(),
	}
}

func TestRecoveryCodeStore(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	batch := []*domain.RecoveryCode{
		newRecoveryCode("r1", "alice"),
		newRecoveryCode("r2", "alice"),
	}
	require.NoError(t, store.RecoveryCodes().CreateBatch(ctx, "alice", batch, false))

	t.Run("unused codes and count", func(t *testing.T) {
		codes, err := store.RecoveryCodes().GetUnusedByUser(ctx, "alice")
		require.NoError(t, err)
		assert.Len(t, codes, 2)

		count, err := store.RecoveryCodes().CountUnused(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("mark used is conditional", func(t *testing.T) {
		require.NoError(t, store.RecoveryCodes().MarkUsed(ctx, "r1"))
		assert.ErrorIs(t, store.RecoveryCodes().MarkUsed(ctx, "r1"), storage.ErrConflict)

		count, err := store.RecoveryCodes().CountUnused(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("regeneration invalidates previous batch", func(t *testing.T) {
		replacement := []*domain.RecoveryCode{newRecoveryCode("r3", "alice")}
		require.NoError(t, store.RecoveryCodes().CreateBatch(ctx, "alice", replacement, true))

		codes, err := store.RecoveryCodes().GetUnusedByUser(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, codes, 1)
		assert.Equal(t, "r3", codes[0].ID)
	})
}

func TestAttemptStore(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	require.NoError(t, store.Attempts().Create(ctx, &domain.AuthAttempt{
		ID:     "a1",
		UserID: "alice",
		Method: domain.MethodAuthentication,
	}))
	require.NoError(t, store.Attempts().Create(ctx, &domain.AuthAttempt{
		ID:          "a2",
		UserID:      "alice",
		Method:      domain.MethodRecovery,
		Success:     false,
		ErrorReason: "recovery_code_invalid",
	}))

	attempts := store.Attempts().(*AttemptStore).All()
	require.Len(t, attempts, 2)
	assert.Equal(t, "a1", attempts[0].ID)
	assert.Equal(t, "recovery_code_invalid", attempts[1].ErrorReason)
	assert.False(t, attempts[1].CreatedAt.IsZero())
}
