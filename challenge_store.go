package authkit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/neomarket/authkit/internal"
)

const challengeKeyPrefix = "ch"

// challengeStore holds pending second-factor login challenges. Records
// are keyed by a random reference so the challenge handle leaks nothing
// about the identity it belongs to.
type challengeStore struct {
	store *singleUseStore
	ttl   time.Duration
}

func newChallengeStore(client *redis.Client, cfg ChallengeConfig) *challengeStore {
	return &challengeStore{
		store: newSingleUseStore(client, challengeKeyPrefix, cfg.MaxAttempts),
		ttl:   cfg.TTL,
	}
}

// Create stores a challenge for the identity and returns its reference.
func (s *challengeStore) Create(ctx context.Context, tenantID, identityID, code string) (string, error) {
	ref, err := internal.NewRef()
	if err != nil {
		return "", err
	}

	record := &singleUseRecord{
		SubjectID:  identityID,
		SecretHash: internal.HashString(code),
		ExpiresAt:  time.Now().Add(s.ttl).UnixMilli(),
	}

	if err := s.store.Save(ctx, tenantID, ref.String(), record, s.ttl); err != nil {
		return "", err
	}

	return ref.String(), nil
}

// Redeem consumes the challenge if the code matches, returning the
// identity id it was created for.
func (s *challengeStore) Redeem(ctx context.Context, tenantID, ref, code string) (string, error) {
	if _, err := internal.ParseRef(ref); err != nil {
		return "", errOneTimeNotFound
	}

	record, err := s.store.Consume(ctx, tenantID, ref, internal.HashString(code))
	if err != nil {
		return "", err
	}

	return record.SubjectID, nil
}
