package authkit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/neomarket/authkit/internal"
)

// proofPurpose selects which lifecycle action a proof token authorizes.
// Each purpose has its own key namespace, so a token minted for one can
// never address, let alone consume, a record of the other.
type proofPurpose int

const (
	proofPurposeEmailVerify proofPurpose = iota
	proofPurposePasswordReset
)

func (p proofPurpose) keyPrefix() string {
	if p == proofPurposePasswordReset {
		return "pr"
	}
	return "pv"
}

// proofStore holds out-of-band proof records. The opaque token handed to
// the account holder encodes the record reference plus a secret; only
// the secret's hash is stored.
type proofStore struct {
	verify *singleUseStore
	reset  *singleUseStore

	verifyTTL time.Duration
	resetTTL  time.Duration
}

func newProofStore(client *redis.Client, cfg ProofConfig) *proofStore {
	return &proofStore{
		verify:    newSingleUseStore(client, proofPurposeEmailVerify.keyPrefix(), cfg.MaxAttempts),
		reset:     newSingleUseStore(client, proofPurposePasswordReset.keyPrefix(), cfg.MaxAttempts),
		verifyTTL: cfg.VerifyTTL,
		resetTTL:  cfg.ResetTTL,
	}
}

func (s *proofStore) storeFor(purpose proofPurpose) (*singleUseStore, time.Duration) {
	if purpose == proofPurposePasswordReset {
		return s.reset, s.resetTTL
	}
	return s.verify, s.verifyTTL
}

// Issue mints a proof record for the identity and returns the opaque
// token to embed in the outbound email. The raw secret is never stored.
func (s *proofStore) Issue(ctx context.Context, purpose proofPurpose, tenantID, identityID string) (string, error) {
	ref, err := internal.NewRef()
	if err != nil {
		return "", err
	}
	secret, err := internal.NewSecret()
	if err != nil {
		return "", err
	}

	store, ttl := s.storeFor(purpose)
	record := &singleUseRecord{
		SubjectID:  identityID,
		SecretHash: internal.HashSecret(secret),
		ExpiresAt:  time.Now().Add(ttl).UnixMilli(),
	}

	if err := store.Save(ctx, tenantID, ref.String(), record, ttl); err != nil {
		return "", err
	}

	return internal.EncodeProofToken(ref, secret), nil
}

// Redeem consumes the proof token for the given purpose and returns the
// identity id it was minted for.
func (s *proofStore) Redeem(ctx context.Context, purpose proofPurpose, tenantID, token string) (string, error) {
	ref, secret, err := internal.DecodeProofToken(token)
	if err != nil {
		return "", errOneTimeNotFound
	}

	store, _ := s.storeFor(purpose)
	record, err := store.Consume(ctx, tenantID, ref.String(), internal.HashSecret(secret))
	if err != nil {
		return "", err
	}

	return record.SubjectID, nil
}
