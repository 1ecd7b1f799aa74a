package authkit

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/neomarket/authkit/internal"
)

// beginTwoFactor parks a verified login behind an emailed one-time code
// and returns the challenge reference the caller must redeem. The
// reference is random and single-use; it never encodes the identity.
func (e *Engine) beginTwoFactor(ctx context.Context, tenantID string, identity *Identity) (*LoginResult, error) {
	code, err := internal.NewOTP(e.config.Challenge.CodeDigits)
	if err != nil {
		return nil, fmt.Errorf("%w: generate code: %v", ErrDependencyUnavailable, err)
	}

	ref, err := e.challenges.Create(ctx, tenantID, identity.ID, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	}

	e.mail.Emit(MailMessage{
		To:       identity.Email,
		Kind:     MailTwoFactorCode,
		TenantID: tenantID,
		Code:     code,
	})

	e.metrics.Inc(MetricChallengeIssued)

	return &LoginResult{
		SecondFactorRequired: true,
		ChallengeRef:         ref,
	}, nil
}

// VerifyTwoFactor redeems a pending second-factor challenge and
// completes the login. The challenge is consumed on success, on attempt
// exhaustion and on expiry; a consumed challenge can never be replayed.
func (e *Engine) VerifyTwoFactor(ctx context.Context, challengeRef, code string) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if challengeRef == "" || code == "" {
		return nil, fmt.Errorf("%w: missing challenge reference or code", ErrInvalidInput)
	}

	tenantID := tenantIDFromContext(ctx)

	identityID, err := e.challenges.Redeem(ctx, tenantID, challengeRef, code)
	if err != nil {
		e.metrics.Inc(MetricChallengeFailure)
		return nil, challengeError(err)
	}

	identity, err := e.identities.FindByID(ctx, tenantID, identityID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			// Account deleted between login and code entry. Fail closed.
			log.Printf("authkit: challenge resolved to missing identity")
			return nil, ErrChallengeInvalid
		}
		return nil, e.storeFailure(err)
	}
	if !identity.Enabled {
		return nil, ErrAccountDisabled
	}

	e.metrics.Inc(MetricChallengeSuccess)
	e.metrics.Inc(MetricLoginSuccess)

	return e.establishSession(ctx, tenantID, identity)
}

func challengeError(err error) error {
	switch {
	case errors.Is(err, errOneTimeExpired):
		return ErrChallengeExpired
	case errors.Is(err, errOneTimeUnavailable):
		return fmt.Errorf("%w: challenge store", ErrDependencyUnavailable)
	default:
		return ErrChallengeInvalid
	}
}
