package authkit

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// VerifyEmail redeems a verification proof token and enables the
// account. The proof is single-use; a second redemption of the same
// token fails with ErrProofInvalid.
func (e *Engine) VerifyEmail(ctx context.Context, proofToken string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if proofToken == "" {
		return fmt.Errorf("%w: empty proof token", ErrInvalidInput)
	}

	tenantID := tenantIDFromContext(ctx)

	identityID, err := e.proofs.Redeem(ctx, proofPurposeEmailVerify, tenantID, proofToken)
	if err != nil {
		e.metrics.Inc(MetricEmailVerifyFailure)
		return proofError(err)
	}

	if err := e.identities.SetEnabled(ctx, tenantID, identityID, true); err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			// The proof outlived its account.
			log.Printf("authkit: verification proof resolved to missing identity")
			return ErrProofInvalid
		}
		return e.storeFailure(err)
	}

	e.metrics.Inc(MetricEmailVerifySuccess)
	return nil
}

func proofError(err error) error {
	switch {
	case errors.Is(err, errOneTimeExpired):
		return ErrProofExpired
	case errors.Is(err, errOneTimeUnavailable):
		return fmt.Errorf("%w: proof store", ErrDependencyUnavailable)
	default:
		return ErrProofInvalid
	}
}
