package authkit

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// SendPasswordResetEmail starts the forgot-password flow. It reports
// success whether or not the email has an account, so the flow cannot
// be used to probe for registered addresses. The mail is dispatched
// asynchronously and never blocks the caller.
func (e *Engine) SendPasswordResetEmail(ctx context.Context, email string) error {
	if err := e.ready(); err != nil {
		return err
	}

	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}

	tenantID := tenantIDFromContext(ctx)

	identity, err := e.identities.FindByEmail(ctx, tenantID, email)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return nil
		}
		return e.storeFailure(err)
	}

	proofToken, err := e.proofs.Issue(ctx, proofPurposePasswordReset, tenantID, identity.ID)
	if err != nil {
		log.Printf("authkit: issue reset proof failed: %v", err)
		return nil
	}

	e.mail.Emit(MailMessage{
		To:       identity.Email,
		Kind:     MailPasswordReset,
		TenantID: tenantID,
		Token:    proofToken,
	})

	e.metrics.Inc(MetricResetRequested)
	return nil
}

// ResetPassword redeems a reset proof token, replaces the password hash
// and destroys every session of the identity, so refresh tokens minted
// before the reset stop working immediately.
func (e *Engine) ResetPassword(ctx context.Context, proofToken, newPassword string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if proofToken == "" {
		return fmt.Errorf("%w: empty proof token", ErrInvalidInput)
	}
	if err := e.checkPasswordPolicy(newPassword); err != nil {
		return err
	}

	tenantID := tenantIDFromContext(ctx)

	identityID, err := e.proofs.Redeem(ctx, proofPurposePasswordReset, tenantID, proofToken)
	if err != nil {
		e.metrics.Inc(MetricResetFailure)
		return proofError(err)
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("%w: hash password: %v", ErrDependencyUnavailable, err)
	}

	if err := e.identities.UpdatePasswordHash(ctx, tenantID, identityID, hash); err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return ErrProofInvalid
		}
		return e.storeFailure(err)
	}

	if err := e.sessions.DeleteAllForUser(ctx, tenantID, identityID); err != nil {
		return fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	}

	e.metrics.Inc(MetricResetSuccess)
	e.metrics.Inc(MetricSessionInvalidated)
	return nil
}
