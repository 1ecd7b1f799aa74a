package authkit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// Register creates a new identity. The password is hashed before the
// uniqueness check runs, so the duration of a conflict response does
// not differ from a success. No tokens are issued; when verification is
// required the account stays disabled until VerifyEmail.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if err := e.checkPasswordPolicy(req.Password); err != nil {
		return nil, err
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: hash password: %v", ErrDependencyUnavailable, err)
	}

	tenantID := tenantIDFromContext(ctx)
	verificationRequired := e.config.Register.RequireVerification

	identity := &Identity{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Roles:        append([]string(nil), e.config.Register.DefaultRoles...),
		Enabled:      !verificationRequired,
		CreatedAt:    time.Now(),
	}

	if err := e.identities.CreateIdentity(ctx, tenantID, identity); err != nil {
		if errors.Is(err, ErrConflict) {
			e.metrics.Inc(MetricRegisterConflict)
			return nil, ErrConflict
		}
		return nil, e.storeFailure(err)
	}

	if verificationRequired {
		e.sendVerificationProof(ctx, tenantID, identity)
	}

	e.metrics.Inc(MetricRegisterSuccess)

	return &RegisterResult{
		IdentityID:           identity.ID,
		VerificationRequired: verificationRequired,
	}, nil
}

// ResendVerificationEmail re-issues the verification proof. Like the
// forgot-password flow it reports success for unknown and already
// verified addresses alike.
func (e *Engine) ResendVerificationEmail(ctx context.Context, email string) error {
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
	if identity.Enabled {
		return nil
	}

	e.sendVerificationProof(ctx, tenantID, identity)
	return nil
}

// sendVerificationProof mints a verification proof and queues the mail.
// Failures are logged, not surfaced: registration has already committed
// and the proof can be re-requested.
func (e *Engine) sendVerificationProof(ctx context.Context, tenantID string, identity *Identity) {
	proofToken, err := e.proofs.Issue(ctx, proofPurposeEmailVerify, tenantID, identity.ID)
	if err != nil {
		log.Printf("authkit: issue verification proof failed: %v", err)
		return
	}

	e.mail.Emit(MailMessage{
		To:       identity.Email,
		Kind:     MailVerifyEmail,
		TenantID: tenantID,
		Token:    proofToken,
	})
}
