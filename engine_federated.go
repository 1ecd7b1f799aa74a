package authkit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FederatedLogin signs in through an external provider assertion that
// the transport layer has already verified. Resolution order:
//
//  1. An existing (provider, subject) link wins.
//  2. Otherwise, a verified assertion email matching an existing
//     account creates the link on that account.
//  3. Otherwise a new identity is created with the default roles,
//     enabled immediately because the provider vouched for the email.
//
// An unverified assertion email is never used for matching or creation;
// without an existing link it fails like a bad password would.
//
// Accounts with the second factor enabled still go through the
// challenge, federated or not.
func (e *Engine) FederatedLogin(ctx context.Context, assertion FederatedAssertion) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if assertion.Provider == "" || assertion.Subject == "" {
		return nil, fmt.Errorf("%w: missing provider or subject", ErrInvalidInput)
	}

	tenantID := tenantIDFromContext(ctx)

	identity, err := e.resolveFederated(ctx, tenantID, assertion)
	if err != nil {
		return nil, err
	}

	if !identity.Enabled {
		return nil, ErrAccountDisabled
	}

	e.metrics.Inc(MetricFederatedLogin)

	if identity.TwoFactorEnabled {
		return e.beginTwoFactor(ctx, tenantID, identity)
	}

	e.metrics.Inc(MetricLoginSuccess)
	return e.establishSession(ctx, tenantID, identity)
}

func (e *Engine) resolveFederated(ctx context.Context, tenantID string, assertion FederatedAssertion) (*Identity, error) {
	identityID, err := e.identities.FindFederatedLink(ctx, tenantID, assertion.Provider, assertion.Subject)
	if err == nil {
		identity, err := e.identities.FindByID(ctx, tenantID, identityID)
		if err != nil {
			if errors.Is(err, ErrIdentityNotFound) {
				// Dangling link; the account behind it is gone.
				return nil, ErrInvalidCredentials
			}
			return nil, e.storeFailure(err)
		}
		return identity, nil
	}
	if !errors.Is(err, ErrIdentityNotFound) {
		return nil, e.storeFailure(err)
	}

	// No link yet. Only a provider-verified email may match or create
	// an account.
	if !assertion.EmailVerified {
		return nil, ErrInvalidCredentials
	}

	email, err := normalizeEmail(assertion.Email)
	if err != nil {
		return nil, err
	}

	identity, err := e.identities.FindByEmail(ctx, tenantID, email)
	switch {
	case err == nil:
		// Existing password account; attach the provider to it.
	case errors.Is(err, ErrIdentityNotFound):
		identity = &Identity{
			ID:        uuid.NewString(),
			Email:     email,
			FirstName: assertion.FirstName,
			LastName:  assertion.LastName,
			Roles:     append([]string(nil), e.config.Register.DefaultRoles...),
			Enabled:   true,
			CreatedAt: time.Now(),
		}
		if err := e.identities.CreateIdentity(ctx, tenantID, identity); err != nil {
			if errors.Is(err, ErrConflict) {
				return nil, ErrConflict
			}
			return nil, e.storeFailure(err)
		}
		e.metrics.Inc(MetricRegisterSuccess)
	default:
		return nil, e.storeFailure(err)
	}

	if err := e.identities.SaveFederatedLink(ctx, tenantID, assertion.Provider, assertion.Subject, identity.ID); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, ErrConflict
		}
		return nil, e.storeFailure(err)
	}

	e.metrics.Inc(MetricFederatedLinkCreated)
	return identity, nil
}
