package authkit

import (
	"context"
	"time"
)

// Identity is the stored account record the engine operates on. The
// backing storage belongs to the host application; the engine only
// touches it through IdentityStore.
type Identity struct {
	ID           string
	Email        string // stored lower-cased, unique per tenant
	PasswordHash string // PHC string; empty for federated-only accounts
	FirstName    string
	LastName     string
	Roles        []string
	Enabled      bool
	// TwoFactorEnabled gates password and federated logins behind an
	// emailed one-time code challenge.
	TwoFactorEnabled bool
	CreatedAt        time.Time
}

// IdentityStore is the credential store adapter supplied by the host
// application.
//
// Lookup methods return ErrIdentityNotFound when no record matches.
// CreateIdentity and SaveFederatedLink return ErrConflict when a
// uniqueness constraint is violated. Any other error is treated as a
// transient backend failure.
type IdentityStore interface {
	CreateIdentity(ctx context.Context, tenantID string, identity *Identity) error
	FindByEmail(ctx context.Context, tenantID, email string) (*Identity, error)
	FindByID(ctx context.Context, tenantID, id string) (*Identity, error)
	UpdatePasswordHash(ctx context.Context, tenantID, id, passwordHash string) error
	SetEnabled(ctx context.Context, tenantID, id string, enabled bool) error

	// FindFederatedLink resolves a (provider, subject) pair to the linked
	// identity id.
	FindFederatedLink(ctx context.Context, tenantID, provider, subject string) (string, error)
	SaveFederatedLink(ctx context.Context, tenantID, provider, subject, identityID string) error
}

// RegisterRequest carries the fields accepted at registration.
type RegisterRequest struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// RegisterResult reports the outcome of a registration. No tokens are
// issued until the email is verified.
type RegisterResult struct {
	IdentityID           string
	VerificationRequired bool
}

// LoginResult is returned by Login, VerifyTwoFactor, Refresh and
// FederatedLogin. When SecondFactorRequired is set the token fields are
// empty and the caller must complete VerifyTwoFactor with ChallengeRef.
type LoginResult struct {
	AccessToken          string
	RefreshToken         string
	SecondFactorRequired bool
	ChallengeRef         string
}

// AuthResult is the verified identity of an access token, handed to
// transport-layer guards.
type AuthResult struct {
	IdentityID string
	TenantID   string
	SessionID  string
	Roles      []string
}

// FederatedAssertion is the already-verified outcome of an external
// provider exchange. The engine never talks to the provider itself.
type FederatedAssertion struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	FirstName     string
	LastName      string
}
