package authkit

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/neomarket/authkit/internal"
	"github.com/neomarket/authkit/password"
	"github.com/neomarket/authkit/session"
	"github.com/neomarket/authkit/token"
)

// Engine orchestrates the authentication flows. Construct it through
// the Builder; a zero Engine returns ErrEngineNotReady from every
// operation.
type Engine struct {
	config     Config
	identities IdentityStore
	hasher     *password.Hasher
	tokens     *token.Manager
	sessions   *session.Store
	challenges *challengeStore
	proofs     *proofStore
	mail       *mailDispatcher
	metrics    *Metrics

	// dummyHash absorbs a verification round for unknown emails so the
	// timing of a login failure does not reveal whether the account
	// exists.
	dummyHash string
}

// Login authenticates an email and password. When the identity has the
// second factor enabled, the result carries a challenge reference
// instead of tokens and the code is emailed out of band.
//
// Unknown email and wrong password return the identical
// ErrInvalidCredentials.
func (e *Engine) Login(ctx context.Context, email, pass string) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if pass == "" {
		return nil, fmt.Errorf("%w: empty password", ErrInvalidInput)
	}

	tenantID := tenantIDFromContext(ctx)

	identity, err := e.identities.FindByEmail(ctx, tenantID, email)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			e.burnPasswordCheck(pass)
			e.metrics.Inc(MetricLoginFailure)
			return nil, ErrInvalidCredentials
		}
		return nil, e.storeFailure(err)
	}

	if identity.PasswordHash == "" {
		// Federated-only account; there is no password to match.
		e.burnPasswordCheck(pass)
		e.metrics.Inc(MetricLoginFailure)
		return nil, ErrInvalidCredentials
	}

	ok, err := e.hasher.Verify(pass, identity.PasswordHash)
	if err != nil || !ok {
		e.metrics.Inc(MetricLoginFailure)
		return nil, ErrInvalidCredentials
	}

	if !identity.Enabled {
		e.metrics.Inc(MetricLoginFailure)
		return nil, ErrAccountDisabled
	}

	e.maybeRehash(ctx, tenantID, identity, pass)

	if identity.TwoFactorEnabled {
		return e.beginTwoFactor(ctx, tenantID, identity)
	}

	e.metrics.Inc(MetricLoginSuccess)
	return e.establishSession(ctx, tenantID, identity)
}

// Refresh rotates a refresh token: the presented token is invalidated
// and a fresh access/refresh pair bound to the same session is issued.
// The session lifetime slides forward with each rotation so the new
// refresh token and its session expire together. Presenting a token
// that was already rotated destroys the whole session and returns
// ErrTokenInvalid.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	claims, err := e.tokens.ParseRefresh(refreshToken)
	if err != nil {
		e.metrics.Inc(MetricRefreshFailure)
		return nil, tokenError(err)
	}

	nextMarker := uuid.NewString()

	sess, err := e.sessions.RotateRefreshHash(
		ctx,
		claims.TID,
		claims.SID,
		hashMarker(claims.ID),
		hashMarker(nextMarker),
		e.config.Token.RefreshTTL,
	)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrHashMismatch):
			e.metrics.Inc(MetricRefreshReuseDetected)
			e.metrics.Inc(MetricSessionInvalidated)
			if ip := clientIPFromContext(ctx); ip != "" {
				log.Printf("authkit: refresh token reuse detected from %s", ip)
			} else {
				log.Printf("authkit: refresh token reuse detected")
			}
			return nil, ErrTokenInvalid
		case errors.Is(err, session.ErrNotFound):
			e.metrics.Inc(MetricRefreshFailure)
			return nil, ErrTokenInvalid
		case errors.Is(err, session.ErrExpired):
			e.metrics.Inc(MetricRefreshFailure)
			return nil, ErrTokenExpired
		default:
			return nil, fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
		}
	}

	access, err := e.tokens.IssueAccess(sess.UserID, claims.TID, claims.SID, sess.Roles)
	if err != nil {
		return nil, fmt.Errorf("%w: sign access token: %v", ErrDependencyUnavailable, err)
	}
	refresh, err := e.tokens.IssueRefresh(sess.UserID, claims.TID, claims.SID, nextMarker)
	if err != nil {
		return nil, fmt.Errorf("%w: sign refresh token: %v", ErrDependencyUnavailable, err)
	}

	e.metrics.Inc(MetricRefreshSuccess)

	return &LoginResult{AccessToken: access, RefreshToken: refresh}, nil
}

// ValidateAccess verifies an access token and returns its identity for
// transport-layer guards. Purely local; no store round trip.
func (e *Engine) ValidateAccess(_ context.Context, accessToken string) (*AuthResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	start := time.Now()

	claims, err := e.tokens.ParseAccess(accessToken)
	if err != nil {
		return nil, tokenError(err)
	}

	e.metrics.Observe(MetricValidateLatency, time.Since(start))

	return &AuthResult{
		IdentityID: claims.UID,
		TenantID:   claims.TID,
		SessionID:  claims.SID,
		Roles:      claims.Roles,
	}, nil
}

// Logout destroys the session behind a valid access token. The access
// token itself stays valid until expiry; only refreshing is cut off.
func (e *Engine) Logout(ctx context.Context, accessToken string) error {
	if err := e.ready(); err != nil {
		return err
	}

	claims, err := e.tokens.ParseAccess(accessToken)
	if err != nil {
		return tokenError(err)
	}

	if err := e.sessions.Delete(ctx, claims.TID, claims.SID); err != nil {
		return fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	}

	e.metrics.Inc(MetricSessionInvalidated)
	return nil
}

// LogoutAll destroys every session of the token's identity on its
// tenant.
func (e *Engine) LogoutAll(ctx context.Context, accessToken string) error {
	if err := e.ready(); err != nil {
		return err
	}

	claims, err := e.tokens.ParseAccess(accessToken)
	if err != nil {
		return tokenError(err)
	}

	if err := e.sessions.DeleteAllForUser(ctx, claims.TID, claims.UID); err != nil {
		return fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	}

	e.metrics.Inc(MetricSessionInvalidated)
	return nil
}

// ChangePassword replaces the password of an authenticated identity.
// The current password must verify, the new one must pass policy and
// differ from the old, and every session is destroyed afterwards so
// stolen refresh tokens die with the old password.
func (e *Engine) ChangePassword(ctx context.Context, accessToken, oldPassword, newPassword string) error {
	if err := e.ready(); err != nil {
		return err
	}

	claims, err := e.tokens.ParseAccess(accessToken)
	if err != nil {
		return tokenError(err)
	}

	if err := e.checkPasswordPolicy(newPassword); err != nil {
		return err
	}

	identity, err := e.identities.FindByID(ctx, claims.TID, claims.UID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return ErrInvalidCredentials
		}
		return e.storeFailure(err)
	}
	if identity.PasswordHash == "" {
		return ErrInvalidCredentials
	}

	ok, err := e.hasher.Verify(oldPassword, identity.PasswordHash)
	if err != nil || !ok {
		return ErrInvalidCredentials
	}

	if oldPassword == newPassword {
		return fmt.Errorf("%w: new password must differ from the current one", ErrInvalidInput)
	}

	newHash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("%w: hash password: %v", ErrDependencyUnavailable, err)
	}

	if err := e.identities.UpdatePasswordHash(ctx, claims.TID, identity.ID, newHash); err != nil {
		return e.storeFailure(err)
	}

	if err := e.sessions.DeleteAllForUser(ctx, claims.TID, identity.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	}

	e.metrics.Inc(MetricPasswordChanged)
	e.metrics.Inc(MetricSessionInvalidated)
	return nil
}

// RotateSigningKey swaps the active token signing key. Tokens issued
// under earlier keys keep verifying until RetireVerifyKey is called for
// their kid.
func (e *Engine) RotateSigningKey(kid string, privateKey, publicKey []byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.tokens.Rotate(kid, privateKey, publicKey)
}

// RetireVerifyKey drops a retired signing key from the verify set.
func (e *Engine) RetireVerifyKey(kid string) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.tokens.RetireVerifyKey(kid)
}

// MetricsSnapshot exposes the engine counters for exporters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}, Histograms: map[MetricID][]uint64{}}
	}
	return e.metrics.Snapshot()
}

// MailDropped reports how many lifecycle emails the dispatcher
// discarded, on a full buffer or during shutdown.
func (e *Engine) MailDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.mail.Dropped()
}

// Close drains and stops the mail dispatcher. The engine must not be
// used afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.mail.Close()
}

func (e *Engine) ready() error {
	if e == nil || e.identities == nil || e.tokens == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	return nil
}

// establishSession creates a refresh session and signs the token pair.
func (e *Engine) establishSession(ctx context.Context, tenantID string, identity *Identity) (*LoginResult, error) {
	ref, err := internal.NewRef()
	if err != nil {
		return nil, fmt.Errorf("%w: generate session id: %v", ErrDependencyUnavailable, err)
	}
	sid := ref.String()
	marker := uuid.NewString()

	now := time.Now()
	sess := &session.Session{
		SessionID:   sid,
		UserID:      identity.ID,
		TenantID:    tenantID,
		Roles:       identity.Roles,
		RefreshHash: hashMarker(marker),
		IssuedAt:    now.Unix(),
		ExpiresAt:   now.Add(e.config.Token.RefreshTTL).Unix(),
	}

	if err := e.sessions.Save(ctx, sess, e.config.Token.RefreshTTL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	}

	access, err := e.tokens.IssueAccess(identity.ID, tenantID, sid, identity.Roles)
	if err != nil {
		return nil, fmt.Errorf("%w: sign access token: %v", ErrDependencyUnavailable, err)
	}
	refresh, err := e.tokens.IssueRefresh(identity.ID, tenantID, sid, marker)
	if err != nil {
		return nil, fmt.Errorf("%w: sign refresh token: %v", ErrDependencyUnavailable, err)
	}

	e.metrics.Inc(MetricSessionCreated)

	return &LoginResult{AccessToken: access, RefreshToken: refresh}, nil
}

func (e *Engine) burnPasswordCheck(pass string) {
	if e.dummyHash == "" {
		return
	}
	_, _ = e.hasher.Verify(pass, e.dummyHash)
}

// maybeRehash upgrades a stored hash whose parameters fell behind the
// configured cost. Best effort; login succeeds either way.
func (e *Engine) maybeRehash(ctx context.Context, tenantID string, identity *Identity, pass string) {
	upgrade, err := e.hasher.NeedsUpgrade(identity.PasswordHash)
	if err != nil || !upgrade {
		return
	}

	newHash, err := e.hasher.Hash(pass)
	if err != nil {
		return
	}
	if err := e.identities.UpdatePasswordHash(ctx, tenantID, identity.ID, newHash); err != nil {
		log.Printf("authkit: opportunistic rehash failed: %v", err)
	}
}

func (e *Engine) checkPasswordPolicy(pass string) error {
	if len(pass) < e.config.Password.MinLength {
		return fmt.Errorf("%w: password must be at least %d bytes", ErrInvalidInput, e.config.Password.MinLength)
	}
	return nil
}

func (e *Engine) storeFailure(err error) error {
	return fmt.Errorf("%w: identity store: %v", ErrDependencyUnavailable, err)
}

func tokenError(err error) error {
	if errors.Is(err, token.ErrExpired) {
		return ErrTokenExpired
	}
	return ErrTokenInvalid
}

func hashMarker(marker string) string {
	sum := internal.HashString(marker)
	return hex.EncodeToString(sum[:])
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", fmt.Errorf("%w: empty email", ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", fmt.Errorf("%w: malformed email", ErrInvalidInput)
	}
	return email, nil
}
