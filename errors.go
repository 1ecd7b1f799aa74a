package authkit

import "errors"

var (
	// ErrInvalidInput reports a structurally invalid request, such as a
	// malformed email address or a password below the policy minimum.
	ErrInvalidInput = errors.New("invalid input")
	// ErrConflict reports a uniqueness violation, such as registering an
	// email that already has an account.
	ErrConflict = errors.New("conflict")
	// ErrInvalidCredentials is returned for unknown email and wrong
	// password alike, so callers cannot probe which accounts exist.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountDisabled reports a login against a disabled or not yet
	// verified account. Only returned after the credentials checked out.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrChallengeExpired reports a second-factor challenge past its TTL.
	ErrChallengeExpired = errors.New("challenge expired")
	// ErrChallengeInvalid reports an unknown challenge reference, a wrong
	// code, or a challenge consumed by too many failed attempts.
	ErrChallengeInvalid = errors.New("challenge invalid")
	// ErrTokenExpired reports a well-formed signed token past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid reports any other token verification failure,
	// including refresh token reuse after rotation.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrProofExpired reports an out-of-band proof token past its TTL.
	ErrProofExpired = errors.New("proof expired")
	// ErrProofInvalid reports an unknown, already consumed, or
	// wrong-purpose proof token.
	ErrProofInvalid = errors.New("proof invalid")
	// ErrIdentityNotFound is returned by IdentityStore implementations
	// when no record matches. The engine never surfaces it directly.
	ErrIdentityNotFound = errors.New("identity not found")
	// ErrDependencyUnavailable reports a transient collaborator failure.
	// Retryable.
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	// ErrPermissionDenied reports a role check failure.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrEngineNotReady reports use of an Engine that was not built
	// through the Builder.
	ErrEngineNotReady = errors.New("engine not initialized")
)
