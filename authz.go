package authkit

// HasRole reports whether the validated token carries the role.
func (a *AuthResult) HasRole(role string) bool {
	if a == nil {
		return false
	}
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// RequireAnyRole is a pure authorization predicate for transport-layer
// guards: it returns ErrPermissionDenied unless the validated token
// carries at least one of the given roles. Enforcement placement stays
// with the caller; the engine only answers the question.
func RequireAnyRole(a *AuthResult, roles ...string) error {
	if a == nil {
		return ErrPermissionDenied
	}
	for _, role := range roles {
		if a.HasRole(role) {
			return nil
		}
	}
	return ErrPermissionDenied
}
