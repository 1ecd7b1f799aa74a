// Package session persists refresh sessions in Redis.
//
// Each session is a hash keyed by (tenant, session id) holding the
// identity id, its roles and the SHA-256 of the current refresh rotation
// marker. Rotation is a single Lua compare-and-swap, which is what makes
// refresh token reuse detectable: a stale marker can never win the swap.
package session
