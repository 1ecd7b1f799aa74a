// Package token issues and verifies the signed access and refresh tokens
// used by the engine. Both kinds are JWTs carrying a purpose claim so one
// can never be presented in place of the other.
//
// The active signing key can be rotated at runtime. Previously announced
// verification keys are retained so tokens issued before a rotation stay
// verifiable until they expire.
package token
