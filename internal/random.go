package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"math/big"
	"strings"
)

// Ref is the unguessable 16-byte reference used to address challenge and
// proof records. It is never derived from an identity id.
type Ref [16]byte

const (
	// SecretSize is the byte length of proof token secrets.
	SecretSize = 32

	proofTokenRawSize = 16 + SecretSize
)

var errInvalidRef = errors.New("invalid reference size")

// NewRef returns a cryptographically random reference.
func NewRef() (Ref, error) {
	var r Ref
	_, err := rand.Read(r[:])
	return r, err
}

// String encodes the reference as compact unpadded base64url.
func (r Ref) String() string {
	return base64.RawURLEncoding.EncodeToString(r[:])
}

// ParseRef decodes a reference previously produced by Ref.String.
func ParseRef(s string) (Ref, error) {
	var r Ref

	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return r, err
	}
	if len(raw) != len(r) {
		return r, errInvalidRef
	}

	copy(r[:], raw)
	return r, nil
}

// NewSecret returns a fresh 32-byte secret for a proof token.
func NewSecret() ([SecretSize]byte, error) {
	var secret [SecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

// HashSecret is the only form in which secrets are persisted.
func HashSecret(secret [SecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

// HashString hashes an arbitrary string secret, such as a one-time code
// or a refresh rotation marker.
func HashString(s string) [32]byte {
	return sha256.Sum256([]byte(s))
}

// EncodeProofToken packs a proof reference and its secret into the single
// opaque string handed to the account holder.
func EncodeProofToken(ref Ref, secret [SecretSize]byte) string {
	var raw [proofTokenRawSize]byte
	copy(raw[:len(ref)], ref[:])
	copy(raw[len(ref):], secret[:])

	return base64.RawURLEncoding.EncodeToString(raw[:])
}

// DecodeProofToken splits an opaque proof token back into its reference
// and secret. Malformed input yields an error without revealing which
// part was wrong.
func DecodeProofToken(token string) (Ref, [SecretSize]byte, error) {
	var (
		ref    Ref
		secret [SecretSize]byte
	)

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return ref, secret, err
	}
	if len(raw) != proofTokenRawSize {
		return ref, secret, errors.New("invalid proof token size")
	}

	copy(ref[:], raw[:len(ref)])
	copy(secret[:], raw[len(ref):])

	return ref, secret, nil
}

// NewOTP generates a numeric one-time code with uniformly random digits.
func NewOTP(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	return b.String(), nil
}
