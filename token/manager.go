package token

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the JWT signature algorithm.
type SigningMethod string

const (
	// MethodEd25519 signs with EdDSA over Curve25519. Default.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with HMAC-SHA256 using a shared secret.
	MethodHS256 SigningMethod = "hs256"
)

const (
	// PurposeAccess marks short-lived tokens presented on every request.
	PurposeAccess = "access"
	// PurposeRefresh marks long-lived tokens presented only to the
	// refresh flow.
	PurposeRefresh = "refresh"
)

var (
	// ErrExpired reports a well-formed token past its expiry.
	ErrExpired = errors.New("token expired")
	// ErrInvalid reports any other verification failure.
	ErrInvalid = errors.New("token invalid")
)

// Config carries the immutable manager settings. The initial signing key
// is provided here; later keys arrive through Rotate.
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	KeyID         string
	VerifyKeys    map[string][]byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

// Claims is the claim set shared by access and refresh tokens. Roles are
// only populated on access tokens; the rotation marker travels in the
// registered ID (jti) claim of refresh tokens.
type Claims struct {
	UID     string   `json:"uid"`
	TID     string   `json:"tid,omitempty"`
	SID     string   `json:"sid"`
	Roles   []string `json:"roles,omitempty"`
	Purpose string   `json:"purpose"`
	jwt.RegisteredClaims
}

type keyring struct {
	kid     string
	signKey any
	verify  map[string]any
}

// Manager signs and verifies engine tokens. The key material is held
// behind an atomic pointer so Rotate never exposes a torn keyring to
// concurrent issue or parse calls.
type Manager struct {
	cfg  Config
	keys atomic.Pointer[keyring]
}

// NewManager validates the configuration and builds the initial keyring.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.RefreshTTL <= cfg.AccessTTL {
		return nil, errors.New("refresh TTL must exceed access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	switch cfg.SigningMethod {
	case MethodHS256, MethodEd25519:
	case "":
		cfg.SigningMethod = MethodEd25519
	default:
		return nil, errors.New("unsupported signing method")
	}

	m := &Manager{cfg: cfg}

	ring, err := m.buildKeyring(cfg.KeyID, cfg.PrivateKey, cfg.PublicKey, cfg.VerifyKeys)
	if err != nil {
		return nil, err
	}
	m.keys.Store(ring)

	return m, nil
}

// Rotate makes the given key the active signing key. All verification
// keys known so far are retained, so outstanding tokens keep verifying.
// For HS256 the public key argument is ignored.
func (m *Manager) Rotate(kid string, privateKey, publicKey []byte) error {
	kid = strings.TrimSpace(kid)
	if kid == "" {
		return errors.New("rotation requires a key id")
	}

	for {
		old := m.keys.Load()

		next, err := m.buildKeyring(kid, privateKey, publicKey, nil)
		if err != nil {
			return err
		}
		for id, key := range old.verify {
			if _, ok := next.verify[id]; !ok {
				next.verify[id] = key
			}
		}

		if m.keys.CompareAndSwap(old, next) {
			return nil
		}
	}
}

// RetireVerifyKey drops a retired key id from the verify set. Call this
// once every token signed under the id has expired.
func (m *Manager) RetireVerifyKey(kid string) error {
	for {
		old := m.keys.Load()
		if kid == old.kid {
			return errors.New("cannot retire the active signing key")
		}
		if _, ok := old.verify[kid]; !ok {
			return nil
		}

		next := &keyring{
			kid:     old.kid,
			signKey: old.signKey,
			verify:  make(map[string]any, len(old.verify)),
		}
		for id, key := range old.verify {
			if id != kid {
				next.verify[id] = key
			}
		}

		if m.keys.CompareAndSwap(old, next) {
			return nil
		}
	}
}

// IssueAccess signs a short-lived access token bound to a session.
func (m *Manager) IssueAccess(uid, tid, sid string, roles []string) (string, error) {
	return m.issue(Claims{
		UID:     uid,
		TID:     tid,
		SID:     sid,
		Roles:   roles,
		Purpose: PurposeAccess,
	}, m.cfg.AccessTTL)
}

// IssueRefresh signs a refresh token carrying the rotation marker jti.
func (m *Manager) IssueRefresh(uid, tid, sid, jti string) (string, error) {
	c := Claims{
		UID:     uid,
		TID:     tid,
		SID:     sid,
		Purpose: PurposeRefresh,
	}
	c.ID = jti
	return m.issue(c, m.cfg.RefreshTTL)
}

// ParseAccess verifies a token and requires the access purpose.
func (m *Manager) ParseAccess(tokenStr string) (*Claims, error) {
	return m.parse(tokenStr, PurposeAccess)
}

// ParseRefresh verifies a token and requires the refresh purpose.
func (m *Manager) ParseRefresh(tokenStr string) (*Claims, error) {
	return m.parse(tokenStr, PurposeRefresh)
}

func (m *Manager) issue(claims Claims, ttl time.Duration) (string, error) {
	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	claims.Issuer = m.cfg.Issuer
	if m.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.cfg.Audience}
	}

	ring := m.keys.Load()

	tok := jwt.NewWithClaims(m.method(), claims)
	if ring.kid != "" {
		tok.Header["kid"] = ring.kid
	}

	return tok.SignedString(ring.signKey)
}

func (m *Manager) parse(tokenStr, purpose string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method().Alg()}),
		jwt.WithExpirationRequired(),
	}
	if m.cfg.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.cfg.Leeway))
	}
	if m.cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.cfg.Issuer))
	}
	if m.cfg.Audience != "" {
		options = append(options, jwt.WithAudience(m.cfg.Audience))
	}

	ring := m.keys.Load()

	parser := jwt.NewParser(options...)
	tok, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		key, ok := ring.verify[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, ErrInvalid
	}
	if claims.Purpose != purpose {
		return nil, fmt.Errorf("%w: wrong token purpose", ErrInvalid)
	}
	if claims.UID == "" || claims.SID == "" {
		return nil, fmt.Errorf("%w: missing subject claims", ErrInvalid)
	}

	return claims, nil
}

func (m *Manager) method() jwt.SigningMethod {
	if m.cfg.SigningMethod == MethodHS256 {
		return jwt.SigningMethodHS256
	}
	return jwt.SigningMethodEdDSA
}

func (m *Manager) buildKeyring(kid string, privateKey, publicKey []byte, extraVerify map[string][]byte) (*keyring, error) {
	ring := &keyring{kid: kid, verify: make(map[string]any, len(extraVerify)+1)}

	switch m.cfg.SigningMethod {
	case MethodHS256:
		if len(privateKey) == 0 {
			return nil, errors.New("hs256 requires a shared secret")
		}
		ring.signKey = privateKey
		ring.verify[kid] = privateKey
		for id, key := range extraVerify {
			ring.verify[id] = []byte(key)
		}

	default:
		priv, err := parseEdPrivateKey(privateKey)
		if err != nil {
			return nil, err
		}
		ring.signKey = priv

		pub, err := publicForEd25519(priv, publicKey)
		if err != nil {
			return nil, err
		}
		ring.verify[kid] = pub

		for id, key := range extraVerify {
			parsed, err := parseEdPublicKey(key)
			if err != nil {
				return nil, fmt.Errorf("invalid verify key for kid %q: %w", id, err)
			}
			ring.verify[id] = parsed
		}
	}

	return ring, nil
}

func publicForEd25519(priv ed25519.PrivateKey, publicKey []byte) (ed25519.PublicKey, error) {
	if len(publicKey) == 0 {
		pub, ok := priv.Public().(ed25519.PublicKey)
		if !ok {
			return nil, errors.New("cannot derive ed25519 public key")
		}
		return pub, nil
	}
	return parseEdPublicKey(publicKey)
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
