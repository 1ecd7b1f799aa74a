package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"
)

func testKey(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("ed25519.GenerateKey failed: %v", err)
	}
	return pub, priv
}

func newTestManager(t *testing.T, accessTTL time.Duration) *Manager {
	t.Helper()

	_, priv := testKey(t)
	m, err := NewManager(Config{
		AccessTTL:  accessTTL,
		RefreshTTL: 24 * time.Hour,
		PrivateKey: priv,
		KeyID:      "v1",
		Issuer:     "authkit-test",
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m
}

func TestIssueAndParseAccess(t *testing.T) {
	m := newTestManager(t, 15*time.Minute)

	tok, err := m.IssueAccess("user-1", "t1", "sess-1", []string{"CUSTOMER"})
	if err != nil {
		t.Fatalf("IssueAccess failed: %v", err)
	}

	claims, err := m.ParseAccess(tok)
	if err != nil {
		t.Fatalf("ParseAccess failed: %v", err)
	}
	if claims.UID != "user-1" || claims.TID != "t1" || claims.SID != "sess-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "CUSTOMER" {
		t.Fatalf("unexpected roles: %v", claims.Roles)
	}
	if claims.Purpose != PurposeAccess {
		t.Fatalf("unexpected purpose: %q", claims.Purpose)
	}
}

func TestPurposeSeparation(t *testing.T) {
	m := newTestManager(t, 15*time.Minute)

	access, err := m.IssueAccess("user-1", "t1", "sess-1", nil)
	if err != nil {
		t.Fatalf("IssueAccess failed: %v", err)
	}
	refresh, err := m.IssueRefresh("user-1", "t1", "sess-1", "jti-1")
	if err != nil {
		t.Fatalf("IssueRefresh failed: %v", err)
	}

	if _, err := m.ParseRefresh(access); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for access token in refresh flow, got %v", err)
	}
	if _, err := m.ParseAccess(refresh); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for refresh token in access flow, got %v", err)
	}

	claims, err := m.ParseRefresh(refresh)
	if err != nil {
		t.Fatalf("ParseRefresh failed: %v", err)
	}
	if claims.ID != "jti-1" {
		t.Fatalf("unexpected jti: %q", claims.ID)
	}
}

func TestExpiredAccessToken(t *testing.T) {
	m := newTestManager(t, time.Millisecond)

	tok, err := m.IssueAccess("user-1", "t1", "sess-1", nil)
	if err != nil {
		t.Fatalf("IssueAccess failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	if _, err := m.ParseAccess(tok); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	m := newTestManager(t, 15*time.Minute)

	for _, tok := range []string{"", "abc", "a.b.c"} {
		if _, err := m.ParseAccess(tok); !errors.Is(err, ErrInvalid) {
			t.Errorf("expected ErrInvalid for %q, got %v", tok, err)
		}
	}
}

func TestParseRejectsForeignKey(t *testing.T) {
	m := newTestManager(t, 15*time.Minute)
	other := newTestManager(t, 15*time.Minute)

	tok, err := other.IssueAccess("user-1", "t1", "sess-1", nil)
	if err != nil {
		t.Fatalf("IssueAccess failed: %v", err)
	}

	if _, err := m.ParseAccess(tok); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for foreign signature, got %v", err)
	}
}

func TestRotateKeepsOldTokensVerifiable(t *testing.T) {
	m := newTestManager(t, 15*time.Minute)

	before, err := m.IssueAccess("user-1", "t1", "sess-1", nil)
	if err != nil {
		t.Fatalf("IssueAccess failed: %v", err)
	}

	_, priv2 := testKey(t)
	if err := m.Rotate("v2", priv2, nil); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}

	after, err := m.IssueAccess("user-2", "t1", "sess-2", nil)
	if err != nil {
		t.Fatalf("IssueAccess after rotation failed: %v", err)
	}

	if _, err := m.ParseAccess(before); err != nil {
		t.Fatalf("pre-rotation token should still verify: %v", err)
	}
	if _, err := m.ParseAccess(after); err != nil {
		t.Fatalf("post-rotation token should verify: %v", err)
	}

	if err := m.RetireVerifyKey("v1"); err != nil {
		t.Fatalf("RetireVerifyKey failed: %v", err)
	}
	if _, err := m.ParseAccess(before); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid after retiring v1, got %v", err)
	}
	if _, err := m.ParseAccess(after); err != nil {
		t.Fatalf("active key token should still verify: %v", err)
	}
}

func TestRetireActiveKeyRejected(t *testing.T) {
	m := newTestManager(t, 15*time.Minute)

	if err := m.RetireVerifyKey("v1"); err == nil {
		t.Fatal("expected error retiring the active signing key")
	}
}

func TestHS256RoundTrip(t *testing.T) {
	m, err := NewManager(Config{
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    24 * time.Hour,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
		KeyID:         "hmac-1",
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	tok, err := m.IssueAccess("user-1", "", "sess-1", nil)
	if err != nil {
		t.Fatalf("IssueAccess failed: %v", err)
	}
	if _, err := m.ParseAccess(tok); err != nil {
		t.Fatalf("ParseAccess failed: %v", err)
	}
}

func TestNewManagerValidation(t *testing.T) {
	_, priv := testKey(t)

	if _, err := NewManager(Config{AccessTTL: 0, RefreshTTL: time.Hour, PrivateKey: priv}); err == nil {
		t.Fatal("expected error for zero access TTL")
	}
	if _, err := NewManager(Config{AccessTTL: time.Hour, RefreshTTL: time.Minute, PrivateKey: priv}); err == nil {
		t.Fatal("expected error for refresh TTL below access TTL")
	}
	if _, err := NewManager(Config{AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: "rs256", PrivateKey: priv}); err == nil {
		t.Fatal("expected error for unsupported method")
	}
}
