package authkit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestVerifyEmailSingleUse(t *testing.T) {
	engine, _, sink := newTestEngine(t, testConfig(t))
	ctx := context.Background()

	if _, err := engine.Register(ctx, RegisterRequest{Email: "alice@example.com", Password: "verify me once!"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	msg := waitMail(t, sink)

	if err := engine.VerifyEmail(ctx, msg.Token); err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}

	// The proof is consumed on success.
	if err := engine.VerifyEmail(ctx, msg.Token); !errors.Is(err, ErrProofInvalid) {
		t.Fatalf("expected ErrProofInvalid on replay, got %v", err)
	}
}

func TestVerifyEmailExpiry(t *testing.T) {
	cfg := testConfig(t)
	cfg.Proof.VerifyTTL = 30 * time.Millisecond

	engine, _, sink := newTestEngine(t, cfg)
	ctx := context.Background()

	if _, err := engine.Register(ctx, RegisterRequest{Email: "alice@example.com", Password: "too late to use"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	msg := waitMail(t, sink)

	time.Sleep(60 * time.Millisecond)

	if err := engine.VerifyEmail(ctx, msg.Token); !errors.Is(err, ErrProofExpired) {
		t.Fatalf("expected ErrProofExpired, got %v", err)
	}
}

func TestVerifyEmailGarbageToken(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig(t))
	ctx := context.Background()

	for _, token := range []string{"", "short", "definitely-not-a-proof-token-at-all"} {
		if err := engine.VerifyEmail(ctx, token); !errors.Is(err, ErrProofInvalid) && !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("token %q: expected a proof or input error, got %v", token, err)
		}
	}
}

func TestProofPurposesDoNotCross(t *testing.T) {
	engine, _, sink := newTestEngine(t, testConfig(t))
	ctx := context.Background()

	if _, err := engine.Register(ctx, RegisterRequest{Email: "alice@example.com", Password: "purpose separated"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	verifyMsg := waitMail(t, sink)

	if err := engine.VerifyEmail(ctx, verifyMsg.Token); err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}

	if err := engine.SendPasswordResetEmail(ctx, "alice@example.com"); err != nil {
		t.Fatalf("SendPasswordResetEmail failed: %v", err)
	}
	resetMsg := waitMail(t, sink)
	if resetMsg.Kind != MailPasswordReset {
		t.Fatalf("expected a reset mail, got %v", resetMsg.Kind)
	}

	// A reset proof presented to email verification fails and must not
	// consume the reset proof.
	if err := engine.VerifyEmail(ctx, resetMsg.Token); !errors.Is(err, ErrProofInvalid) {
		t.Fatalf("expected ErrProofInvalid for a cross-purpose proof, got %v", err)
	}
	if err := engine.ResetPassword(ctx, resetMsg.Token, "a whole new password"); err != nil {
		t.Fatalf("reset proof was consumed by the wrong purpose: %v", err)
	}
}
