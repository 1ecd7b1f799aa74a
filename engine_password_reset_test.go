package authkit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestPasswordResetFlow(t *testing.T) {
	engine, _, sink := newTestEngine(t, testConfig(t))
	ctx := context.Background()

	registerVerified(t, engine, sink, "alice@example.com", "the old password")

	// An open session that the reset must kill.
	login, err := engine.Login(ctx, "alice@example.com", "the old password")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if err := engine.SendPasswordResetEmail(ctx, "alice@example.com"); err != nil {
		t.Fatalf("SendPasswordResetEmail failed: %v", err)
	}
	msg := waitMail(t, sink)
	if msg.Kind != MailPasswordReset || msg.Token == "" {
		t.Fatalf("unexpected reset mail: %+v", msg)
	}

	if err := engine.ResetPassword(ctx, msg.Token, "the new password"); err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}

	// Old password out, new password in, sessions destroyed.
	if _, err := engine.Login(ctx, "alice@example.com", "the old password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password still works: %v", err)
	}
	if _, err := engine.Login(ctx, "alice@example.com", "the new password"); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}
	if _, err := engine.Refresh(ctx, login.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("pre-reset session survived: %v", err)
	}

	// The proof was consumed by the successful reset.
	if err := engine.ResetPassword(ctx, msg.Token, "yet another password"); !errors.Is(err, ErrProofInvalid) {
		t.Fatalf("expected ErrProofInvalid on replay, got %v", err)
	}
}

func TestSendPasswordResetEmailUnknownAddress(t *testing.T) {
	engine, _, sink := newTestEngine(t, testConfig(t))
	ctx := context.Background()

	// Success either way, so the endpoint cannot probe for accounts.
	if err := engine.SendPasswordResetEmail(ctx, "nobody@example.com"); err != nil {
		t.Fatalf("expected success for an unknown address, got %v", err)
	}
	assertNoMail(t, sink)
}

func TestResetPasswordPolicyCheckedBeforeRedeem(t *testing.T) {
	engine, _, sink := newTestEngine(t, testConfig(t))
	ctx := context.Background()

	registerVerified(t, engine, sink, "alice@example.com", "the old password")

	if err := engine.SendPasswordResetEmail(ctx, "alice@example.com"); err != nil {
		t.Fatalf("SendPasswordResetEmail failed: %v", err)
	}
	msg := waitMail(t, sink)

	if err := engine.ResetPassword(ctx, msg.Token, "short"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for a weak password, got %v", err)
	}

	// The policy failure must not have consumed the proof.
	if err := engine.ResetPassword(ctx, msg.Token, "an acceptable one"); err != nil {
		t.Fatalf("proof was consumed by the rejected attempt: %v", err)
	}
}

func TestResetPasswordExpiredProof(t *testing.T) {
	cfg := testConfig(t)
	cfg.Proof.ResetTTL = 30 * time.Millisecond

	engine, _, sink := newTestEngine(t, cfg)
	ctx := context.Background()

	registerVerified(t, engine, sink, "alice@example.com", "the old password")

	if err := engine.SendPasswordResetEmail(ctx, "alice@example.com"); err != nil {
		t.Fatalf("SendPasswordResetEmail failed: %v", err)
	}
	msg := waitMail(t, sink)

	time.Sleep(60 * time.Millisecond)

	if err := engine.ResetPassword(ctx, msg.Token, "a fresh password!"); !errors.Is(err, ErrProofExpired) {
		t.Fatalf("expected ErrProofExpired, got %v", err)
	}
}

func TestResetPasswordConcurrentSingleWinner(t *testing.T) {
	engine, _, sink := newTestEngine(t, testConfig(t))
	ctx := context.Background()

	registerVerified(t, engine, sink, "alice@example.com", "the old password")

	if err := engine.SendPasswordResetEmail(ctx, "alice@example.com"); err != nil {
		t.Fatalf("SendPasswordResetEmail failed: %v", err)
	}
	msg := waitMail(t, sink)

	const racers = 6

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := engine.ResetPassword(ctx, msg.Token, "a racing password!"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("concurrent reset winners = %d, want exactly 1", wins)
	}
}
