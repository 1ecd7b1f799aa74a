package authkit

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func testConfig(t *testing.T) Config {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("ed25519.GenerateKey failed: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Token.PrivateKey = priv
	cfg.Token.KeyID = "test-1"
	cfg.Token.Issuer = "authkit-test"
	cfg.Token.Leeway = 0

	// Cheap hashing; these tests measure behavior, not hardness.
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	return cfg
}

func newTestKeyPair(t *testing.T) (priv, pub []byte) {
	t.Helper()

	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("ed25519.GenerateKey failed: %v", err)
	}
	return privKey, pubKey
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *memIdentityStore, *captureSink) {
	t.Helper()

	store := newMemIdentityStore()
	sink := newCaptureSink()

	engine, err := New().
		WithConfig(cfg).
		WithRedis(newTestRedis(t)).
		WithIdentityStore(store).
		WithMailSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return engine, store, sink
}

// registerVerified runs the full register + verify flow and returns the
// new identity id.
func registerVerified(t *testing.T, engine *Engine, sink *captureSink, email, pass string) string {
	t.Helper()
	ctx := context.Background()

	res, err := engine.Register(ctx, RegisterRequest{Email: email, Password: pass})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	msg := waitMail(t, sink)
	if msg.Kind != MailVerifyEmail {
		t.Fatalf("expected verification mail, got %v", msg.Kind)
	}
	if err := engine.VerifyEmail(ctx, msg.Token); err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}

	return res.IdentityID
}

func waitMail(t *testing.T, sink *captureSink) MailMessage {
	t.Helper()

	select {
	case msg := <-sink.ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for mail")
		return MailMessage{}
	}
}

func assertNoMail(t *testing.T, sink *captureSink) {
	t.Helper()

	select {
	case msg := <-sink.ch:
		t.Fatalf("unexpected mail to %s (%v)", msg.To, msg.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

// captureSink records dispatched mail for assertions.
type captureSink struct {
	ch chan MailMessage
}

func newCaptureSink() *captureSink {
	return &captureSink{ch: make(chan MailMessage, 16)}
}

func (s *captureSink) Send(_ context.Context, msg MailMessage) error {
	s.ch <- msg
	return nil
}

// memIdentityStore is the in-memory IdentityStore used across the
// engine tests.
type memIdentityStore struct {
	mu      sync.Mutex
	byID    map[string]*Identity
	byEmail map[string]string
	links   map[string]string

	// findErr, when set, is returned by every lookup to simulate a
	// backend outage.
	findErr error
}

func newMemIdentityStore() *memIdentityStore {
	return &memIdentityStore{
		byID:    map[string]*Identity{},
		byEmail: map[string]string{},
		links:   map[string]string{},
	}
}

func (m *memIdentityStore) CreateIdentity(_ context.Context, tenantID string, identity *Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	emailKey := tenantID + "/" + identity.Email
	if _, ok := m.byEmail[emailKey]; ok {
		return ErrConflict
	}

	clone := cloneIdentity(identity)
	m.byID[tenantID+"/"+identity.ID] = clone
	m.byEmail[emailKey] = identity.ID
	return nil
}

func (m *memIdentityStore) FindByEmail(_ context.Context, tenantID, email string) (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.findErr != nil {
		return nil, m.findErr
	}

	id, ok := m.byEmail[tenantID+"/"+email]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	return cloneIdentity(m.byID[tenantID+"/"+id]), nil
}

func (m *memIdentityStore) FindByID(_ context.Context, tenantID, id string) (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.findErr != nil {
		return nil, m.findErr
	}

	identity, ok := m.byID[tenantID+"/"+id]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	return cloneIdentity(identity), nil
}

func (m *memIdentityStore) UpdatePasswordHash(_ context.Context, tenantID, id, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	identity, ok := m.byID[tenantID+"/"+id]
	if !ok {
		return ErrIdentityNotFound
	}
	identity.PasswordHash = passwordHash
	return nil
}

func (m *memIdentityStore) SetEnabled(_ context.Context, tenantID, id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	identity, ok := m.byID[tenantID+"/"+id]
	if !ok {
		return ErrIdentityNotFound
	}
	identity.Enabled = enabled
	return nil
}

func (m *memIdentityStore) FindFederatedLink(_ context.Context, tenantID, provider, subject string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.findErr != nil {
		return "", m.findErr
	}

	id, ok := m.links[tenantID+"/"+provider+"/"+subject]
	if !ok {
		return "", ErrIdentityNotFound
	}
	return id, nil
}

func (m *memIdentityStore) SaveFederatedLink(_ context.Context, tenantID, provider, subject, identityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tenantID + "/" + provider + "/" + subject
	if _, ok := m.links[key]; ok {
		return ErrConflict
	}
	m.links[key] = identityID
	return nil
}

// mutate edits a stored identity in place, for test setup like enabling
// the second factor.
func (m *memIdentityStore) mutate(t *testing.T, tenantID, id string, fn func(*Identity)) {
	t.Helper()

	m.mu.Lock()
	defer m.mu.Unlock()

	identity, ok := m.byID[tenantID+"/"+id]
	if !ok {
		t.Fatalf("identity %s not found", id)
	}
	fn(identity)
}

func (m *memIdentityStore) passwordHash(t *testing.T, tenantID, id string) string {
	t.Helper()

	m.mu.Lock()
	defer m.mu.Unlock()

	identity, ok := m.byID[tenantID+"/"+id]
	if !ok {
		t.Fatalf("identity %s not found", id)
	}
	return identity.PasswordHash
}

func cloneIdentity(identity *Identity) *Identity {
	clone := *identity
	clone.Roles = append([]string(nil), identity.Roles...)
	return &clone
}
