package authkit

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/neomarket/authkit/internal"
	"github.com/neomarket/authkit/password"
	"github.com/neomarket/authkit/session"
	"github.com/neomarket/authkit/token"
)

// Builder assembles an Engine from explicit dependencies. It is single
// use: Build can only be called once.
type Builder struct {
	config     Config
	redis      *redis.Client
	identities IdentityStore
	mailSink   MailSink

	built bool
}

// New starts a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the entire configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing sessions, challenges and proofs.
func (b *Builder) WithRedis(client *redis.Client) *Builder {
	b.redis = client
	return b
}

// WithIdentityStore sets the credential store adapter.
func (b *Builder) WithIdentityStore(store IdentityStore) *Builder {
	b.identities = store
	return b
}

// WithMailSink sets the outbound mail delivery seam. Without one, all
// lifecycle emails are discarded.
func (b *Builder) WithMailSink(sink MailSink) *Builder {
	b.mailSink = sink
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the access validation latency
// histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.identities == nil {
		return nil, errors.New("identity store required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(password.Params{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	tokens, err := token.NewManager(token.Config{
		AccessTTL:     cfg.Token.AccessTTL,
		RefreshTTL:    cfg.Token.RefreshTTL,
		SigningMethod: token.SigningMethod(cfg.Token.SigningMethod),
		PrivateKey:    cloneBytes(cfg.Token.PrivateKey),
		PublicKey:     cloneBytes(cfg.Token.PublicKey),
		KeyID:         cfg.Token.KeyID,
		VerifyKeys:    cfg.Token.VerifyKeys,
		Issuer:        cfg.Token.Issuer,
		Audience:      cfg.Token.Audience,
		Leeway:        cfg.Token.Leeway,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:     cfg,
		identities: b.identities,
		hasher:     hasher,
		tokens:     tokens,
		sessions:   session.NewStore(b.redis, cfg.Session.RedisPrefix),
		challenges: newChallengeStore(b.redis, cfg.Challenge),
		proofs:     newProofStore(b.redis, cfg.Proof),
		mail:       newMailDispatcher(cfg.Mail, b.mailSink),
		metrics:    NewMetrics(cfg.Metrics),
	}

	dummy, err := buildDummyHash(hasher)
	if err != nil {
		engine.mail.Close()
		return nil, err
	}
	engine.dummyHash = dummy

	b.built = true

	return engine, nil
}

// buildDummyHash hashes a random throwaway password once at startup so
// logins against unknown emails still pay a verification round.
func buildDummyHash(hasher *password.Hasher) (string, error) {
	secret, err := internal.NewSecret()
	if err != nil {
		return "", fmt.Errorf("generate dummy password: %w", err)
	}
	return hasher.Hash(hex.EncodeToString(secret[:]))
}
