package authkit

import (
	"errors"
	"fmt"
	"time"
)

// Config holds every engine setting. Start from DefaultConfig and
// override what the deployment needs; Build validates the result.
type Config struct {
	Token     TokenConfig
	Password  PasswordConfig
	Challenge ChallengeConfig
	Proof     ProofConfig
	Session   SessionConfig
	Register  RegisterConfig
	Mail      MailConfig
	Metrics   MetricsConfig
}

// TokenConfig configures the signed access and refresh tokens.
type TokenConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// SigningMethod is "ed25519" (default) or "hs256".
	SigningMethod string
	PrivateKey    []byte
	PublicKey     []byte
	KeyID         string
	// VerifyKeys are additional verification keys by kid, for tokens
	// issued under previous signing keys.
	VerifyKeys map[string][]byte
	Issuer     string
	Audience   string
	Leeway     time.Duration
}

// PasswordConfig configures the argon2id hasher and the password policy.
type PasswordConfig struct {
	MinLength   int
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// ChallengeConfig configures the second-factor login challenge.
type ChallengeConfig struct {
	CodeDigits  int
	TTL         time.Duration
	MaxAttempts int
}

// ProofConfig configures the out-of-band proof tokens.
type ProofConfig struct {
	VerifyTTL   time.Duration
	ResetTTL    time.Duration
	MaxAttempts int
}

// SessionConfig configures the Redis session store.
type SessionConfig struct {
	RedisPrefix string
}

// RegisterConfig configures account creation.
type RegisterConfig struct {
	DefaultRoles []string
	// RequireVerification keeps new accounts disabled until the emailed
	// verification proof is redeemed.
	RequireVerification bool
}

// MailConfig configures the async mail dispatcher.
type MailConfig struct {
	BufferSize int
}

// MetricsConfig configures in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the settings a production deployment starts
// from. Signing key material must still be provided.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    30 * 24 * time.Hour,
			SigningMethod: "ed25519",
			Leeway:        30 * time.Second,
		},
		Password: PasswordConfig{
			MinLength:   10,
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		Challenge: ChallengeConfig{
			CodeDigits:  6,
			TTL:         5 * time.Minute,
			MaxAttempts: 5,
		},
		Proof: ProofConfig{
			VerifyTTL:   24 * time.Hour,
			ResetTTL:    30 * time.Minute,
			MaxAttempts: 5,
		},
		Session: SessionConfig{
			RedisPrefix: "ak",
		},
		Register: RegisterConfig{
			DefaultRoles:        []string{"CUSTOMER"},
			RequireVerification: true,
		},
		Mail: MailConfig{
			BufferSize: 64,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate rejects configurations the engine cannot run safely with.
func (c *Config) Validate() error {
	if c.Token.AccessTTL <= 0 || c.Token.RefreshTTL <= 0 {
		return errors.New("token TTLs must be positive")
	}
	if c.Token.RefreshTTL <= c.Token.AccessTTL {
		return errors.New("refresh TTL must exceed access TTL")
	}
	if c.Token.Leeway < 0 || c.Token.Leeway > 2*time.Minute {
		return errors.New("token leeway out of range")
	}

	if c.Password.MinLength < 8 {
		return errors.New("password minimum length must be >= 8")
	}

	if c.Challenge.CodeDigits < 6 || c.Challenge.CodeDigits > 10 {
		return errors.New("challenge code digits must be between 6 and 10")
	}
	if c.Challenge.TTL <= 0 || c.Challenge.TTL > time.Hour {
		return errors.New("challenge TTL out of range")
	}
	if c.Challenge.MaxAttempts < 1 {
		return errors.New("challenge max attempts must be >= 1")
	}

	if c.Proof.VerifyTTL <= 0 {
		return errors.New("proof verify TTL must be positive")
	}
	if c.Proof.ResetTTL <= 0 || c.Proof.ResetTTL > 24*time.Hour {
		return errors.New("proof reset TTL out of range")
	}
	if c.Proof.MaxAttempts < 1 {
		return errors.New("proof max attempts must be >= 1")
	}

	if len(c.Register.DefaultRoles) == 0 {
		return errors.New("at least one default role is required")
	}
	for _, role := range c.Register.DefaultRoles {
		if role == "" {
			return errors.New("default roles must not be empty")
		}
	}

	if c.Mail.BufferSize < 1 {
		return fmt.Errorf("mail buffer size must be >= 1, got %d", c.Mail.BufferSize)
	}

	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.PrivateKey = cloneBytes(cfg.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)

	if cfg.Token.VerifyKeys != nil {
		out.Token.VerifyKeys = make(map[string][]byte, len(cfg.Token.VerifyKeys))
		for kid, key := range cfg.Token.VerifyKeys {
			out.Token.VerifyKeys[kid] = cloneBytes(key)
		}
	}

	if cfg.Register.DefaultRoles != nil {
		out.Register.DefaultRoles = append([]string(nil), cfg.Register.DefaultRoles...)
	}

	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
