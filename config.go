package storygate

import (
	"errors"
	"time"
)

// Config carries all gate tuning. Instances are cloned by the builder and
// treated as immutable afterwards.
type Config struct {
	Provider  ProviderConfig
	Challenge ChallengeConfig
	Pending   PendingConfig
	Token     TokenConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

// ProviderConfig bounds every identity-provider call. No gate operation may
// block indefinitely on the provider.
type ProviderConfig struct {
	CallTimeout time.Duration
}

// ChallengeConfig controls the challenge lifecycle.
//
// TTL mirrors the provider's challenge lifetime: the pending record expires
// together with the challenge it describes. MaxAttempts bounds wrong-code
// submissions against one challenge; reaching it consumes the challenge.
type ChallengeConfig struct {
	TTL         time.Duration
	MaxAttempts int
}

// PendingConfig controls pending-state persistence.
type PendingConfig struct {
	RedisPrefix string
}

// TokenConfig controls local inspection of provider session tokens.
//
// When HS256Secret is set, token signatures are verified locally with it
// (hosted providers publish this as the project JWT secret). Without a
// secret no token authenticates unless AllowUnverifiedClaims is set, in
// which case only the registered claims are inspected and an upstream layer
// must have verified the signature already. Either way an expired or
// malformed token never admits.
type TokenConfig struct {
	HS256Secret           []byte
	AllowUnverifiedClaims bool
	Leeway                time.Duration
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process metrics system.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the configuration used when the builder is given
// nothing else.
func DefaultConfig() Config {
	return Config{
		Provider: ProviderConfig{
			CallTimeout: 10 * time.Second,
		},
		Challenge: ChallengeConfig{
			TTL:         3 * time.Minute,
			MaxAttempts: 5,
		},
		Pending: PendingConfig{
			RedisPrefix: "sgp",
		},
		Token: TokenConfig{
			Leeway: 30 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate rejects configurations the gate cannot run safely with.
func (c Config) Validate() error {
	if c.Provider.CallTimeout <= 0 {
		return errors.New("Provider.CallTimeout must be positive")
	}
	if c.Challenge.TTL <= 0 {
		return errors.New("Challenge.TTL must be positive")
	}
	if c.Challenge.MaxAttempts < 1 {
		return errors.New("Challenge.MaxAttempts must be at least 1")
	}
	if c.Pending.RedisPrefix == "" {
		return errors.New("Pending.RedisPrefix must not be empty")
	}
	if c.Token.Leeway < 0 {
		return errors.New("Token.Leeway must not be negative")
	}
	if c.Audit.Enabled && c.Audit.BufferSize < 0 {
		return errors.New("Audit.BufferSize must not be negative")
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.HS256Secret = cloneBytes(cfg.Token.HS256Secret)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
