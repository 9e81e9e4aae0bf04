package storygate

import (
	"errors"

	"github.com/keepsake-labs/storygate/internal/pending"
	"github.com/redis/go-redis/v9"
)

// Builder assembles a [Gate]. Construction is allocation-only; no I/O happens
// until the gate's methods are called.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	provider  Provider
	auditSink AuditSink

	built bool
}

// New starts a builder with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the builder's configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client backing the pending-state store.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithProvider sets the identity provider the gate orchestrates.
func (b *Builder) WithProvider(p Provider) *Builder {
	b.provider = p
	return b
}

// WithAuditSink sets the destination for audit events.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles the in-process metrics system.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the decision-path latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the gate. A builder may be
// used once.
func (b *Builder) Build() (*Gate, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.provider == nil {
		return nil, errors.New("identity provider required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	gate := &Gate{
		config:   cfg,
		provider: b.provider,
		pending:  pending.New(b.redis, cfg.Pending.RedisPrefix),
		audit:    newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:  NewMetrics(cfg.Metrics),
	}

	b.built = true
	return gate, nil
}
