package storygate

import (
	"context"
	"errors"
	"time"

	"github.com/keepsake-labs/storygate/internal/pending"
)

// Gate is the challenge/response authentication gate. Instances are built
// through [Builder.Build] and are safe for concurrent use afterwards.
type Gate struct {
	config   Config
	provider Provider
	pending  *pending.Store
	audit    *auditDispatcher
	metrics  *Metrics
}

// Close flushes and stops the audit dispatcher. The gate must not be used
// after Close.
func (g *Gate) Close() {
	if g == nil {
		return
	}
	if g.audit != nil {
		g.audit.Close()
	}
}

// AuditDropped reports how many audit events were discarded under
// backpressure.
func (g *Gate) AuditDropped() uint64 {
	if g == nil {
		return 0
	}
	return g.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of all gate metrics.
func (g *Gate) MetricsSnapshot() MetricsSnapshot {
	if g == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return g.metrics.Snapshot()
}

func (g *Gate) metricInc(id MetricID) {
	if g == nil {
		return
	}
	g.metrics.Inc(id)
}

// providerCtx bounds one provider call. Every call into the provider goes
// through this; a timeout surfaces as ErrProviderUnavailable downstream.
func (g *Gate) providerCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := g.config.Provider.CallTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// mapProviderErr normalizes provider failures. Known sentinels pass through;
// anything else, including timeouts, is the conservative
// ErrProviderUnavailable.
func mapProviderErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvalidCredential),
		errors.Is(err, ErrInvalidCode),
		errors.Is(err, ErrChallengeExpired),
		errors.Is(err, ErrChallengeNotFound),
		errors.Is(err, ErrFactorNotFound),
		errors.Is(err, ErrEnrollmentFailed):
		return err
	default:
		return ErrProviderUnavailable
	}
}

func mapPendingErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pending.ErrNotFound):
		return ErrChallengeNotFound
	case errors.Is(err, pending.ErrExpired):
		return ErrChallengeExpired
	default:
		return ErrPendingUnavailable
	}
}
