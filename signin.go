package storygate

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/keepsake-labs/storygate/internal/pending"
)

// BeginPrimarySignIn runs the primary-credential step of the gate.
//
// When the user has no verified second factor the result is [StateAdmitted]
// with the provider session. When a verified factor exists, a challenge is
// created against the earliest-registered one, the pending record is written
// durably before the call returns, and the result is [StateChallengeIssued]
// with no session token.
//
// A sign-in that starts while an older challenge is still pending for the
// same client context supersedes it: the older provisional session is revoked
// and its record cleared first, so at most one challenge is ever active per
// context.
func (g *Gate) BeginPrimarySignIn(ctx context.Context, clientID, identifier, secret string) (*SignInResult, error) {
	if g == nil || g.provider == nil || g.pending == nil {
		return nil, ErrGateNotReady
	}
	if clientID == "" {
		return nil, ErrClientContextRequired
	}
	if identifier == "" || secret == "" {
		g.metricInc(MetricSignInFailure)
		g.emitAudit(ctx, auditEventSignInFailure, false, "", clientID, "", "", ErrInvalidCredential, func() map[string]string {
			return map[string]string{"reason": "empty_credential"}
		})
		return nil, ErrInvalidCredential
	}

	if stale, err := g.pending.Get(ctx, clientID); err == nil {
		g.revokeSession(ctx, stale.SessionToken)
		if _, err := g.pending.Clear(ctx, clientID); err != nil {
			return nil, ErrPendingUnavailable
		}
	} else if errors.Is(err, pending.ErrBackend) {
		return nil, ErrPendingUnavailable
	}

	pctx, cancel := g.providerCtx(ctx)
	sess, err := g.provider.SignInWithPassword(pctx, identifier, secret)
	cancel()
	if err != nil {
		mapped := mapProviderErr(err)
		if !errors.Is(mapped, ErrInvalidCredential) {
			mapped = ErrProviderUnavailable
		}
		g.metricInc(MetricSignInFailure)
		g.emitAudit(ctx, auditEventSignInFailure, false, "", clientID, "", "", mapped, func() map[string]string {
			return map[string]string{"identifier": identifier}
		})
		return nil, mapped
	}

	pctx, cancel = g.providerCtx(ctx)
	factors, err := g.provider.ListFactors(pctx, sess.UserID)
	cancel()
	if err != nil {
		// Registry unreachable: assume a factor might exist and deny. The
		// provisional session must not survive the denied attempt.
		g.revokeSession(ctx, sess.SessionToken)
		g.metricInc(MetricSecurityCheckFailed)
		g.emitAudit(ctx, auditEventSecurityCheck, false, sess.UserID, clientID, "", "", ErrSecurityCheckFailed, nil)
		return nil, ErrSecurityCheckFailed
	}

	factor, ok := firstVerified(factors)
	if !ok {
		g.metricInc(MetricSignInSuccess)
		g.emitAudit(ctx, auditEventSignInSuccess, true, sess.UserID, clientID, "", "", nil, nil)
		return &SignInResult{
			State:        StateAdmitted,
			UserID:       sess.UserID,
			SessionToken: sess.SessionToken,
		}, nil
	}

	pctx, cancel = g.providerCtx(ctx)
	challenge, err := g.provider.CreateChallenge(pctx, factor.ID)
	cancel()
	if err != nil {
		g.revokeSession(ctx, sess.SessionToken)
		g.metricInc(MetricSecurityCheckFailed)
		mapped := mapProviderErr(err)
		if errors.Is(mapped, ErrFactorNotFound) {
			mapped = ErrSecurityCheckFailed
		}
		g.emitAudit(ctx, auditEventSecurityCheck, false, sess.UserID, clientID, factor.ID, "", mapped, nil)
		return nil, mapped
	}

	record := &pending.Record{
		ChallengeID:  challenge.ID,
		FactorID:     factor.ID,
		UserID:       sess.UserID,
		SessionToken: sess.SessionToken,
		ExpiresAt:    time.Now().Add(g.config.Challenge.TTL).Unix(),
	}
	if err := g.pending.Save(ctx, clientID, record, g.config.Challenge.TTL); err != nil {
		g.revokeSession(ctx, sess.SessionToken)
		g.emitAudit(ctx, auditEventSecurityCheck, false, sess.UserID, clientID, factor.ID, challenge.ID, ErrPendingUnavailable, nil)
		return nil, ErrPendingUnavailable
	}

	g.metricInc(MetricChallengeIssued)
	g.emitAudit(ctx, auditEventChallengeIssued, true, sess.UserID, clientID, factor.ID, challenge.ID, nil, nil)
	return &SignInResult{
		State:       StateChallengeIssued,
		UserID:      sess.UserID,
		ChallengeID: challenge.ID,
		FactorID:    factor.ID,
	}, nil
}

// SubmitChallengeCode answers the outstanding challenge for the client
// context. A wrong code leaves the pending record and its challenge intact
// apart from the attempt counter; the same challenge may be retried until it
// expires or the configured attempt bound consumes it.
func (g *Gate) SubmitChallengeCode(ctx context.Context, clientID, code string) (*SignInResult, error) {
	if g == nil || g.provider == nil || g.pending == nil {
		return nil, ErrGateNotReady
	}
	if clientID == "" {
		return nil, ErrClientContextRequired
	}

	record, err := g.pending.Get(ctx, clientID)
	if err != nil {
		mapped := mapPendingErr(err)
		g.metricInc(MetricChallengeFailure)
		g.emitAudit(ctx, auditEventChallengeFailure, false, "", clientID, "", "", mapped, func() map[string]string {
			return map[string]string{"reason": "pending_load_failed"}
		})
		return nil, mapped
	}

	code, ok := normalizeCode(code)
	if !ok {
		return nil, g.failAttempt(ctx, clientID, record, ErrInvalidCode)
	}

	pctx, cancel := g.providerCtx(ctx)
	sess, err := g.provider.Verify(pctx, record.FactorID, record.ChallengeID, code)
	cancel()
	if err != nil {
		mapped := mapProviderErr(err)
		switch {
		case errors.Is(mapped, ErrInvalidCode):
			return nil, g.failAttempt(ctx, clientID, record, ErrInvalidCode)
		case errors.Is(mapped, ErrChallengeExpired), errors.Is(mapped, ErrChallengeNotFound):
			// The provider no longer honors this challenge; the flow is dead.
			g.revokeSession(ctx, record.SessionToken)
			if _, cerr := g.pending.Clear(ctx, clientID); cerr != nil {
				return nil, ErrPendingUnavailable
			}
			g.metricInc(MetricChallengeExpired)
			g.emitAudit(ctx, auditEventChallengeExpired, false, record.UserID, clientID, record.FactorID, record.ChallengeID, ErrChallengeExpired, nil)
			return nil, ErrChallengeExpired
		default:
			g.metricInc(MetricChallengeFailure)
			g.emitAudit(ctx, auditEventChallengeFailure, false, record.UserID, clientID, record.FactorID, record.ChallengeID, ErrProviderUnavailable, nil)
			return nil, ErrProviderUnavailable
		}
	}

	cleared, err := g.pending.Clear(ctx, clientID)
	if err != nil {
		// Verified but the record could not be consumed. Do not admit on an
		// unverifiable pending state.
		g.metricInc(MetricChallengeFailure)
		g.emitAudit(ctx, auditEventChallengeFailure, false, record.UserID, clientID, record.FactorID, record.ChallengeID, ErrPendingUnavailable, nil)
		return nil, ErrPendingUnavailable
	}
	if !cleared {
		// Verify minted a fresh session but a concurrent submission already
		// consumed the record; that session is never surfaced, so kill it.
		g.revokeSession(ctx, sess.SessionToken)
		g.metricInc(MetricChallengeReplay)
		g.emitAudit(ctx, auditEventChallengeReplay, false, record.UserID, clientID, record.FactorID, record.ChallengeID, ErrChallengeReplay, nil)
		return nil, ErrChallengeReplay
	}

	g.metricInc(MetricChallengeSuccess)
	g.emitAudit(ctx, auditEventChallengeSuccess, true, record.UserID, clientID, record.FactorID, record.ChallengeID, nil, nil)
	return &SignInResult{
		State:        StateAdmitted,
		UserID:       sess.UserID,
		SessionToken: sess.SessionToken,
	}, nil
}

// AbandonChallenge cancels the outstanding challenge: the provisional
// primary session is revoked and the pending record cleared before control
// returns. Abandoning when nothing is pending is a no-op.
func (g *Gate) AbandonChallenge(ctx context.Context, clientID string) error {
	if g == nil || g.pending == nil {
		return ErrGateNotReady
	}
	if clientID == "" {
		return ErrClientContextRequired
	}

	record, err := g.pending.Get(ctx, clientID)
	if err != nil {
		if errors.Is(err, pending.ErrNotFound) || errors.Is(err, pending.ErrExpired) {
			return nil
		}
		return ErrPendingUnavailable
	}

	g.revokeSession(ctx, record.SessionToken)
	if _, err := g.pending.Clear(ctx, clientID); err != nil {
		return ErrPendingUnavailable
	}

	g.metricInc(MetricChallengeAbandoned)
	g.emitAudit(ctx, auditEventChallengeAbandon, true, record.UserID, clientID, record.FactorID, record.ChallengeID, nil, nil)
	return nil
}

// Resume reconstructs the gate state for a client context after a process or
// page restart. A pending record forces [StateChallengeIssued] with the
// stored challenge and factor identifiers; nothing pending means
// [StateIdle]. Resume never reports [StateAdmitted]: admission always comes
// from answering the challenge or from the session guard.
func (g *Gate) Resume(ctx context.Context, clientID string) (*SignInResult, error) {
	if g == nil || g.pending == nil {
		return nil, ErrGateNotReady
	}
	if clientID == "" {
		return nil, ErrClientContextRequired
	}

	record, err := g.pending.Get(ctx, clientID)
	if err != nil {
		switch {
		case errors.Is(err, pending.ErrNotFound):
			return &SignInResult{State: StateIdle}, nil
		case errors.Is(err, pending.ErrExpired):
			g.metricInc(MetricChallengeExpired)
			g.emitAudit(ctx, auditEventChallengeExpired, false, "", clientID, "", "", ErrChallengeExpired, nil)
			return &SignInResult{State: StateIdle}, nil
		default:
			return nil, ErrPendingUnavailable
		}
	}

	return &SignInResult{
		State:       StateChallengeIssued,
		UserID:      record.UserID,
		ChallengeID: record.ChallengeID,
		FactorID:    record.FactorID,
	}, nil
}

func (g *Gate) failAttempt(ctx context.Context, clientID string, record *pending.Record, cause error) error {
	exceeded, recErr := g.pending.RecordFailure(ctx, clientID, g.config.Challenge.MaxAttempts)
	if recErr != nil {
		mapped := mapPendingErr(recErr)
		g.metricInc(MetricChallengeFailure)
		g.emitAudit(ctx, auditEventChallengeFailure, false, record.UserID, clientID, record.FactorID, record.ChallengeID, mapped, nil)
		return mapped
	}
	if exceeded {
		// The record was consumed atomically; the provisional session dies
		// with it.
		g.revokeSession(ctx, record.SessionToken)
		g.metricInc(MetricAttemptsExceeded)
		g.emitAudit(ctx, auditEventChallengeExceeded, false, record.UserID, clientID, record.FactorID, record.ChallengeID, ErrAttemptsExceeded, nil)
		return ErrAttemptsExceeded
	}

	g.metricInc(MetricChallengeFailure)
	g.emitAudit(ctx, auditEventChallengeFailure, false, record.UserID, clientID, record.FactorID, record.ChallengeID, cause, nil)
	return cause
}

// revokeSession signs out a provisional session, best effort. The gate never
// surfaces these tokens, so a failed revocation leaves nothing usable behind;
// the bounded timeout keeps abandonment synchronous.
func (g *Gate) revokeSession(ctx context.Context, sessionToken string) {
	if sessionToken == "" || g.provider == nil {
		return
	}
	pctx, cancel := g.providerCtx(ctx)
	defer cancel()
	_ = g.provider.SignOut(pctx, sessionToken)
}

func firstVerified(factors []Factor) (Factor, bool) {
	for _, f := range factors {
		if f.Status == FactorVerified {
			return f, true
		}
	}
	return Factor{}, false
}

// normalizeCode strips the separators users paste in with authenticator
// codes and rejects anything that is not a six-digit code before it reaches
// the provider.
func normalizeCode(code string) (string, bool) {
	code = strings.ReplaceAll(code, " ", "")
	code = strings.ReplaceAll(code, "-", "")
	if len(code) != 6 {
		return "", false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return "", false
		}
	}
	return code, true
}
