package storygate

import (
	"context"
	"errors"
)

// BeginEnrollment asks the provider to create a new unverified factor for the
// user and returns its setup material. The factor does not gate sign-in until
// [Gate.ConfirmEnrollment] succeeds for it.
func (g *Gate) BeginEnrollment(ctx context.Context, userID string) (*EnrollmentSetup, error) {
	if g == nil || g.provider == nil {
		return nil, ErrGateNotReady
	}
	if userID == "" {
		return nil, ErrEnrollmentFailed
	}

	pctx, cancel := g.providerCtx(ctx)
	setup, err := g.provider.Enroll(pctx, userID, FactorTOTP)
	cancel()
	if err != nil {
		err = mapProviderErr(err)
		if !errors.Is(err, ErrProviderUnavailable) {
			err = ErrEnrollmentFailed
		}
		g.metricInc(MetricEnrollFailure)
		g.emitAudit(ctx, auditEventEnrollFailure, false, userID, "", "", "", err, nil)
		return nil, err
	}
	if setup == nil || setup.FactorID == "" {
		g.metricInc(MetricEnrollFailure)
		g.emitAudit(ctx, auditEventEnrollFailure, false, userID, "", "", "", ErrEnrollmentFailed, nil)
		return nil, ErrEnrollmentFailed
	}

	g.metricInc(MetricEnrollStarted)
	g.emitAudit(ctx, auditEventEnrollStarted, true, userID, "", setup.FactorID, "", nil, nil)
	return setup, nil
}

// ConfirmEnrollment proves possession of a freshly enrolled factor. It issues
// a new challenge against the factor and verifies the submitted code in one
// step; on success the provider marks the factor verified and it gates every
// subsequent sign-in.
func (g *Gate) ConfirmEnrollment(ctx context.Context, userID, factorID, code string) (*Factor, error) {
	if g == nil || g.provider == nil {
		return nil, ErrGateNotReady
	}
	if factorID == "" {
		return nil, ErrFactorNotFound
	}

	normalized, ok := normalizeCode(code)
	if !ok {
		g.metricInc(MetricEnrollFailure)
		g.emitAudit(ctx, auditEventEnrollFailure, false, userID, "", factorID, "", ErrInvalidCode, nil)
		return nil, ErrInvalidCode
	}

	pctx, cancel := g.providerCtx(ctx)
	challenge, err := g.provider.CreateChallenge(pctx, factorID)
	cancel()
	if err != nil {
		err = mapProviderErr(err)
		g.metricInc(MetricEnrollFailure)
		g.emitAudit(ctx, auditEventEnrollFailure, false, userID, "", factorID, "", err, nil)
		return nil, err
	}

	pctx, cancel = g.providerCtx(ctx)
	_, err = g.provider.Verify(pctx, factorID, challenge.ID, normalized)
	cancel()
	if err != nil {
		err = mapProviderErr(err)
		g.metricInc(MetricEnrollFailure)
		g.emitAudit(ctx, auditEventEnrollFailure, false, userID, "", factorID, challenge.ID, err, nil)
		return nil, err
	}

	factor, err := g.lookupFactor(ctx, userID, factorID)
	if err != nil {
		// Verification succeeded; the factor is live even if the follow-up
		// read failed. Report what is known.
		factor = &Factor{ID: factorID, Kind: FactorTOTP, Status: FactorVerified}
	}

	g.metricInc(MetricEnrollConfirmed)
	g.emitAudit(ctx, auditEventEnrollConfirmed, true, userID, "", factorID, challenge.ID, nil, nil)
	return factor, nil
}

// ListVerifiedFactors returns the user's verified factors in provider order.
// Unverified enrollments are excluded; they never gate sign-in and are not
// interesting to settings views.
func (g *Gate) ListVerifiedFactors(ctx context.Context, userID string) ([]Factor, error) {
	if g == nil || g.provider == nil {
		return nil, ErrGateNotReady
	}

	pctx, cancel := g.providerCtx(ctx)
	factors, err := g.provider.ListFactors(pctx, userID)
	cancel()
	if err != nil {
		return nil, mapProviderErr(err)
	}

	verified := make([]Factor, 0, len(factors))
	for _, f := range factors {
		if f.Status == FactorVerified {
			verified = append(verified, f)
		}
	}
	return verified, nil
}

// DisableFactor removes a factor from the user's registry. It requires a fully
// admitted session belonging to the factor's owner: a pending challenge on the
// client context blocks the call with ErrChallengePending, an absent or
// invalid session token blocks it with ErrNotAuthenticated, and so does a
// token whose subject is not userID. A factorID outside the user's own
// registry reads as ErrFactorNotFound.
func (g *Gate) DisableFactor(ctx context.Context, clientID, sessionToken, userID, factorID string) error {
	if g == nil || g.provider == nil {
		return ErrGateNotReady
	}
	if clientID == "" {
		return ErrClientContextRequired
	}
	if factorID == "" {
		return ErrFactorNotFound
	}

	decision, err := g.CurrentDecision(ctx, clientID, sessionToken)
	if err != nil && !errors.Is(err, ErrPendingUnavailable) {
		return err
	}
	switch {
	case err != nil:
		return ErrPendingUnavailable
	case decision == DecisionChallenge:
		g.emitAudit(ctx, auditEventFactorDisabled, false, userID, clientID, factorID, "", ErrChallengePending, nil)
		return ErrChallengePending
	case decision != DecisionAdmit:
		g.emitAudit(ctx, auditEventFactorDisabled, false, userID, clientID, factorID, "", ErrNotAuthenticated, nil)
		return ErrNotAuthenticated
	}

	claims, ok := g.inspectToken(sessionToken)
	if !ok || claims.Subject == "" || claims.Subject != userID {
		// The admitted session must belong to the user whose factor is being
		// removed.
		g.emitAudit(ctx, auditEventFactorDisabled, false, userID, clientID, factorID, "", ErrNotAuthenticated, nil)
		return ErrNotAuthenticated
	}

	if _, err := g.lookupFactor(ctx, userID, factorID); err != nil {
		g.emitAudit(ctx, auditEventFactorDisabled, false, userID, clientID, factorID, "", err, nil)
		return err
	}

	pctx, cancel := g.providerCtx(ctx)
	err = g.provider.Unenroll(pctx, factorID)
	cancel()
	if err != nil {
		err = mapProviderErr(err)
		g.emitAudit(ctx, auditEventFactorDisabled, false, userID, clientID, factorID, "", err, nil)
		return err
	}

	g.metricInc(MetricFactorDisabled)
	g.emitAudit(ctx, auditEventFactorDisabled, true, userID, clientID, factorID, "", nil, nil)
	return nil
}

func (g *Gate) lookupFactor(ctx context.Context, userID, factorID string) (*Factor, error) {
	if userID == "" {
		return nil, ErrFactorNotFound
	}
	pctx, cancel := g.providerCtx(ctx)
	factors, err := g.provider.ListFactors(pctx, userID)
	cancel()
	if err != nil {
		return nil, mapProviderErr(err)
	}
	for i := range factors {
		if factors[i].ID == factorID {
			return &factors[i], nil
		}
	}
	return nil, ErrFactorNotFound
}
