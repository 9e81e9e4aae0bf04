package storygate

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/keepsake-labs/storygate/internal/pending"
)

// Decide is the session guard policy. Pending-challenge truth always
// overrides the raw authentication signal: order of the cases below is the
// load-bearing invariant of the gate.
func Decide(authenticated, pendingActive bool) Decision {
	switch {
	case pendingActive:
		return DecisionChallenge
	case !authenticated:
		return DecisionSignIn
	default:
		return DecisionAdmit
	}
}

// CurrentDecision evaluates the session guard for one client context. It is
// meant to run at every point the application would otherwise grant access
// to protected views.
//
// The pending record is read fresh on every call. If the pending store is
// unreachable the guard cannot prove that no challenge is outstanding, so it
// refuses to admit and reports ErrPendingUnavailable alongside
// [DecisionSignIn].
func (g *Gate) CurrentDecision(ctx context.Context, clientID, sessionToken string) (Decision, error) {
	if g == nil || g.pending == nil {
		return DecisionSignIn, ErrGateNotReady
	}
	if clientID == "" {
		return DecisionSignIn, ErrClientContextRequired
	}

	start := time.Now()
	defer func() {
		g.metrics.Observe(MetricDecisionLatency, time.Since(start))
	}()

	pendingActive := false
	if _, err := g.pending.Get(ctx, clientID); err == nil {
		pendingActive = true
	} else if !errors.Is(err, pending.ErrNotFound) && !errors.Is(err, pending.ErrExpired) {
		g.metricInc(MetricDecisionSignIn)
		return DecisionSignIn, ErrPendingUnavailable
	}

	decision := Decide(g.tokenAuthenticates(sessionToken), pendingActive)
	switch decision {
	case DecisionChallenge:
		g.metricInc(MetricDecisionChallenge)
	case DecisionAdmit:
		g.metricInc(MetricDecisionAdmit)
	default:
		g.metricInc(MetricDecisionSignIn)
	}
	return decision, nil
}

// tokenAuthenticates inspects a provider session token locally. A missing,
// malformed, or expired token never authenticates.
func (g *Gate) tokenAuthenticates(sessionToken string) bool {
	_, ok := g.inspectToken(sessionToken)
	return ok
}

// inspectToken returns the registered claims of a token that passes local
// inspection. With a configured HS256 secret the signature is verified.
// Without one the token is trusted only when AllowUnverifiedClaims is set,
// and then only its claims are checked; the zero configuration treats every
// token as unauthenticated rather than admit something nobody verified.
func (g *Gate) inspectToken(sessionToken string) (*jwt.RegisteredClaims, bool) {
	if sessionToken == "" {
		return nil, false
	}

	leeway := g.config.Token.Leeway
	if leeway < 0 {
		leeway = 0
	}

	if len(g.config.Token.HS256Secret) > 0 {
		parser := jwt.NewParser(
			jwt.WithValidMethods([]string{"HS256"}),
			jwt.WithLeeway(leeway),
			jwt.WithExpirationRequired(),
		)
		secret := g.config.Token.HS256Secret
		claims := &jwt.RegisteredClaims{}
		token, err := parser.ParseWithClaims(sessionToken, claims, func(*jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			return nil, false
		}
		return claims, true
	}

	if !g.config.Token.AllowUnverifiedClaims {
		return nil, false
	}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(sessionToken, claims); err != nil {
		return nil, false
	}
	if claims.ExpiresAt == nil {
		return nil, false
	}
	if !time.Now().Add(-leeway).Before(claims.ExpiresAt.Time) {
		return nil, false
	}
	return claims, true
}
