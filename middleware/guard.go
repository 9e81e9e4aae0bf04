package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/keepsake-labs/storygate"
)

// Default request sources for the client context ID and session token.
const (
	DefaultClientIDHeader = "X-Client-ID"
	DefaultClientIDCookie = "sg_client"
	DefaultSessionCookie  = "sg_session"
)

// Config controls where a guard finds its inputs and where it sends callers
// that are not admitted. Zero-value fields fall back to the defaults above
// and to /signin and /challenge.
type Config struct {
	SignInURL    string
	ChallengeURL string

	ClientIDHeader string
	ClientIDCookie string
	SessionCookie  string
}

func (c Config) withDefaults() Config {
	if c.SignInURL == "" {
		c.SignInURL = "/signin"
	}
	if c.ChallengeURL == "" {
		c.ChallengeURL = "/challenge"
	}
	if c.ClientIDHeader == "" {
		c.ClientIDHeader = DefaultClientIDHeader
	}
	if c.ClientIDCookie == "" {
		c.ClientIDCookie = DefaultClientIDCookie
	}
	if c.SessionCookie == "" {
		c.SessionCookie = DefaultSessionCookie
	}
	return c
}

type decisionContextKey struct{}

// DecisionFromContext returns the guard decision recorded for the request.
func DecisionFromContext(ctx context.Context) (storygate.Decision, bool) {
	d, ok := ctx.Value(decisionContextKey{}).(storygate.Decision)
	return d, ok
}

// Guard returns middleware for browser routes. Callers with a pending
// challenge are redirected to the challenge page regardless of their session
// token; unauthenticated callers go to sign-in; admitted callers proceed with
// the decision attached to the request context.
func Guard(gate *storygate.Gate, cfg Config) func(http.Handler) http.Handler {
	cfg = cfg.withDefaults()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if gate == nil {
				http.Redirect(w, r, cfg.SignInURL, http.StatusSeeOther)
				return
			}

			decision, _ := gate.CurrentDecision(r.Context(), clientID(r, cfg), sessionToken(r, cfg))
			switch decision {
			case storygate.DecisionAdmit:
				ctx := context.WithValue(r.Context(), decisionContextKey{}, decision)
				next.ServeHTTP(w, r.WithContext(ctx))
			case storygate.DecisionChallenge:
				http.Redirect(w, r, cfg.ChallengeURL, http.StatusSeeOther)
			default:
				http.Redirect(w, r, cfg.SignInURL, http.StatusSeeOther)
			}
		})
	}
}

// RequireAdmitted returns middleware for API routes. A pending challenge
// yields 403 with a challenge_required body; anything else short of admission
// yields 401.
func RequireAdmitted(gate *storygate.Gate, cfg Config) func(http.Handler) http.Handler {
	cfg = cfg.withDefaults()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if gate == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			decision, _ := gate.CurrentDecision(r.Context(), clientID(r, cfg), sessionToken(r, cfg))
			switch decision {
			case storygate.DecisionAdmit:
				ctx := context.WithValue(r.Context(), decisionContextKey{}, decision)
				next.ServeHTTP(w, r.WithContext(ctx))
			case storygate.DecisionChallenge:
				http.Error(w, "challenge_required", http.StatusForbidden)
			default:
				http.Error(w, "unauthorized", http.StatusUnauthorized)
			}
		})
	}
}

func clientID(r *http.Request, cfg Config) string {
	if id := r.Header.Get(cfg.ClientIDHeader); id != "" {
		return id
	}
	if c, err := r.Cookie(cfg.ClientIDCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return ""
}

func sessionToken(r *http.Request, cfg Config) string {
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token
	}
	if c, err := r.Cookie(cfg.SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return ""
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
