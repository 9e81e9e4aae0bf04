// Package memory is an in-process identity provider for tests, examples, and
// local development. It implements the full provider capability set that
// storygate consumes, including real TOTP factors, so flows can be exercised
// end to end without a hosted identity service.
package memory

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"

	"github.com/keepsake-labs/storygate"
)

const (
	defaultIssuer       = "storygate-memory"
	defaultSessionTTL   = time.Hour
	defaultChallengeTTL = 5 * time.Minute
)

// Option customizes a memory provider.
type Option func(*Provider)

// WithSigningKey sets the HS256 key used to sign session tokens. Pass the
// same key to the gate's token configuration to enable signature checks.
func WithSigningKey(key []byte) Option {
	return func(p *Provider) {
		p.signingKey = append([]byte(nil), key...)
	}
}

// WithIssuer sets the issuer name embedded in TOTP keys and session tokens.
func WithIssuer(issuer string) Option {
	return func(p *Provider) { p.issuer = issuer }
}

// WithSessionTTL sets the lifetime of issued session tokens.
func WithSessionTTL(ttl time.Duration) Option {
	return func(p *Provider) { p.sessionTTL = ttl }
}

// WithChallengeTTL sets how long an issued challenge stays answerable.
func WithChallengeTTL(ttl time.Duration) Option {
	return func(p *Provider) { p.challengeTTL = ttl }
}

// WithClock replaces the time source. Tests use this to drive expiry.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

type user struct {
	id         string
	identifier string
	secret     string
}

type factor struct {
	id         string
	userID     string
	secret     string
	status     storygate.FactorStatus
	createdAt  time.Time
	enrolledAt int // insertion order, preserved by ListFactors
}

type challenge struct {
	id        string
	factorID  string
	issuedAt  time.Time
	expiresAt time.Time
}

// Provider is an in-memory identity provider. Safe for concurrent use.
type Provider struct {
	mu sync.Mutex

	issuer       string
	signingKey   []byte
	sessionTTL   time.Duration
	challengeTTL time.Duration
	now          func() time.Time

	usersByIdent map[string]*user
	usersByID    map[string]*user
	factors      map[string]*factor
	challenges   map[string]*challenge
	sessions     map[string]string // token -> user ID
	enrollSeq    int
}

// New builds an empty provider. Without [WithSigningKey] a random key is
// generated at construction; retrieve it with [Provider.SigningKey].
func New(opts ...Option) *Provider {
	p := &Provider{
		issuer:       defaultIssuer,
		sessionTTL:   defaultSessionTTL,
		challengeTTL: defaultChallengeTTL,
		now:          time.Now,
		usersByIdent: make(map[string]*user),
		usersByID:    make(map[string]*user),
		factors:      make(map[string]*factor),
		challenges:   make(map[string]*challenge),
		sessions:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(p)
	}
	if len(p.signingKey) == 0 {
		p.signingKey = make([]byte, 32)
		_, _ = rand.Read(p.signingKey)
	}
	return p
}

// SigningKey returns the HS256 key session tokens are signed with.
func (p *Provider) SigningKey() []byte {
	return append([]byte(nil), p.signingKey...)
}

// AddUser registers a primary credential and returns the new user's ID.
func (p *Provider) AddUser(identifier, secret string) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	u := &user{id: uuid.NewString(), identifier: identifier, secret: secret}
	p.usersByIdent[identifier] = u
	p.usersByID[u.id] = u
	return u.id
}

// CurrentCode returns the TOTP code that is valid for the factor right now.
// Test helper; a real deployment has no equivalent.
func (p *Provider) CurrentCode(factorID string) (string, error) {
	p.mu.Lock()
	f, ok := p.factors[factorID]
	p.mu.Unlock()
	if !ok {
		return "", storygate.ErrFactorNotFound
	}
	return totp.GenerateCode(f.secret, p.now())
}

// SessionActive reports whether a token has been issued and not signed out.
func (p *Provider) SessionActive(token string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.sessions[token]
	return ok
}

// SignInWithPassword implements storygate.Provider.
func (p *Provider) SignInWithPassword(ctx context.Context, identifier, secret string) (*storygate.ProviderSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	u, ok := p.usersByIdent[identifier]
	if !ok || u.secret != secret {
		return nil, storygate.ErrInvalidCredential
	}
	return p.issueSessionLocked(u.id)
}

// SignOut implements storygate.Provider. Unknown tokens are a no-op.
func (p *Provider) SignOut(ctx context.Context, sessionToken string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, sessionToken)
	return nil
}

// ListFactors implements storygate.Provider. Factors come back in enrollment
// order.
func (p *Provider) ListFactors(ctx context.Context, userID string) ([]storygate.Factor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var owned []*factor
	for _, f := range p.factors {
		if f.userID == userID {
			owned = append(owned, f)
		}
	}
	for i := 1; i < len(owned); i++ {
		for j := i; j > 0 && owned[j-1].enrolledAt > owned[j].enrolledAt; j-- {
			owned[j-1], owned[j] = owned[j], owned[j-1]
		}
	}

	out := make([]storygate.Factor, 0, len(owned))
	for _, f := range owned {
		out = append(out, storygate.Factor{
			ID:        f.id,
			Kind:      storygate.FactorTOTP,
			Status:    f.status,
			CreatedAt: f.createdAt,
		})
	}
	return out, nil
}

// Enroll implements storygate.Provider. The new factor starts unverified.
func (p *Provider) Enroll(ctx context.Context, userID string, kind storygate.FactorKind) (*storygate.EnrollmentSetup, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if kind != storygate.FactorTOTP {
		return nil, storygate.ErrEnrollmentFailed
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	u, ok := p.usersByID[userID]
	if !ok {
		return nil, storygate.ErrEnrollmentFailed
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      p.issuer,
		AccountName: u.identifier,
	})
	if err != nil {
		return nil, storygate.ErrEnrollmentFailed
	}

	f := &factor{
		id:         uuid.NewString(),
		userID:     userID,
		secret:     key.Secret(),
		status:     storygate.FactorUnverified,
		createdAt:  p.now(),
		enrolledAt: p.enrollSeq,
	}
	p.enrollSeq++
	p.factors[f.id] = f

	return &storygate.EnrollmentSetup{
		FactorID: f.id,
		Secret:   key.Secret(),
		QRCode:   key.URL(),
	}, nil
}

// CreateChallenge implements storygate.Provider.
func (p *Provider) CreateChallenge(ctx context.Context, factorID string) (*storygate.Challenge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.factors[factorID]; !ok {
		return nil, storygate.ErrFactorNotFound
	}

	now := p.now()
	c := &challenge{
		id:        uuid.NewString(),
		factorID:  factorID,
		issuedAt:  now,
		expiresAt: now.Add(p.challengeTTL),
	}
	p.challenges[c.id] = c

	return &storygate.Challenge{ID: c.id, FactorID: factorID, IssuedAt: now}, nil
}

// Verify implements storygate.Provider. A correct code consumes the challenge,
// promotes the factor to verified if needed, and issues a fresh session.
func (p *Provider) Verify(ctx context.Context, factorID, challengeID, code string) (*storygate.ProviderSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.challenges[challengeID]
	if !ok || c.factorID != factorID {
		return nil, storygate.ErrChallengeNotFound
	}
	if p.now().After(c.expiresAt) {
		delete(p.challenges, challengeID)
		return nil, storygate.ErrChallengeExpired
	}

	f, ok := p.factors[factorID]
	if !ok {
		return nil, storygate.ErrFactorNotFound
	}

	valid, err := totp.ValidateCustom(code, f.secret, p.now(), totp.ValidateOpts{
		Period: 30,
		Skew:   1,
		Digits: 6,
	})
	if err != nil || !valid {
		return nil, storygate.ErrInvalidCode
	}

	delete(p.challenges, challengeID)
	f.status = storygate.FactorVerified
	return p.issueSessionLocked(f.userID)
}

// Unenroll implements storygate.Provider.
func (p *Provider) Unenroll(ctx context.Context, factorID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.factors[factorID]; !ok {
		return storygate.ErrFactorNotFound
	}
	delete(p.factors, factorID)
	return nil
}

func (p *Provider) issueSessionLocked(userID string) (*storygate.ProviderSession, error) {
	now := p.now()
	claims := jwt.RegisteredClaims{
		Issuer:    p.issuer,
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(p.sessionTTL)),
		ID:        uuid.NewString(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.signingKey)
	if err != nil {
		return nil, err
	}
	p.sessions[token] = userID
	return &storygate.ProviderSession{UserID: userID, SessionToken: token}, nil
}
