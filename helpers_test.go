package storygate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"github.com/keepsake-labs/storygate/internal/pending"
)

var testTokenSecret = []byte("test-hs256-secret-0123456789abcd")

// fakeProvider is a scriptable identity provider. The zero behavior accepts
// alice@example.com / correct-horse with one verified factor and the code
// 654321; tests override the err fields to force failures.
type fakeProvider struct {
	mu sync.Mutex

	signInErr    error
	listErr      error
	challengeErr error
	verifyErr    error
	enrollErr    error
	unenrollErr  error

	// verifyHook runs after a successful code check, before the session is
	// returned. Tests use it to race the submission against another consumer.
	verifyHook func()

	factors   []Factor
	validCode string

	challengeSeq int
	sessionSeq   int
	verifyCalls  int
	signedOut    []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		factors: []Factor{
			{ID: "factor-1", Kind: FactorTOTP, Status: FactorVerified, CreatedAt: time.Now()},
		},
		validCode: "654321",
	}
}

func (f *fakeProvider) SignInWithPassword(_ context.Context, identifier, secret string) (*ProviderSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.signInErr != nil {
		return nil, f.signInErr
	}
	if identifier != "alice@example.com" || secret != "correct-horse" {
		return nil, ErrInvalidCredential
	}
	f.sessionSeq++
	return &ProviderSession{
		UserID:       "user-1",
		SessionToken: fmt.Sprintf("session-%d", f.sessionSeq),
	}, nil
}

func (f *fakeProvider) SignOut(_ context.Context, sessionToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signedOut = append(f.signedOut, sessionToken)
	return nil
}

func (f *fakeProvider) ListFactors(_ context.Context, userID string) ([]Factor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]Factor, len(f.factors))
	copy(out, f.factors)
	return out, nil
}

func (f *fakeProvider) Enroll(_ context.Context, userID string, kind FactorKind) (*EnrollmentSetup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.enrollErr != nil {
		return nil, f.enrollErr
	}
	id := fmt.Sprintf("factor-%d", len(f.factors)+1)
	f.factors = append(f.factors, Factor{
		ID:        id,
		Kind:      kind,
		Status:    FactorUnverified,
		CreatedAt: time.Now(),
	})
	return &EnrollmentSetup{
		FactorID: id,
		Secret:   "JBSWY3DPEHPK3PXP",
		QRCode:   "otpauth://totp/demo:alice@example.com?secret=JBSWY3DPEHPK3PXP",
	}, nil
}

func (f *fakeProvider) CreateChallenge(_ context.Context, factorID string) (*Challenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.challengeErr != nil {
		return nil, f.challengeErr
	}
	if !f.hasFactorLocked(factorID) {
		return nil, ErrFactorNotFound
	}
	f.challengeSeq++
	return &Challenge{
		ID:       fmt.Sprintf("chal-%d", f.challengeSeq),
		FactorID: factorID,
		IssuedAt: time.Now(),
	}, nil
}

func (f *fakeProvider) Verify(_ context.Context, factorID, challengeID, code string) (*ProviderSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.verifyCalls++
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	if !f.hasFactorLocked(factorID) {
		return nil, ErrFactorNotFound
	}
	if code != f.validCode {
		return nil, ErrInvalidCode
	}
	for i := range f.factors {
		if f.factors[i].ID == factorID {
			f.factors[i].Status = FactorVerified
		}
	}
	if f.verifyHook != nil {
		f.verifyHook()
	}
	f.sessionSeq++
	return &ProviderSession{
		UserID:       "user-1",
		SessionToken: fmt.Sprintf("session-%d", f.sessionSeq),
	}, nil
}

func (f *fakeProvider) Unenroll(_ context.Context, factorID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.unenrollErr != nil {
		return f.unenrollErr
	}
	for i := range f.factors {
		if f.factors[i].ID == factorID {
			f.factors = append(f.factors[:i], f.factors[i+1:]...)
			return nil
		}
	}
	return ErrFactorNotFound
}

func (f *fakeProvider) hasFactorLocked(factorID string) bool {
	for _, fa := range f.factors {
		if fa.ID == factorID {
			return true
		}
	}
	return false
}

func (f *fakeProvider) signedOutTokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.signedOut))
	copy(out, f.signedOut)
	return out
}

func (f *fakeProvider) verifyCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.verifyCalls
}

func wasSignedOut(f *fakeProvider, token string) bool {
	for _, t := range f.signedOutTokens() {
		if t == token {
			return true
		}
	}
	return false
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis failed: %v", err)
	}
	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func gateTestConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.HS256Secret = testTokenSecret
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

func newTestGate(t *testing.T, cfg Config, provider Provider) (*Gate, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, rdb := newTestRedis(t)
	gate, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithProvider(provider).
		Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}

	return gate, mr, func() {
		gate.Close()
		_ = rdb.Close()
		mr.Close()
	}
}

// gateOverRedis builds a second gate on an existing Redis instance, the way a
// restarted process would.
func gateOverRedis(t *testing.T, cfg Config, provider Provider, mr *miniredis.Miniredis) (*Gate, func()) {
	t.Helper()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	gate, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithProvider(provider).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return gate, func() {
		gate.Close()
		_ = rdb.Close()
	}
}

func mintSessionToken(t *testing.T, key []byte, ttl time.Duration) string {
	t.Helper()

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   "user-1",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign token failed: %v", err)
	}
	return token
}

func mustBeginChallenge(t *testing.T, gate *Gate, clientID string) *SignInResult {
	t.Helper()

	res, err := gate.BeginPrimarySignIn(context.Background(), clientID, "alice@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("BeginPrimarySignIn failed: %v", err)
	}
	if res.State != StateChallengeIssued {
		t.Fatalf("expected StateChallengeIssued, got %v", res.State)
	}
	return res
}

func pendingExists(t *testing.T, gate *Gate, clientID string) bool {
	t.Helper()

	_, err := gate.pending.Get(context.Background(), clientID)
	switch {
	case err == nil:
		return true
	case errors.Is(err, pending.ErrNotFound), errors.Is(err, pending.ErrExpired):
		return false
	default:
		t.Fatalf("pending lookup failed: %v", err)
		return false
	}
}

func pendingRecord(t *testing.T, gate *Gate, clientID string) *pending.Record {
	t.Helper()

	record, err := gate.pending.Get(context.Background(), clientID)
	if err != nil {
		t.Fatalf("expected pending record, got error: %v", err)
	}
	return record
}
