package storygate

import (
	"context"
	"time"
)

// FactorKind identifies the mechanism behind a second factor. Only time-based
// one-time codes are supported today.
type FactorKind string

const (
	// FactorTOTP is a time-based one-time code factor backed by an
	// authenticator app.
	FactorTOTP FactorKind = "totp"
)

// FactorStatus is the provider-side lifecycle state of a factor.
type FactorStatus uint8

const (
	// FactorUnverified is a freshly enrolled factor that has never answered a
	// challenge. It does not gate sign-in.
	FactorUnverified FactorStatus = iota
	// FactorVerified is a factor that answered its enrollment challenge and
	// now gates every sign-in for its owner.
	FactorVerified
)

// Factor is a registered second-factor credential. The identity provider owns
// the record; storygate holds it only for the duration of one flow.
type Factor struct {
	ID        string
	Kind      FactorKind
	Status    FactorStatus
	CreatedAt time.Time
}

// Challenge is a single outstanding proof request tied to exactly one factor.
type Challenge struct {
	ID       string
	FactorID string
	IssuedAt time.Time
}

// ProviderSession is the session material returned by the provider when a
// credential or a challenge answer is accepted.
type ProviderSession struct {
	UserID       string
	SessionToken string
}

// EnrollmentSetup is returned by [Gate.BeginEnrollment]. Secret is the shared
// secret to enter manually; QRCode is the provider's display material
// (typically an otpauth:// URI or an inline image).
type EnrollmentSetup struct {
	FactorID string
	Secret   string
	QRCode   string
}

// Provider is the identity-provider capability set storygate consumes.
// Implementations should return the package sentinel errors
// ([ErrInvalidCredential], [ErrInvalidCode], [ErrChallengeExpired],
// [ErrChallengeNotFound], [ErrFactorNotFound], [ErrEnrollmentFailed]) for the
// corresponding conditions; anything else is treated as
// [ErrProviderUnavailable].
//
// Every call receives a context already bounded by
// [ProviderConfig.CallTimeout].
type Provider interface {
	SignInWithPassword(ctx context.Context, identifier, secret string) (*ProviderSession, error)
	SignOut(ctx context.Context, sessionToken string) error
	ListFactors(ctx context.Context, userID string) ([]Factor, error)
	Enroll(ctx context.Context, userID string, kind FactorKind) (*EnrollmentSetup, error)
	CreateChallenge(ctx context.Context, factorID string) (*Challenge, error)
	Verify(ctx context.Context, factorID, challengeID, code string) (*ProviderSession, error)
	Unenroll(ctx context.Context, factorID string) error
}

// GateState is the observable state of one sign-in flow.
type GateState uint8

const (
	// StateIdle means no sign-in is in progress for the client context.
	StateIdle GateState = iota
	// StateChallengeIssued means primary credentials were accepted, a
	// challenge is outstanding, and the session must not be trusted yet.
	StateChallengeIssued
	// StateAdmitted means authentication completed and the session token may
	// be used.
	StateAdmitted
)

// SignInResult is returned by [Gate.BeginPrimarySignIn],
// [Gate.SubmitChallengeCode], and [Gate.Resume].
//
// When State is [StateChallengeIssued], ChallengeID and FactorID identify the
// outstanding challenge and SessionToken is empty: no token is surfaced until
// the challenge is answered. When State is [StateAdmitted], SessionToken
// carries the provider session.
type SignInResult struct {
	State        GateState
	UserID       string
	SessionToken string

	ChallengeID string
	FactorID    string
}

// Decision is the session guard's verdict at a protection point.
type Decision uint8

const (
	// DecisionSignIn sends the caller to primary sign-in.
	DecisionSignIn Decision = iota
	// DecisionChallenge sends the caller to the verification step. It takes
	// priority over everything else, including a valid-looking session token.
	DecisionChallenge
	// DecisionAdmit grants access to the authenticated application.
	DecisionAdmit
)

// String returns the decision name for logs and audit metadata.
func (d Decision) String() string {
	switch d {
	case DecisionChallenge:
		return "redirect-to-challenge"
	case DecisionAdmit:
		return "admit"
	default:
		return "redirect-to-signin"
	}
}
