package storygate

import "errors"

var (
	// ErrInvalidCredential is returned when the identity provider rejects the
	// primary credential. Recoverable; the caller may retry sign-in.
	ErrInvalidCredential = errors.New("invalid primary credential")
	// ErrSecurityCheckFailed is returned when the factor registry cannot be
	// consulted after a successful primary sign-in. The attempt is denied:
	// an unreachable registry is never treated as "no second factor".
	ErrSecurityCheckFailed = errors.New("second-factor security check failed")
	// ErrInvalidCode is returned when the submitted one-time code does not
	// match. The pending challenge is left intact and may be retried.
	ErrInvalidCode = errors.New("invalid verification code")
	// ErrAttemptsExceeded is returned when wrong-code submissions reach the
	// configured bound. The pending challenge is consumed; the caller must
	// restart sign-in from the beginning.
	ErrAttemptsExceeded = errors.New("verification attempts exceeded")
	// ErrChallengeExpired is returned when the provider reports the challenge
	// as no longer answerable. Pending state is cleared; restart from idle.
	ErrChallengeExpired = errors.New("challenge expired")
	// ErrChallengeNotFound is returned when no outstanding challenge exists
	// for the client context.
	ErrChallengeNotFound = errors.New("challenge not found")
	// ErrChallengeReplay is returned when a verification raced another
	// submission that already consumed the pending challenge.
	ErrChallengeReplay = errors.New("challenge already consumed")
	// ErrChallengePending is returned when an operation that requires a fully
	// authenticated caller is attempted while a challenge is outstanding.
	ErrChallengePending = errors.New("challenge pending")
	// ErrEnrollmentFailed is returned when the provider could not create a new
	// factor. No factor is persisted.
	ErrEnrollmentFailed = errors.New("factor enrollment failed")
	// ErrFactorNotFound is returned when the referenced factor does not exist
	// at the provider.
	ErrFactorNotFound = errors.New("factor not found")
	// ErrNotAuthenticated is returned when an operation requires an admitted
	// session and the presented token does not establish one.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrProviderUnavailable is returned when a provider call fails or times
	// out. Treated as the most conservative applicable outcome; it never
	// downgrades to "no MFA required".
	ErrProviderUnavailable = errors.New("identity provider unavailable")
	// ErrPendingUnavailable is returned when the pending-state store cannot be
	// read or written. All paths that hit it fail closed.
	ErrPendingUnavailable = errors.New("pending state backend unavailable")
	// ErrGateNotReady is returned when the gate is used before Build wired its
	// dependencies.
	ErrGateNotReady = errors.New("gate not initialized")
	// ErrClientContextRequired is returned when an operation is called without
	// a client context identifier. Pending state is keyed by it.
	ErrClientContextRequired = errors.New("client context id required")
)
