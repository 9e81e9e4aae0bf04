package storygate

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventSignInSuccess     = "signin_success"
	auditEventSignInFailure     = "signin_failure"
	auditEventSecurityCheck     = "security_check_failed"
	auditEventChallengeIssued   = "challenge_issued"
	auditEventChallengeSuccess  = "challenge_success"
	auditEventChallengeFailure  = "challenge_failure"
	auditEventChallengeExpired  = "challenge_expired"
	auditEventChallengeAbandon  = "challenge_abandoned"
	auditEventChallengeExceeded = "challenge_attempts_exceeded"
	auditEventChallengeReplay   = "challenge_replay"
	auditEventEnrollStarted     = "enrollment_started"
	auditEventEnrollConfirmed   = "enrollment_confirmed"
	auditEventEnrollFailure     = "enrollment_failure"
	auditEventFactorDisabled    = "factor_disabled"
)

// AuditErrorCode is the stable short form of a gate error carried in
// [AuditEvent.Error].
type AuditErrorCode string

const (
	auditErrInvalidCredential   AuditErrorCode = "invalid_credential"
	auditErrSecurityCheckFailed AuditErrorCode = "security_check_failed"
	auditErrInvalidCode         AuditErrorCode = "invalid_code"
	auditErrAttemptsExceeded    AuditErrorCode = "attempts_exceeded"
	auditErrChallengeExpired    AuditErrorCode = "challenge_expired"
	auditErrChallengeNotFound   AuditErrorCode = "challenge_not_found"
	auditErrChallengeReplay     AuditErrorCode = "challenge_replay"
	auditErrChallengePending    AuditErrorCode = "challenge_pending"
	auditErrEnrollmentFailed    AuditErrorCode = "enrollment_failed"
	auditErrFactorNotFound      AuditErrorCode = "factor_not_found"
	auditErrNotAuthenticated    AuditErrorCode = "not_authenticated"
	auditErrUnavailable         AuditErrorCode = "backend_unavailable"
	auditErrInternal            AuditErrorCode = "internal_error"
)

func (g *Gate) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	clientID string,
	factorID string,
	challengeID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if g == nil || g.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:   time.Now().UTC(),
		EventType:   eventType,
		UserID:      userID,
		ClientID:    clientID,
		FactorID:    factorID,
		ChallengeID: challengeID,
		Success:     success,
		Metadata:    metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	g.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredential):
		return auditErrInvalidCredential
	case errors.Is(err, ErrSecurityCheckFailed):
		return auditErrSecurityCheckFailed
	case errors.Is(err, ErrInvalidCode):
		return auditErrInvalidCode
	case errors.Is(err, ErrAttemptsExceeded):
		return auditErrAttemptsExceeded
	case errors.Is(err, ErrChallengeExpired):
		return auditErrChallengeExpired
	case errors.Is(err, ErrChallengeNotFound):
		return auditErrChallengeNotFound
	case errors.Is(err, ErrChallengeReplay):
		return auditErrChallengeReplay
	case errors.Is(err, ErrChallengePending):
		return auditErrChallengePending
	case errors.Is(err, ErrEnrollmentFailed):
		return auditErrEnrollmentFailed
	case errors.Is(err, ErrFactorNotFound):
		return auditErrFactorNotFound
	case errors.Is(err, ErrNotAuthenticated):
		return auditErrNotAuthenticated
	case errors.Is(err, ErrProviderUnavailable),
		errors.Is(err, ErrPendingUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
