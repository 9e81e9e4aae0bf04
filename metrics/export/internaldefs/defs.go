package internaldefs

import (
	"github.com/keepsake-labs/storygate"
)

// CounterDef binds a gate counter to its exported name and help text.
type CounterDef struct {
	ID   storygate.MetricID
	Name string
	Help string
}

// HistogramDef binds a gate histogram to its exported name and help text.
type HistogramDef struct {
	ID   storygate.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported gate counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: storygate.MetricSignInSuccess, Name: "storygate_signin_success_total", Help: "Primary sign-ins accepted by the identity provider."},
	{ID: storygate.MetricSignInFailure, Name: "storygate_signin_failure_total", Help: "Primary sign-ins rejected or failed."},
	{ID: storygate.MetricSecurityCheckFailed, Name: "storygate_security_check_failed_total", Help: "Sign-ins denied because the factor registry could not be consulted."},
	{ID: storygate.MetricChallengeIssued, Name: "storygate_challenge_issued_total", Help: "Second-factor challenges issued."},
	{ID: storygate.MetricChallengeSuccess, Name: "storygate_challenge_success_total", Help: "Challenges answered successfully."},
	{ID: storygate.MetricChallengeFailure, Name: "storygate_challenge_failure_total", Help: "Challenge answers rejected."},
	{ID: storygate.MetricChallengeExpired, Name: "storygate_challenge_expired_total", Help: "Challenges that lapsed before being answered."},
	{ID: storygate.MetricChallengeAbandoned, Name: "storygate_challenge_abandoned_total", Help: "Challenges abandoned by the caller."},
	{ID: storygate.MetricChallengeReplay, Name: "storygate_challenge_replay_total", Help: "Verifications that raced an already-consumed challenge."},
	{ID: storygate.MetricAttemptsExceeded, Name: "storygate_attempts_exceeded_total", Help: "Challenges consumed after too many wrong codes."},
	{ID: storygate.MetricEnrollStarted, Name: "storygate_enroll_started_total", Help: "Factor enrollments started."},
	{ID: storygate.MetricEnrollConfirmed, Name: "storygate_enroll_confirmed_total", Help: "Factor enrollments confirmed."},
	{ID: storygate.MetricEnrollFailure, Name: "storygate_enroll_failure_total", Help: "Factor enrollment failures."},
	{ID: storygate.MetricFactorDisabled, Name: "storygate_factor_disabled_total", Help: "Factors removed from the registry."},
	{ID: storygate.MetricDecisionAdmit, Name: "storygate_decision_admit_total", Help: "Guard decisions that admitted the caller."},
	{ID: storygate.MetricDecisionChallenge, Name: "storygate_decision_challenge_total", Help: "Guard decisions that redirected to the challenge step."},
	{ID: storygate.MetricDecisionSignIn, Name: "storygate_decision_signin_total", Help: "Guard decisions that redirected to sign-in."},
}

// HistogramDefs lists every exported gate histogram.
var HistogramDefs = []HistogramDef{
	{ID: storygate.MetricDecisionLatency, Name: "storygate_decision_latency_seconds", Help: "Session guard decision latency histogram."},
}

// HistogramBounds are the upper bucket bounds in seconds, Prometheus form.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix mirrors HistogramBounds with characters legal in OTel
// instrument names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates a raw snapshot slice to the fixed bucket
// count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into the cumulative form both
// exporters emit.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
