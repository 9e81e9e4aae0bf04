// Package middleware exposes HTTP adapters that enforce the storygate session
// guard in front of protected routes.
//
// # Guards
//
//   - [Guard] — browser-style enforcement; redirects to the sign-in or
//     challenge page per the gate's decision.
//   - [RequireAdmitted] — API-style enforcement; responds 401 or 403 instead
//     of redirecting.
//
// Each guard extracts the client context ID and session token from the
// request, calls Gate.CurrentDecision, and injects the decision into the
// request context.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into gate calls. It does NOT make
// authorization decisions itself — the pending-challenge-wins ordering lives
// in the gate.
//
// # What this package must NOT do
//
//   - Parse session tokens directly (delegates to the gate).
//   - Access the pending-state store (the gate handles I/O).
//   - Admit a request on any path other than an explicit admit decision.
package middleware
