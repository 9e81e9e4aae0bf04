// Package storygate is the multi-factor authentication gate of the story
// capture product. It orchestrates a hosted identity provider's second-factor
// primitives (enroll, challenge, verify) into a challenge/response state
// machine that never treats a primary-credential session as complete while a
// challenge is outstanding.
//
// The gate keeps a single durable PendingAuthState record per client context
// in Redis. Every decision point — sign-in, code submission, re-entry after a
// reload, and the session guard — reads that record before trusting anything
// the transport reports about credential validity. A pending record always
// wins over a raw "is authenticated" signal.
//
// # Architecture boundaries
//
// storygate is the public surface. It exposes [Gate], [Builder], [Config],
// the [Provider] capability set, and value types. Pending-state persistence
// lives under internal/ and is never exported. The identity provider itself
// is an external collaborator: storygate decides when its verify primitive is
// invoked and what state is trusted until it succeeds, nothing more.
//
// # What this package must NOT do
//
//   - Generate or validate one-time codes. That cryptographic primitive
//     belongs to the identity provider.
//   - Admit a session through any error path. Ambiguous security checks fail
//     closed.
//   - Expose Redis clients or record encodings in its public API.
package storygate
