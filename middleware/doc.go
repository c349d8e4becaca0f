// Package middleware adapts authguard.Service to net/http.
//
// [RateLimit] derives the client IP (RemoteAddr, or X-Forwarded-For when
// trusted) and an optional user from each request, calls CheckRateLimit,
// and turns a DENY into 429 with Retry-After. [SubjectFromBearer] supplies
// the user from a verified JWT.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Service calls. Every allow or
// deny decision is delegated to CheckRateLimit.
//
// # What this package must NOT do
//
//   - Access Redis.
//   - Call RecordSuccess. Only the handler knows whether authentication
//     succeeded.
package middleware
