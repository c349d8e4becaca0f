// Package authguard provides an adaptive rate limiter and abuse detector for
// authentication endpoints, backed by Redis.
//
// A [Service] combines sliding-window limits per IP and per user, a token
// bucket for bursts, IP lockouts, progressive delay, and an abuse score that
// locks out IPs showing credential-stuffing patterns. Service methods are
// safe to call from multiple goroutines after [Builder.Build].
//
// # Architecture boundaries
//
// authguard is the public surface. It exposes [Service], [Builder], [Config]
// and value types ([Decision], [Status], [Report]). Store primitives (window
// scripts, token bucket, lockout keys, abuse profiles, the trust cache) live
// under internal/ and are never exported.
//
// # What this package must NOT do
//
//   - Expose Redis clients, key names or store addresses in its public API
//     or in returned errors.
//   - Treat a failed or cancelled store call as an ALLOW, unless FailOpen is
//     configured explicitly.
//   - Import any sub-package that re-imports authguard (no import cycles).
//
// # Performance contract
//
// CheckRateLimit costs one trust lookup (usually served from the local
// cache), one PTTL, up to six concurrent window scripts, and one bucket
// script. Abuse scoring runs off the request path by default.
package authguard
