// Package internal holds the private building blocks of authguard.
//
// # Sub-packages
//
//   - audit: generic async dispatcher used for audit events and abuse signals
//   - backend: circuit-breaker guard and key layout shared by every store call
//   - limiters: lockouts, abuse scoring, failure counters, daily stats
//   - rate: sliding-window counter and token-bucket burst controller
//   - security: configuration posture report
//   - trust: whitelist and suspicion registry with a local cache
//
// # What this package must NOT do
//
//   - Export types that appear in the public authguard API except through
//     aliases declared in the root package.
//   - Be imported by any package outside the authguard module.
package internal
