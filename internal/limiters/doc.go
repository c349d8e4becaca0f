// Package limiters holds the stateful policy components that sit beside the
// window and bucket primitives in internal/rate.
//
// # Components
//
//   - [LockoutManager]: TTL-bounded IP locks, the daily lockout counter and
//     the capped recent-lockouts list.
//   - [AbuseDetector]: per-IP activity profiles, weighted scoring, and
//     automatic lockout when the score reaches the threshold.
//   - [FailureCounter]: consecutive-denial counts feeding progressive delay.
//   - [Stats]: daily success and denial counters per limit type.
//
// Every write carries a TTL. Every store call goes through a backend.Guard,
// so failures surface as backend.ErrUnavailable.
//
// # What this package must NOT do
//
//   - Import authguard or any sibling internal package except internal/backend.
//   - Decide whether a request is allowed. The service facade does that.
package limiters
