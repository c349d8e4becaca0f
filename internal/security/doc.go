// Package security derives a posture report from a limiter configuration:
// which protections are active and which settings weaken them.
//
// # What this package must NOT do
//
//   - Touch the store. The report is computed from configuration only.
package security
