// Package rate provides the store-side rate limiting primitives of the engine:
// the sliding-window [WindowCounter] and the token-bucket [BurstController].
//
// # Window semantics
//
// Sliding windows live in Redis sorted sets scored by millisecond timestamps.
// Trim, count, and the conditional add run inside one Lua script so two
// concurrent requests can never both observe count < max and overshoot the
// limit. Entries scored at or before now-window are trimmed, which makes a
// request arriving exactly one window after the oldest entry admissible.
//
// # Burst semantics
//
// Buckets are Redis hashes {tokens, ts} refilled at one token per second up
// to the burst size and expiring five minutes after the last consume.
//
// # What this package must NOT do
//
//   - Know about limit types, scopes, or policies (keys arrive fully built).
//   - Apply progressive penalties or lockouts (internal/limiters, facade).
//   - Be imported outside the authguard module.
package rate
