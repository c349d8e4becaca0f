// Package backend owns the pieces every store-facing component shares: the
// Redis key layout and the circuit-breaking [Guard] that wraps each round trip.
//
// # Architecture boundaries
//
// Callers hand [Guard.Do] a closure performing exactly one logical store
// operation (a single command, pipeline, or Lua script). The guard classifies
// the outcome: redis.Nil and context errors pass through untouched, everything
// else becomes [ErrUnavailable].
//
// # What this package must NOT do
//
//   - Retry. Transient retries belong to the go-redis client (MaxRetries).
//   - Decide allow/deny. Fail-open versus fail-closed is a facade decision.
//   - Import authguard or any sibling internal package.
package backend
