// Package trust answers "is this IP whitelisted" and "is this IP suspicious"
// on the hot path.
//
// The Redis sets are authoritative. Each process keeps a short-lived
// read-through cache in front of them; administrative writes publish an
// invalidation message so peers drop their cached answer before it expires.
package trust
