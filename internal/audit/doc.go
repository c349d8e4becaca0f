// Package audit implements async dispatching for rate-limit decisions and
// abuse signals.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full / block-if-full semantics.
//   - [Event]: structured audit record with timestamp, type, limit type, IP, reason.
//
// # Architecture boundaries
//
// This package owns buffering and delivery. It does NOT decide which events
// to emit; the service facade does.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import authguard or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
