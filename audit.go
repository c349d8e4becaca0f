package authguard

import (
	"context"
	"io"

	"github.com/MrEthical07/authguard/internal/audit"
)

// AuditEvent is one structured audit record.
type AuditEvent = audit.Event

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink = audit.Sink

type (
	NoOpSink       = audit.NoOpSink
	ChannelSink    = audit.ChannelSink
	JSONWriterSink = audit.JSONWriterSink
)

func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// Audit event types.
const (
	AuditRateLimited      = "rate_limited"
	AuditLockoutTriggered = "lockout_triggered"
	AuditIPWhitelisted    = "ip_whitelisted"
	AuditIPUnwhitelisted  = "ip_unwhitelisted"
	AuditIPBlacklisted    = "ip_blacklisted"
	AuditIPUnlocked       = "ip_unlocked"
	AuditStoreUnavailable = "store_unavailable"
)

func (s *Service) emitAudit(ctx context.Context, ev AuditEvent) {
	if s.audit == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now().UTC()
	}
	s.audit.Emit(ctx, ev)
}
