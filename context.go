package authguard

import "context"

type clientIPContextKey struct{}
type userIDContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. HTTP middleware
// sets it so handlers can hand it to CheckRateLimit and RecordSuccess.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserID attaches the authenticated or claimed user to ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey{}, userID)
}

// ClientIPFromContext returns the IP set by WithClientIP, or "".
func ClientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

// UserIDFromContext returns the user set by WithUserID, or "".
func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	userID, _ := ctx.Value(userIDContextKey{}).(string)
	return userID
}
