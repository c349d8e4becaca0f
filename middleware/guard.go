package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/MrEthical07/authguard"
)

// Checker is the part of authguard.Service the middleware needs.
type Checker interface {
	CheckRateLimit(ctx context.Context, limitType authguard.LimitType, identifier, ip, userID string) (authguard.Decision, error)
}

type options struct {
	trustForwarded bool
	userFunc       func(*http.Request) string
	onDeny         func(http.ResponseWriter, *http.Request, authguard.Decision)
}

// Option configures RateLimit.
type Option func(*options)

// WithTrustedForwardedFor reads the client IP from the first
// X-Forwarded-For entry. Enable it only behind a proxy that sets the header.
func WithTrustedForwardedFor() Option {
	return func(o *options) { o.trustForwarded = true }
}

// WithUserFunc supplies the user scope for each request, for example
// SubjectFromBearer. An empty result means no user scope.
func WithUserFunc(fn func(*http.Request) string) Option {
	return func(o *options) { o.userFunc = fn }
}

// WithDenyHandler replaces the default 429 response. Retry-After is already
// set when it runs.
func WithDenyHandler(fn func(http.ResponseWriter, *http.Request, authguard.Decision)) Option {
	return func(o *options) { o.onDeny = fn }
}

// RateLimit guards next with one CheckRateLimit call per request.
//
// A DENY answers 429 with Retry-After. A DENY made without the store
// (fail-closed outage or cancelled request) answers 503. An ALLOW made
// without the store passes through. The client IP and user are stored in
// the request context for handlers that later call RecordSuccess.
func RateLimit(svc Checker, limitType authguard.LimitType, opts ...Option) func(http.Handler) http.Handler {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if svc == nil {
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			}

			ip := clientIP(r, o.trustForwarded)
			user := ""
			if o.userFunc != nil {
				user = o.userFunc(r)
			}
			identifier := user
			if identifier == "" {
				identifier = ip
			}

			d, err := svc.CheckRateLimit(r.Context(), limitType, identifier, ip, user)
			if !d.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfter))
				if err != nil {
					http.Error(w, "service unavailable", http.StatusServiceUnavailable)
					return
				}
				if o.onDeny != nil {
					o.onDeny(w, r, d)
					return
				}
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}

			ctx := authguard.WithClientIP(r.Context(), ip)
			if user != "" {
				ctx = authguard.WithUserID(ctx, user)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func clientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
