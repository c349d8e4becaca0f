package middleware

import (
	"net/http"

	"github.com/golang-jwt/jwt/v5"
)

// SubjectFromBearer returns a WithUserFunc extractor that verifies the
// request's bearer token with keyFunc and yields its "sub" claim. A missing
// or invalid token yields "", so the request is limited by IP only.
func SubjectFromBearer(keyFunc jwt.Keyfunc, opts ...jwt.ParserOption) func(*http.Request) string {
	parser := jwt.NewParser(opts...)
	return func(r *http.Request) string {
		raw, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			return ""
		}
		claims := &jwt.RegisteredClaims{}
		token, err := parser.ParseWithClaims(raw, claims, keyFunc)
		if err != nil || !token.Valid {
			return ""
		}
		return claims.Subject
	}
}
