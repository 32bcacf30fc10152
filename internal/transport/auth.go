package transport

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// TokenValidator decides whether a connection attempt may be upgraded. It is
// consulted before the websocket handshake completes.
type TokenValidator interface {
	Validate(token string) bool
}

// AllowAll accepts every connection. Used when no auth token is configured.
type AllowAll struct{}

func (AllowAll) Validate(string) bool { return true }

// StaticToken matches a single shared bearer token in constant time.
type StaticToken string

func (t StaticToken) Validate(token string) bool {
	return subtle.ConstantTimeCompare([]byte(t), []byte(token)) == 1
}

// JWTValidator accepts HS256-signed bearer tokens carrying a subject claim.
// Expiry is enforced by the parser; tokens without a subject are rejected.
type JWTValidator struct {
	secret []byte
}

func NewJWTValidator(secret string) *JWTValidator {
	return &JWTValidator{secret: []byte(secret)}
}

func (v *JWTValidator) Validate(token string) bool {
	if token == "" {
		return false
	}
	parsed, err := jwt.Parse(token, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return false
	}
	sub, err := parsed.Claims.GetSubject()
	return err == nil && sub != ""
}

// bearerToken extracts the client token from the Authorization header or,
// for browser clients that cannot set headers on websocket dials, from the
// token query parameter.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if after, ok := strings.CutPrefix(h, "Bearer "); ok {
			return after
		}
		return h
	}
	return r.URL.Query().Get("token")
}
