package remote

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource supplies the session credential attached to every
// authenticated call. Implementations must be safe for concurrent use.
type TokenSource interface {
	// Token returns the current bearer token, or "" when no session exists.
	Token() string
}

// StaticToken is a TokenSource for a fixed credential, mainly for tests
// and the CLI.
type StaticToken string

func (t StaticToken) Token() string { return string(t) }

// RotatingToken is a TokenSource the client refreshes in place when the
// storefront rotates the session via the Cart-Session response header.
type RotatingToken struct {
	mu      sync.RWMutex
	token   string
	expires time.Time
}

// NewRotatingToken seeds a rotating source with an initial credential.
func NewRotatingToken(token string) *RotatingToken {
	return &RotatingToken{token: token}
}

func (r *RotatingToken) Token() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.token
}

// Set replaces the credential. A zero expiry means "not stated".
func (r *RotatingToken) Set(token string, expires time.Time) {
	r.mu.Lock()
	r.token = token
	r.expires = expires
	r.mu.Unlock()
}

// Expires returns the server-stated expiry, zero if unknown.
func (r *RotatingToken) Expires() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.expires
}

// tokenExpired reports whether a bearer token is a JWT whose exp claim
// has already passed. Non-JWT tokens and JWTs without exp pass the
// check; the server remains the authority either way. This only exists
// to skip a round trip that is guaranteed to come back 401.
//
// The token is parsed WITHOUT signature verification: the client never
// trusts claims for authorization, only for this latency optimization.
func tokenExpired(token string, now time.Time) bool {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(now)
}
