package tokens

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ExpiresAt reports the exp claim of the current access token. The signature is not
// verified: the gateway only forwards the token, the backend is the verifier. Opaque
// tokens report false.
func (s *Store) ExpiresAt(ctx context.Context) (time.Time, bool) {
	pair, ok := s.Current(ctx)
	if !ok {
		return time.Time{}, false
	}
	return accessTokenExpiry(pair.AccessToken)
}

// ExpiringWithin reports whether the current access token expires within d.
func (s *Store) ExpiringWithin(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return false
	}
	exp, ok := s.ExpiresAt(ctx)
	if !ok {
		return false
	}
	return time.Until(exp) < d
}

func accessTokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
