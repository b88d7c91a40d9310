package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/KromaEnergia/contract-engine/internal/tenancy"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims carry the acting user as issued by the identity service.
type Claims struct {
	TenantID string   `json:"tenantId"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

func (c *Claims) User() tenancy.ActingUser {
	return tenancy.ActingUser{ID: c.Subject, TenantID: c.TenantID, Roles: c.Roles}
}

const AccessTTL = 15 * time.Minute

// Issue signs an RS256 token with kid, iss, aud, iat, nbf and jti.
func (k *Keys) Issue(user tenancy.ActingUser, now time.Time, ttl time.Duration) (string, error) {
	if k.Private == nil {
		return "", errors.New("private key not loaded (check AUTH_RSA_PRIVATE_PATH and file permissions)")
	}
	if user.ID == "" || user.TenantID == "" {
		return "", errors.New("user and tenant are required")
	}
	if ttl <= 0 {
		ttl = AccessTTL
	}
	claims := &Claims{
		TenantID: user.TenantID,
		Roles:    user.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    k.Issuer,
			Audience:  []string{k.Audience},
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-1 * time.Minute)),
			ID:        uuid.NewString(),
		},
	}
	tok := jwt.NewWithClaims(signMethod(), claims)
	tok.Header["kid"] = k.ActiveKID
	return tok.SignedString(k.Private)
}

// Verify checks signature, iss, aud and exp as of now.
func (k *Keys) Verify(tokenStr string, now time.Time) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(k.Issuer),
		jwt.WithAudience(k.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	tok, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		pub, ok := k.pub(kid)
		if !ok {
			return nil, fmt.Errorf("unknown kid %q", kid)
		}
		return pub, nil
	})
	if err != nil {
		return nil, err
	}
	c, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, errors.New("invalid claims")
	}
	if c.Subject == "" || c.TenantID == "" {
		return nil, errors.New("token has no subject or tenant")
	}
	if !slices.Contains(c.Audience, k.Audience) {
		return nil, errors.New("invalid audience")
	}
	return c, nil
}
