// Package auth validates bearer tokens issued by the external identity
// provider and extracts the caller's identity and permissions from them.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the validated claim set of an access token.
type Claims struct {
	jwt.RegisteredClaims
	Name        string   `json:"name,omitempty"`
	Email       string   `json:"email,omitempty"`
	GrantType   string   `json:"gty,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Scope       string   `json:"scope,omitempty"`
}

var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrExpiredToken   = errors.New("expired token")
	ErrMissingSubject = errors.New("missing user sub")
	ErrMachineToken   = errors.New("machine tokens are not allowed")
)

// machineSubjectSuffix marks client-credentials subjects minted by the
// identity provider for machine clients.
const machineSubjectSuffix = "@clients"

// ParseToken verifies signature, lifetime, issuer and audience, and returns
// the claim set. Token issuance belongs to the identity provider; this
// service only validates.
func ParseToken(secret []byte, issuer, audience, token string) (Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// IssueToken signs a claim set with the shared secret. Used by local tooling
// and tests; production tokens come from the identity provider.
func IssueToken(secret []byte, claims Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// UserSubject returns the caller's subject identifier, failing when the
// claim is absent or blank.
func (c Claims) UserSubject() (string, error) {
	sub := strings.TrimSpace(c.Subject)
	if sub == "" {
		return "", ErrMissingSubject
	}
	return sub, nil
}

// PersonalSubject is UserSubject plus a machine-token gate: tokens obtained
// via client-credentials, or whose subject carries the machine suffix, may
// never own personal resources.
func (c Claims) PersonalSubject() (string, error) {
	sub, err := c.UserSubject()
	if err != nil {
		return "", err
	}
	if strings.EqualFold(c.GrantType, "client-credentials") ||
		strings.HasSuffix(strings.ToLower(sub), machineSubjectSuffix) {
		return "", ErrMachineToken
	}
	return sub, nil
}

// HasPermission reports whether the token grants a permission, either via
// the permissions claim array or the space-separated scope claim.
func (c Claims) HasPermission(permission string) bool {
	for _, p := range c.Permissions {
		if p == permission {
			return true
		}
	}
	for _, s := range strings.Fields(c.Scope) {
		if s == permission {
			return true
		}
	}
	return false
}

// NewClaims builds a claim set for IssueToken with the given lifetime.
func NewClaims(sub, issuer, audience string, ttl time.Duration) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}
