package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tasktrail.org/internal/ids"
)

const (
	DefaultIssuer   = "tasktrail"
	DefaultTokenTTL = 24 * time.Hour

	// allowed skew when checking issued-at
	clockSkew = 5 * time.Second
)

// Claims is the signed identity carried by bearer tokens.
type Claims struct {
	Email          string `json:"email"`
	Role           Role   `json:"role"`
	OrganizationID string `json:"organizationId"`
	jwt.RegisteredClaims
}

// Identity converts verified claims into a caller identity. The boundary
// still re-hydrates the user before trusting role and organization.
func (c *Claims) Identity() *Identity {
	return &Identity{UserID: c.Subject, Email: c.Email, Role: c.Role, OrganizationID: c.OrganizationID}
}

// TokenSigner issues and verifies HS256 tokens.
type TokenSigner struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// SignerOption configures a TokenSigner.
type SignerOption func(*TokenSigner)

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) SignerOption {
	return func(s *TokenSigner) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			s.issuer = issuer
		}
	}
}

// WithTTL configures token lifetime.
func WithTTL(ttl time.Duration) SignerOption {
	return func(s *TokenSigner) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithSignerClock overrides the time source.
func WithSignerClock(fn func() time.Time) SignerOption {
	return func(s *TokenSigner) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewTokenSigner returns a signer keyed by secret.
func NewTokenSigner(secret string, opts ...SignerOption) (*TokenSigner, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth: token secret is not configured")
	}
	s := &TokenSigner{
		secret: []byte(secret),
		issuer: DefaultIssuer,
		ttl:    DefaultTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue signs a token for u and returns it with its expiry.
func (s *TokenSigner) Issue(u *User) (string, time.Time, error) {
	if u == nil || strings.TrimSpace(u.ID) == "" {
		return "", time.Time{}, errors.New("auth: user id is required")
	}
	now := s.now().UTC()
	expires := now.Add(s.ttl)
	claims := Claims{
		Email:          u.Email,
		Role:           u.Role,
		OrganizationID: u.OrganizationID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        ids.New(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// Parse verifies the signature, issuer and lifetime of token.
func (s *TokenSigner) Parse(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
		jwt.WithLeeway(clockSkew),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if err := s.validateClaims(claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *TokenSigner) validateClaims(claims *Claims) error {
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.IssuedAt == nil {
		return errors.New("issued-at missing")
	}
	if claims.IssuedAt.Time.After(s.now().Add(clockSkew)) {
		return errors.New("token issued in the future")
	}
	if !claims.Role.Valid() {
		return fmt.Errorf("unknown role %q", claims.Role)
	}
	return nil
}
