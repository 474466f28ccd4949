package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	uuid "github.com/google/uuid"
)

var (
	// ErrInvalidToken indicates the bearer token failed signature or claim validation.
	ErrInvalidToken = errors.New("jwt: invalid token")
	// ErrExpiredToken indicates the bearer token is past its expiry.
	ErrExpiredToken = errors.New("jwt: token expired")
	// ErrSecretMissing indicates the verifier has no signing secret.
	ErrSecretMissing = errors.New("jwt: signing secret not configured")
)

// AdminClaims carries the caller identity for the admin API.
type AdminClaims struct {
	Role  string   `json:"role,omitempty"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the subject of the token.
func (c *AdminClaims) UserID() string {
	if c == nil {
		return ""
	}
	return c.Subject
}

// AllRoles merges the single role claim with the roles array, deduplicated.
func (c *AdminClaims) AllRoles() []string {
	if c == nil {
		return nil
	}
	input := make([]string, 0, len(c.Roles)+1)
	if c.Role != "" {
		input = append(input, c.Role)
	}
	input = append(input, c.Roles...)
	return normalizeRoles(input)
}

// TokenVerifier validates HS256 bearer tokens.
type TokenVerifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewTokenVerifier builds a verifier for the shared secret. An empty issuer disables the issuer check.
func NewTokenVerifier(secret, issuer string) *TokenVerifier {
	return &TokenVerifier{
		secret: []byte(secret),
		issuer: strings.TrimSpace(issuer),
		now:    time.Now,
	}
}

// WithClock overrides the verifier clock for deterministic testing.
func (v *TokenVerifier) WithClock(now func() time.Time) *TokenVerifier {
	if now != nil {
		v.now = now
	}
	return v
}

// Parse verifies the token and returns its claims.
func (v *TokenVerifier) Parse(raw string) (*AdminClaims, error) {
	if len(v.secret) == 0 {
		return nil, ErrSecretMissing
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &AdminClaims{}
	token, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// Sign issues an HS256 token for subject with the given role. Used by local tooling and tests.
func (v *TokenVerifier) Sign(subject, role string, ttl time.Duration) (string, error) {
	if len(v.secret) == 0 {
		return "", ErrSecretMissing
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	now := v.now().UTC()
	claims := &AdminClaims{
		Role: strings.TrimSpace(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strings.TrimSpace(subject),
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("jwt: sign token: %w", err)
	}
	return signed, nil
}

func normalizeRoles(input []string) []string {
	if len(input) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(input))
	result := make([]string, 0, len(input))
	for _, role := range input {
		role = strings.TrimSpace(role)
		if role == "" {
			continue
		}
		if _, exists := seen[role]; exists {
			continue
		}
		seen[role] = struct{}{}
		result = append(result, role)
	}

	if len(result) == 0 {
		return nil
	}

	return result
}
