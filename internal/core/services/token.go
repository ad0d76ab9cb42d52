package services

import (
	"errors"
	"fmt"
	"time"

	"eventbuddy/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

var ErrTokenExpired = fmt.Errorf("%w: token has expired", domain.ErrUnauthenticated)

// Claims carries the principal in the registered "sub" claim.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

type TokenService struct {
	secretKey []byte
	issuer    string
	validity  time.Duration
}

func NewTokenService(secret, issuer string, validity time.Duration) *TokenService {
	if validity <= 0 {
		validity = 24 * time.Hour
	}
	return &TokenService{
		secretKey: []byte(secret),
		issuer:    issuer,
		validity:  validity,
	}
}

// GenerateToken issues a session token. Issuance belongs to the upstream identity
// service; this is used by tests and local tooling.
func (s *TokenService) GenerateToken(principal string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.validity)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secretKey)
}

// ValidateToken parses and validates the JWT string and returns the principal.
func (s *TokenService) ValidateToken(tokenStr string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		// Ensure signing method is HMAC
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	}, jwt.WithIssuer(s.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", fmt.Errorf("%w: invalid token", domain.ErrUnauthenticated)
	}
	if !token.Valid || claims.Subject == "" {
		return "", domain.ErrMissingPrincipal
	}
	return claims.Subject, nil
}
