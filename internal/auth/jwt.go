package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
)

// RoleClient is the role carried by tokens issued to translation sessions
const RoleClient = "client"

// DefaultTokenTTL is how long an issued token stays valid
const DefaultTokenTTL = 24 * time.Hour

var (
	// ErrMissingSecret is returned when no signing secret is configured
	ErrMissingSecret = errors.New("jwt secret is required")
	// ErrInvalidRole is returned for tokens not issued to a client
	ErrInvalidRole = errors.New("token role is not allowed")
)

// JWTClaims represents the claims in our JWT token
type JWTClaims struct {
	ClientID string `json:"client_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Signer issues and validates HS256 tokens with one shared secret
type Signer struct {
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
}

// NewSigner creates a signer. ttl <= 0 uses DefaultTokenTTL.
func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Signer{
		secret: []byte(secret),
		ttl:    ttl,
		clock:  clock.New(),
	}, nil
}

// Issue generates a client token and returns it with its expiry
func (s *Signer) Issue(clientID string) (string, time.Time, error) {
	now := s.clock.Now()
	expiresAt := now.Add(s.ttl)
	claims := &JWTClaims{
		ClientID: clientID,
		Role:     RoleClient,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Validate validates a JWT token and returns the claims
func (s *Signer) Validate(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrInvalidKey
	}
	if claims.Role != RoleClient {
		return nil, ErrInvalidRole
	}
	if claims.ClientID == "" {
		return nil, errors.New("client id not found in token")
	}
	return claims, nil
}
