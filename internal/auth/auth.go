// Package auth turns a local identity into the credential presented when the
// realtime channel connects, and verifies such credentials on the relay side.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/omochice/cipherchat/pkg/protocol"
)

var ErrInvalidCredential = errors.New("invalid credential")

// Credentials issues the token presented for an identity.
type Credentials interface {
	Token(identity protocol.Identity) (string, error)
}

// Verifier resolves a presented token back to an identity.
type Verifier interface {
	Verify(token string) (protocol.Identity, error)
}

// Scheme is both sides of one credential format.
type Scheme interface {
	Credentials
	Verifier
}

// New returns JWT when a secret is configured and Plain otherwise.
func New(secret string, ttl time.Duration) Scheme {
	if secret == "" {
		return Plain{}
	}
	return &JWT{Secret: []byte(secret), TTL: ttl}
}

// Plain presents the identity id itself.
type Plain struct{}

func (Plain) Token(identity protocol.Identity) (string, error) {
	if identity.ID == "" {
		return "", fmt.Errorf("%w: empty identity id", ErrInvalidCredential)
	}
	return identity.ID, nil
}

func (Plain) Verify(token string) (protocol.Identity, error) {
	if token == "" {
		return protocol.Identity{}, fmt.Errorf("%w: empty token", ErrInvalidCredential)
	}
	return protocol.Identity{ID: token, Name: token}, nil
}

// Claims carried by a JWT credential.
type Claims struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Image  string `json:"image,omitempty"`
	jwt.RegisteredClaims
}

// JWT issues and verifies HS256 tokens.
type JWT struct {
	Secret []byte
	TTL    time.Duration
	Issuer string
	now    func() time.Time
}

func (j *JWT) Token(identity protocol.Identity) (string, error) {
	if identity.ID == "" {
		return "", fmt.Errorf("%w: empty identity id", ErrInvalidCredential)
	}

	now := time.Now()
	if j.now != nil {
		now = j.now()
	}
	claims := Claims{
		UserID: identity.ID,
		Name:   identity.Name,
		Image:  identity.Image,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  identity.ID,
			Issuer:   j.Issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if j.TTL > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(j.TTL))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.Secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (j *JWT) Verify(token string) (protocol.Identity, error) {
	var claims Claims
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if j.now != nil {
		opts = append(opts, jwt.WithTimeFunc(j.now))
	}
	if j.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.Issuer))
	}

	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return j.Secret, nil
	}, opts...)
	if err != nil {
		return protocol.Identity{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if claims.UserID == "" {
		return protocol.Identity{}, fmt.Errorf("%w: missing user_id", ErrInvalidCredential)
	}
	return protocol.Identity{ID: claims.UserID, Name: claims.Name, Image: claims.Image}, nil
}
