// Package auth issues anonymous player identities as HS256 tokens.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidSigningAlg = errors.New("unexpected signing method")
	ErrExpiredToken      = errors.New("token expired")
	ErrInvalidToken      = errors.New("invalid token")
	ErrTokenIssue        = errors.New("could not issue token")
)

const DefaultMaxAge = 7 * 24 * time.Hour

type playerClaims struct {
	UID string `json:"uid"`
	jwt.RegisteredClaims
}

type Issuer struct {
	secret []byte
	maxAge time.Duration
}

func NewIssuer(secret string, maxAge time.Duration) *Issuer {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Issuer{secret: []byte(secret), maxAge: maxAge}
}

// Anonymous mints a fresh uid and its token.
func (i *Issuer) Anonymous(now time.Time) (uid, token string, err error) {
	uid = uuid.NewString()
	token, err = i.Generate(uid, now)
	return uid, token, err
}

func (i *Issuer) Generate(uid string, now time.Time) (string, error) {
	claims := playerClaims{
		UID: uid,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.maxAge)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTokenIssue, err)
	}
	return signed, nil
}

// Verify returns the uid carried by token.
func (i *Issuer) Verify(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &playerClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSigningAlg
		}
		return i.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidSigningAlg):
			return "", err
		case errors.Is(err, jwt.ErrTokenExpired):
			return "", ErrExpiredToken
		default:
			return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
		}
	}
	if c, ok := parsed.Claims.(*playerClaims); ok && parsed.Valid && c.UID != "" {
		return c.UID, nil
	}
	return "", ErrInvalidToken
}
