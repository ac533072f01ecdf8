package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrNoSubject    = errors.New("token has no subject")
)

// JWT signs and verifies HS256 tokens whose sub claim is the user id.
type JWT struct{ secret []byte }

func New(secret string) *JWT { return &JWT{secret: []byte(secret)} }

// Verify checks tok and returns its sub claim.
func (j *JWT) Verify(tok string) (string, error) {
	claims := jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tok, &claims, func(*jwt.Token) (any, error) {
		return j.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("verify token: %w", err)
	}
	if claims.Subject == "" {
		return "", ErrNoSubject
	}
	return claims.Subject, nil
}

// Sign issues a token for userID valid for ttl.
func (j *JWT) Sign(userID string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", ErrNoSubject
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

// FromRequest takes the token from an "Authorization: Bearer" header, or from
// the token query parameter since browsers cannot set headers on a socket
// upgrade.
func FromRequest(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		tok, ok := strings.CutPrefix(h, "Bearer ")
		if !ok || strings.TrimSpace(tok) == "" {
			return "", ErrMissingToken
		}
		return strings.TrimSpace(tok), nil
	}
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok, nil
	}
	return "", ErrMissingToken
}

// RequestVerifier authenticates HTTP requests with a JWT.
type RequestVerifier struct{ JWT *JWT }

func (v RequestVerifier) Verify(r *http.Request) (string, error) {
	tok, err := FromRequest(r)
	if err != nil {
		return "", err
	}
	return v.JWT.Verify(tok)
}
