// Package identity issues and verifies the bearer tokens that tell the
// service who is calling and with which role. Credentials are checked by
// whoever issues the token, never here.
package identity

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/zombor/receipt-flow/internal/document"
)

var (
	ErrMissingToken = errors.New("no bearer token provided")
	ErrInvalidToken = errors.New("invalid or expired token")
)

const issuer = "receipt-flow"

// Claims carried by a session token. The subject is the user ID.
type Claims struct {
	Name string `json:"name,omitempty"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWT signs and verifies HS256 session tokens
type JWT struct {
	secret []byte
	now    func() time.Time
}

// NewJWT creates a JWT provider using secret as the HMAC key
func NewJWT(secret string) (*JWT, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("jwt secret must be at least 16 bytes")
	}
	return &JWT{secret: []byte(secret), now: time.Now}, nil
}

// Issue signs a token for the given identity valid for ttl
func (j *JWT) Issue(id document.Identity, ttl time.Duration) (string, error) {
	if id.UserID == "" {
		return "", fmt.Errorf("user id is required")
	}
	if _, err := document.ParseRole(string(id.Role)); err != nil {
		return "", err
	}

	now := j.now()
	claims := Claims{
		Name: id.Name,
		Role: string(id.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify parses a token and returns the identity it carries
func (j *JWT) Verify(token string) (document.Identity, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return j.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(j.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil || !parsed.Valid {
		return document.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return document.Identity{}, fmt.Errorf("%w: subject claim is missing", ErrInvalidToken)
	}
	role, err := document.ParseRole(claims.Role)
	if err != nil {
		return document.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	return document.Identity{UserID: claims.Subject, Name: claims.Name, Role: role}, nil
}

// Authenticate reads the bearer token from the Authorization header
func (j *JWT) Authenticate(r *http.Request) (document.Identity, error) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return document.Identity{}, ErrMissingToken
	}
	token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	if token == "" {
		return document.Identity{}, ErrMissingToken
	}
	return j.Verify(token)
}
