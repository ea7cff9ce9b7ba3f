package http

import (
	"fmt"
	"net/http"
	"strings"

	"battle-service/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// Authenticator verifies HS256 tokens whose subject is the connecting user.
// With an empty secret it trusts the userId query parameter (local development only).
type Authenticator struct {
	secret []byte
	issuer string
}

func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer}
}

// Enabled reports whether tokens are verified.
func (a *Authenticator) Enabled() bool {
	return len(a.secret) > 0
}

// Authenticate returns the verified user id of r.
func (a *Authenticator) Authenticate(r *http.Request) (string, error) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		return "", fmt.Errorf("%w: missing userId", domain.ErrUnauthorized)
	}
	if !a.Enabled() {
		return userID, nil
	}

	tokenString := tokenFromRequest(r)
	if tokenString == "" {
		return "", fmt.Errorf("%w: missing token", domain.ErrUnauthorized)
	}
	subject, err := a.Verify(tokenString)
	if err != nil {
		return "", err
	}
	if subject != userID {
		return "", fmt.Errorf("%w: token subject does not match userId", domain.ErrUnauthorized)
	}
	return userID, nil
}

// Verify checks signature and expiry and returns the sub claim.
func (a *Authenticator) Verify(tokenString string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	if !token.Valid {
		return "", fmt.Errorf("%w: invalid token", domain.ErrUnauthorized)
	}
	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", fmt.Errorf("%w: missing sub claim", domain.ErrUnauthorized)
	}
	return subject, nil
}

func tokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}
