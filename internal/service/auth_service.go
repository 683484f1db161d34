package service

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/windfall/francoflex_service/internal/client"
	"github.com/windfall/francoflex_service/internal/errors"
)

// AnonymousUserID is the caller identity when token auth is disabled.
const AnonymousUserID = client.DefaultSpeakerID

// AuthService verifies bearer tokens issued by the learner app.
type AuthService struct {
	jwtSecret []byte
}

// NewAuthService creates a new AuthService. An empty secret disables token
// checks and every caller is AnonymousUserID.
func NewAuthService(jwtSecret string) *AuthService {
	return &AuthService{
		jwtSecret: []byte(jwtSecret),
	}
}

// Enabled reports whether tokens are required.
func (s *AuthService) Enabled() bool {
	return len(s.jwtSecret) > 0
}

// ValidateToken parses and validates an HS256 token, returning its subject.
func (s *AuthService) ValidateToken(tokenString string) (string, error) {
	if !s.Enabled() {
		return AnonymousUserID, nil
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", errors.Wrap(errors.ErrUnauthorized, "invalid or expired token", err)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.Unauthorized("token has no subject")
	}
	return sub, nil
}

// IssueToken signs a token for userID valid for ttl.
func (s *AuthService) IssueToken(userID string, ttl time.Duration) (string, error) {
	if !s.Enabled() {
		return "", errors.Internal("token signing is not configured")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}
