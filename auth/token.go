package auth

import (
	"fmt"
	"time"

	"hire-chat/domain"
	"hire-chat/errors"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "hire-chat"

// CustomClaims defines the structure of the data stored inside the JWT.
type CustomClaims struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Tokens validates identity tokens issued by the job board with a shared HS256 secret.
type Tokens struct {
	key []byte
}

func NewTokens(secret string) Tokens {
	return Tokens{key: []byte(secret)}
}

// Generate creates a signed JWT for a specific user.
// Issuance belongs to the job board; this is used by tooling and tests.
func (t Tokens) Generate(userID domain.UserID, roles []string, duration time.Duration) (string, error) {
	now := time.Now()
	claims := &CustomClaims{
		UserID: string(userID),
		Roles:  roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
}

// Validate parses and validates the signature and expiration of a JWT string.
func (t Tokens) Validate(tokenString string) (domain.UserID, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		return t.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("%w: %s", errors.ErrUnauthenticated, err.Error())
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return "", errors.ErrUnauthenticated
	}
	return domain.UserID(claims.UserID), nil
}
