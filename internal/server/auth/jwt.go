// Package auth issues and verifies the session tokens that bind a request to
// an account and a device session.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/dirkeeper/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the account and the device session a token was issued for.
type Claims struct {
	jwt.RegisteredClaims
	UserID    string
	SessionID string
}

func GenerateToken(userID, sessionID string, secretKey []byte, validity time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
		},
		UserID:    userID,
		SessionID: sessionID,
	})

	return token.SignedString(secretKey)
}

// ParseToken verifies the signature and expiry. Expired tokens yield
// common.ErrTokenExpired; every other failure wraps common.ErrInvalidToken.
func ParseToken(tokenString string, secretKey []byte) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserID == "" || claims.SessionID == "" {
		return nil, common.ErrInvalidToken
	}

	return claims, nil
}
