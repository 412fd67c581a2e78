package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Lynt445/ticket-system/internal/models"
)

// ClaimsFromJWT extracts (userID, role) from a JWT whose signature has
// already been verified upstream (gateway or OIDC middleware). Used for
// machine-to-machine calls that bypass the interactive middleware.
func ClaimsFromJWT(tokenString string) (string, models.Role, error) {
	if tokenString == "" {
		return "", models.RoleGuest, errors.New("empty token")
	}

	token, _, err := new(jwt.Parser).ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return "", models.RoleGuest, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", models.RoleGuest, errors.New("invalid token claims")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", models.RoleGuest, errors.New("subject claim not found in token")
	}

	roleClaim, _ := claims["role"].(string)
	return sub, models.ParseRole(roleClaim), nil
}
