package main

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

func parseToken(authHeader string) (*jwt.Token, error) {
	index := strings.Index(authHeader, "Bearer ")
	if index == 0 {
		authHeader = authHeader[len("Bearer "):]
	}

	// Parse the auth token
	token, _, err := new(jwt.Parser).ParseUnverified(authHeader, jwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	return token, nil
}

func getClaim(token *jwt.Token, name string) (string, error) {
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("%s claim not found", name)
	}

	// Extract the claim from the token payload
	raw := claims[name]
	if raw == nil {
		return "", fmt.Errorf("invalid %s value", name)
	}

	value, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%s not a valid string", name)
	}
	return value, nil
}

// getSubject returns the token's subject, the patient or user it was issued for.
func getSubject(token *jwt.Token) (string, error) {
	return getClaim(token, "sub")
}
