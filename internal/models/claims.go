package models

import "github.com/golang-jwt/jwt/v5"

// UserClaims is the payload of an access token
type UserClaims struct {
	UserID string   `json:"uid"`
	Roles  []string `json:"roles"`
	jwt.RegisteredClaims
}
