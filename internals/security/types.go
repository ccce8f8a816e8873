package security

import "github.com/golang-jwt/jwt/v5"

type RequestClaims struct {
	UserID  string `json:"sub"`
	UserKey string `json:"user_key"`
	jwt.RegisteredClaims
}
