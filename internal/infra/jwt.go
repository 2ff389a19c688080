// README: HS256 JWT verifier used when Firebase auth is not configured.
package infra

import (
	"context"
	"errors"

	jwt "github.com/golang-jwt/jwt/v5"
)

type jwtClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type jwtVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) (TokenVerifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	return &jwtVerifier{secret: []byte(secret)}, nil
}

func (v *jwtVerifier) VerifyIDToken(_ context.Context, raw string) (*VerifiedToken, error) {
	tok, err := jwt.ParseWithClaims(raw, &jwtClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil || !tok.Valid {
		if err == nil {
			err = errors.New("invalid token")
		}
		return nil, err
	}
	c, _ := tok.Claims.(*jwtClaims)
	if c == nil || c.Subject == "" {
		return nil, errors.New("invalid claims")
	}
	claims := map[string]interface{}{}
	if c.Role != "" {
		claims["role"] = c.Role
	}
	return &VerifiedToken{UID: c.Subject, Claims: claims}, nil
}
