// Package auth provides bearer token verification helpers.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("token is invalid")
	ErrExpiredToken = errors.New("token has expired")
)

// Verifier validates bearer tokens and extracts requester/role claims.
// Supports modes: dev (no verify, "requester:role") and hmac (HS256 JWT).
type Verifier struct {
	Mode       string
	HMACSecret []byte
	UserClaim  string
	RoleClaim  string
}

type Principal struct {
	Requester string
	Role      string
}

func NewVerifier(mode, secret, userClaim, roleClaim string) *Verifier {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = "dev"
	}
	if userClaim == "" {
		userClaim = "sub"
	}
	if roleClaim == "" {
		roleClaim = "role"
	}
	return &Verifier{Mode: mode, HMACSecret: []byte(secret), UserClaim: userClaim, RoleClaim: roleClaim}
}

func (v *Verifier) Verify(token string) (Principal, error) {
	switch v.Mode {
	case "dev":
		// token format: requester:role
		requester, role, ok := strings.Cut(token, ":")
		if !ok || requester == "" || role == "" {
			return Principal{}, errors.New("invalid dev token; expected requester:role")
		}
		return Principal{Requester: requester, Role: strings.ToLower(role)}, nil
	case "hmac":
		return v.verifyHMAC(token)
	default:
		return Principal{}, fmt.Errorf("unsupported auth mode %q", v.Mode)
	}
}

func (v *Verifier) verifyHMAC(token string) (Principal, error) {
	keyFunc := func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.HMACSecret, nil
	}
	parsed, err := jwt.Parse(token, keyFunc, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, ErrExpiredToken
		}
		return Principal{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Principal{}, ErrInvalidToken
	}
	requester, _ := claims[v.UserClaim].(string)
	role, _ := claims[v.RoleClaim].(string)
	if requester == "" {
		return Principal{}, fmt.Errorf("%w: missing %s claim", ErrInvalidToken, v.UserClaim)
	}
	if role == "" {
		role = "user"
	}
	return Principal{Requester: requester, Role: strings.ToLower(role)}, nil
}

// Sign issues an HS256 token for p. Used by tooling and tests.
func (v *Verifier) Sign(p Principal, extra jwt.MapClaims) (string, error) {
	claims := jwt.MapClaims{v.UserClaim: p.Requester, v.RoleClaim: p.Role}
	for k, val := range extra {
		claims[k] = val
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.HMACSecret)
}
