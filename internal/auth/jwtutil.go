package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	b64 = base64.RawURLEncoding

	ErrMalformedToken = errors.New("invalid token format")
	ErrBadSignature   = errors.New("signature mismatch")
	ErrTokenExpired   = errors.New("token expired")
)

// Claims carried by access and refresh tokens.
type Claims struct {
	Subject  string `json:"sub"`
	Username string `json:"usr"`
	Role     string `json:"role"`
	Version  int    `json:"ver"`
	IssuedAt int64  `json:"iat"`
	Expires  int64  `json:"exp"`
}

// Expired reports whether the claims are past their expiry at now.
func (c Claims) Expired(now time.Time) bool {
	return c.Expires != 0 && now.Unix() >= c.Expires
}

// SignHS256 creates a compact JWT string using HS256.
func SignHS256(claims Claims, secret []byte) (string, error) {
	h, err := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	if err != nil {
		return "", err
	}
	c, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	unsigned := b64.EncodeToString(h) + "." + b64.EncodeToString(c)
	return unsigned + "." + b64.EncodeToString(sign(unsigned, secret)), nil
}

// ParseAndVerifyHS256 verifies the token signature and expiry and returns its claims.
func ParseAndVerifyHS256(token string, secret []byte, now time.Time) (Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Claims{}, ErrMalformedToken
	}
	sig, err := b64.DecodeString(parts[2])
	if err != nil {
		return Claims{}, ErrMalformedToken
	}
	if !hmac.Equal(sig, sign(parts[0]+"."+parts[1], secret)) {
		return Claims{}, ErrBadSignature
	}
	payload, err := b64.DecodeString(parts[1])
	if err != nil {
		return Claims{}, ErrMalformedToken
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Claims{}, ErrMalformedToken
	}
	if claims.Expired(now) {
		return Claims{}, ErrTokenExpired
	}
	return claims, nil
}

func sign(unsigned string, secret []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(unsigned))
	return mac.Sum(nil)
}
