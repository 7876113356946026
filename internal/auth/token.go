// Package auth verifies the HMAC-signed access tokens the edge issues.
// Tokens are two base64url segments: claims JSON and an HMAC-SHA256 tag.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/fixline/backend/internal/errs"
)

// Role is the caller's marketplace role.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

// Claims is the verified identity attached to a request or socket session.
type Claims struct {
	UserID    string `json:"user_id"`
	Role      Role   `json:"role"`
	ProfileID string `json:"profile_id,omitempty"` // provider profile when role is provider
	ExpiresAt int64  `json:"exp"`
}

// Verifier checks token signatures. A previous secret may be set to keep
// tokens valid across a rotation.
type Verifier struct {
	secret     []byte
	prevSecret []byte
	now        func() time.Time
}

func NewVerifier(secret, prevSecret string) *Verifier {
	v := &Verifier{secret: []byte(secret), now: time.Now}
	if prevSecret != "" {
		v.prevSecret = []byte(prevSecret)
	}
	return v
}

// Verify parses and authenticates a token, returning its claims.
func (v *Verifier) Verify(token string) (*Claims, error) {
	const op = "auth.Verify"

	body, tag, ok := strings.Cut(token, ".")
	if !ok {
		return nil, errs.E(errs.KindUnauthorized, op, "malformed token")
	}

	rawBody, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return nil, errs.E(errs.KindUnauthorized, op, "malformed token body")
	}
	rawTag, err := base64.RawURLEncoding.DecodeString(tag)
	if err != nil {
		return nil, errs.E(errs.KindUnauthorized, op, "malformed token signature")
	}

	if !v.tagValid(rawBody, rawTag) {
		return nil, errs.E(errs.KindUnauthorized, op, "bad token signature")
	}

	var claims Claims
	if err := json.Unmarshal(rawBody, &claims); err != nil {
		return nil, errs.E(errs.KindUnauthorized, op, "unreadable claims")
	}
	if claims.ExpiresAt > 0 && v.now().Unix() >= claims.ExpiresAt {
		return nil, errs.E(errs.KindUnauthorized, op, "token expired")
	}
	if claims.UserID == "" || claims.Role == "" {
		return nil, errs.E(errs.KindUnauthorized, op, "incomplete claims")
	}
	return &claims, nil
}

func (v *Verifier) tagValid(body, tag []byte) bool {
	if hmac.Equal(tag, sign(v.secret, body)) {
		return true
	}
	return v.prevSecret != nil && hmac.Equal(tag, sign(v.prevSecret, body))
}

// Mint signs claims into a token. The service only verifies in production;
// minting exists for tests and local tooling.
func Mint(secret string, claims Claims) (string, error) {
	body, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	tag := sign([]byte(secret), body)
	return base64.RawURLEncoding.EncodeToString(body) + "." + base64.RawURLEncoding.EncodeToString(tag), nil
}

func sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}
