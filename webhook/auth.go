package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Authenticator gates the outbound-facing DAO-creation webhook. The
// chainhook ingress endpoint is never gated: it is reachable only by the
// upstream chainhook service or the chain-state monitor's own replay, and
// malformed-payload rejection is the only access control it needs (§7).
type Authenticator interface {
	Middleware(next http.Handler) http.Handler
}

// NoopAuthenticator admits every request, used when config.WebhookConfig.Auth
// is unset or "none".
type NoopAuthenticator struct{}

// Middleware implements Authenticator.
func (NoopAuthenticator) Middleware(next http.Handler) http.Handler { return next }

// HMACAuthenticator verifies an X-Signature header against an HMAC-SHA256 of
// the request body, the same construction as the teacher's NowPayments
// webhook verifier.
type HMACAuthenticator struct {
	Secret string
	Header string
}

// NewHMACAuthenticator constructs an HMACAuthenticator, defaulting the
// signature header to X-Signature.
func NewHMACAuthenticator(secret string) *HMACAuthenticator {
	return &HMACAuthenticator{Secret: secret, Header: "X-Signature"}
}

// Middleware implements Authenticator.
func (a *HMACAuthenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}
		r.Body = io.NopCloser(strings.NewReader(string(body)))

		if !verifyHMAC(a.Secret, body, r.Header.Get(a.Header)) {
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func verifyHMAC(secret string, body []byte, provided string) bool {
	if strings.TrimSpace(secret) == "" {
		return true
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)
	cleaned := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(provided)), "0x")
	if cleaned == "" {
		return false
	}
	decoded, err := hex.DecodeString(cleaned)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, decoded)
}

// JWTAuthenticator requires a valid HS256 bearer token signed with Secret.
type JWTAuthenticator struct {
	Secret string
}

// NewJWTAuthenticator constructs a JWTAuthenticator.
func NewJWTAuthenticator(secret string) *JWTAuthenticator {
	return &JWTAuthenticator{Secret: secret}
}

var errUnexpectedSigningMethod = errors.New("webhook: unexpected jwt signing method")

// Middleware implements Authenticator.
func (a *JWTAuthenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := strings.TrimSpace(r.Header.Get("Authorization"))
		parts := strings.SplitN(authz, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		_, err := jwt.Parse(strings.TrimSpace(parts[1]), func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errUnexpectedSigningMethod
			}
			return []byte(a.Secret), nil
		})
		if err != nil {
			http.Error(w, "invalid authorization token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewAuthenticator selects an Authenticator from config.WebhookConfig's Auth
// field ("none", "hmac", "jwt"), defaulting to NoopAuthenticator.
func NewAuthenticator(mode, secret string) Authenticator {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "hmac":
		return NewHMACAuthenticator(secret)
	case "jwt":
		return NewJWTAuthenticator(secret)
	default:
		return NoopAuthenticator{}
	}
}
