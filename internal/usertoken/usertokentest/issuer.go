// Package usertokentest runs an in-process JWKS endpoint and signs access
// tokens for tests.
package usertokentest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"companionai/internal/usertoken"
)

const (
	Issuer   = "companion-identity"
	Audience = "companion-api"
)

// KeyIssuer publishes its current key at URL and signs tokens with it.
type KeyIssuer struct {
	URL string

	mu  sync.Mutex
	kid string
	key *rsa.PrivateKey
}

// New starts a JWKS server that is closed when the test ends.
func New(t testing.TB) *KeyIssuer {
	t.Helper()
	ki := &KeyIssuer{}
	ki.Rotate(t, "kid-1")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		ki.mu.Lock()
		kid, pub := ki.kid, ki.key.PublicKey
		ki.mu.Unlock()
		w.Header().Set("Cache-Control", "public, max-age=60")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{JWK(kid, pub)},
		})
	}))
	t.Cleanup(srv.Close)
	ki.URL = srv.URL
	return ki
}

// Rotate replaces the published key.
func (ki *KeyIssuer) Rotate(t testing.TB, kid string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	ki.mu.Lock()
	ki.kid, ki.key = kid, key
	ki.mu.Unlock()
}

// Verifier builds a verifier bound to this issuer.
func (ki *KeyIssuer) Verifier(t testing.TB) *usertoken.Verifier {
	t.Helper()
	v, err := usertoken.NewVerifier(usertoken.Config{
		JWKSURL:  ki.URL,
		Issuer:   Issuer,
		Audience: Audience,
	})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return v
}

// Sign returns a token for subject; givenName may be empty.
func (ki *KeyIssuer) Sign(t testing.TB, subject, givenName string) string {
	t.Helper()
	ki.mu.Lock()
	kid, key := ki.kid, ki.key
	ki.mu.Unlock()
	return SignWith(t, key, kid, subject, givenName)
}

// SignWith signs a token with an arbitrary key.
func SignWith(t testing.TB, key *rsa.PrivateKey, kid, subject, givenName string) string {
	t.Helper()
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, usertoken.Claims{
		GivenName: givenName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-time.Second)),
		},
	})
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

// JWK encodes an RSA public key as a JWKS entry.
func JWK(kid string, key rsa.PublicKey) map[string]string {
	return map[string]string{
		"kty": "RSA",
		"kid": kid,
		"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}
}
