package usertoken_test

import (
	"crypto/rsa"
	"encoding/json"
	"testing"

	"companionai/internal/usertoken/usertokentest"
)

func mustJWKS(t *testing.T, kid string, key rsa.PublicKey) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"keys": []map[string]string{usertokentest.JWK(kid, key)}})
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	return raw
}
