package usertoken

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

func TestNewVerifierRequiresJWKSURL(t *testing.T) {
	if _, err := NewVerifier(Config{}); err == nil {
		t.Fatalf("expected missing jwks url to fail")
	}
}

func TestNewVerifierRejectsEmptyKeySet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{{"kty": "oct", "kid": "k"}}})
	}))
	defer srv.Close()
	if _, err := NewVerifier(Config{JWKSURL: srv.URL}); err == nil {
		t.Fatalf("expected key set without usable keys to fail")
	}
}

func TestVerifyIdentityRefreshesOnRotatedKey(t *testing.T) {
	key1 := mustRSAKey(t)
	key2 := mustRSAKey(t)

	var active atomic.Value
	active.Store(rsaJWK("kid-1", &key1.PublicKey))
	var fetches atomic.Int32
	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fetches.Add(1)
		w.Header().Set("Cache-Control", "public, max-age=300")
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{active.Load().(map[string]string)}})
	}))
	defer jwksServer.Close()

	v, err := NewVerifier(Config{JWKSURL: jwksServer.URL, Issuer: "issuer-a", Audience: "aud-a"})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	clock := time.Now()
	v.now = func() time.Time { return clock }

	if id, err := v.VerifyIdentity(signToken(t, jwt.SigningMethodRS256, key1, "kid-1", "user-a", "issuer-a", "aud-a")); err != nil || id.Subject != "user-a" {
		t.Fatalf("verify with kid-1: %+v err=%v", id, err)
	}

	active.Store(rsaJWK("kid-2", &key2.PublicKey))
	token2 := signToken(t, jwt.SigningMethodRS256, key2, "kid-2", "user-b", "issuer-a", "aud-a")

	// Right after the initial fetch, unknown kids may not hammer the endpoint.
	if _, err := v.VerifyIdentity(token2); err == nil {
		t.Fatalf("expected throttled refresh to fail verification")
	}
	if got := fetches.Load(); got != 1 {
		t.Fatalf("expected a single jwks fetch, got %d", got)
	}

	clock = clock.Add(minRefreshInterval + time.Second)
	if id, err := v.VerifyIdentity(token2); err != nil || id.Subject != "user-b" {
		t.Fatalf("verify with kid-2 after refresh: %+v err=%v", id, err)
	}
	if got := fetches.Load(); got != 2 {
		t.Fatalf("expected two jwks fetches, got %d", got)
	}
}

func TestVerifyIdentityAcceptsES256(t *testing.T) {
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate ec key: %v", err)
	}
	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{{
			"kty": "EC",
			"kid": "ec-1",
			"use": "sig",
			"crv": "P-256",
			"x":   base64.RawURLEncoding.EncodeToString(ecKey.PublicKey.X.FillBytes(make([]byte, 32))),
			"y":   base64.RawURLEncoding.EncodeToString(ecKey.PublicKey.Y.FillBytes(make([]byte, 32))),
		}}})
	}))
	defer jwksServer.Close()

	v, err := NewVerifier(Config{JWKSURL: jwksServer.URL})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	id, err := v.VerifyIdentity(signToken(t, jwt.SigningMethodES256, ecKey, "ec-1", "ext-ec", defaultIssuer, defaultAudience))
	if err != nil || id.Subject != "ext-ec" {
		t.Fatalf("verify es256: %+v err=%v", id, err)
	}
}

func TestVerifyIdentityRejectsBadTokens(t *testing.T) {
	key := mustRSAKey(t)
	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{rsaJWK("kid-1", &key.PublicKey)}})
	}))
	defer jwksServer.Close()

	v, err := NewVerifier(Config{JWKSURL: jwksServer.URL, Issuer: "issuer-a", Audience: "aud-a", Leeway: 5 * time.Second})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	futureIAT := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Subject:   "user-1",
		Issuer:    "issuer-a",
		Audience:  jwt.ClaimStrings{"aud-a"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		IssuedAt:  jwt.NewNumericDate(time.Now().Add(2 * time.Minute)),
	})
	futureIAT.Header["kid"] = "kid-1"
	signedFuture, err := futureIAT.SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	cases := map[string]string{
		"future iat":     signedFuture,
		"wrong audience": signToken(t, jwt.SigningMethodRS256, key, "kid-1", "user-1", "issuer-a", "aud-b"),
		"wrong issuer":   signToken(t, jwt.SigningMethodRS256, key, "kid-1", "user-1", "issuer-b", "aud-a"),
		"empty subject":  signToken(t, jwt.SigningMethodRS256, key, "kid-1", "", "issuer-a", "aud-a"),
		"foreign key":    signToken(t, jwt.SigningMethodRS256, mustRSAKey(t), "kid-1", "user-1", "issuer-a", "aud-a"),
		"garbage":        "not.a.token",
	}
	for name, token := range cases {
		if _, err := v.VerifyIdentity(token); err == nil {
			t.Fatalf("%s: expected verification to fail", name)
		}
	}
}

func TestVerifyIdentityReadsEmailClaim(t *testing.T) {
	key := mustRSAKey(t)
	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{rsaJWK("kid-1", &key.PublicKey)}})
	}))
	defer jwksServer.Close()

	v, err := NewVerifier(Config{JWKSURL: jwksServer.URL})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub":   "ext-7",
		"email": "viewer@example.com",
		"iss":   "clipscope-identity",
		"aud":   "clipscope-api",
		"exp":   time.Now().Add(time.Minute).Unix(),
		"iat":   time.Now().Unix(),
	})
	token.Header["kid"] = "kid-1"
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	id, err := v.VerifyIdentity(signed)
	if err != nil {
		t.Fatalf("verify identity: %v", err)
	}
	if id.Subject != "ext-7" || id.Email != "viewer@example.com" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestParseCacheMaxAge(t *testing.T) {
	cases := map[string]time.Duration{
		"":                        0,
		"no-cache":                0,
		"public, max-age=60":      time.Minute,
		"Max-Age=5, must-revalid": 5 * time.Second,
		"max-age=abc":             0,
	}
	for in, want := range cases {
		if got := parseCacheMaxAge(in); got != want {
			t.Fatalf("parseCacheMaxAge(%q) = %v, want %v", in, got, want)
		}
	}
}

func mustRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	return key
}

func signToken(t *testing.T, method jwt.SigningMethod, key any, kid, subject, issuer, audience string) string {
	t.Helper()
	token := jwt.NewWithClaims(method, jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    issuer,
		Audience:  jwt.ClaimStrings{audience},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		NotBefore: jwt.NewNumericDate(time.Now().Add(-time.Second)),
	})
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func rsaJWK(kid string, key *rsa.PublicKey) map[string]string {
	return map[string]string{
		"kty": "RSA",
		"kid": kid,
		"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}
}
