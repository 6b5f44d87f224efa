package server

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"clipscope/internal/ratelimit"
	"clipscope/internal/usertoken"
	"clipscope/pkg/audit"
	"clipscope/pkg/domain"
	"clipscope/pkg/downloadtoken"
	"clipscope/pkg/metadata"
	"clipscope/pkg/shareurl"
	"clipscope/pkg/store"
	"clipscope/services/api/internal/app"
)

const (
	testIssuer   = "clipscope-identity"
	testAudience = "clipscope-api"
	testSecret   = "0123456789abcdef0123456789abcdef"
)

const videoPage = `<html><head>
<meta property="og:title" content="Cat video">
<meta property="og:image" content="https://img.example.com/cat.jpg">
<meta name="author" content="Cat Owner">
</head></html>`

// pageTransport answers every outbound request with the same HTML page.
type pageTransport struct{}

func (pageTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"text/html"}},
		Body:       io.NopCloser(strings.NewReader(videoPage)),
		Request:    r,
	}, nil
}

type testServer struct {
	srv   *httptest.Server
	store *store.MemoryStore
	key   *rsa.PrivateKey
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	verifier, key := newJWKSVerifier(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	guard, err := ratelimit.NewGuard(client, ratelimit.DefaultGuardConfig())
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	tokens, err := downloadtoken.NewManager(downloadtoken.Options{Secret: testSecret})
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}
	mem := store.NewMemoryStore()
	httpClient := &http.Client{Transport: pageTransport{}, Timeout: 5 * time.Second}
	a, err := app.New(app.Config{
		Store:         mem,
		Resolver:      shareurl.NewResolver(shareurl.ResolverConfig{HTTPClient: httpClient}),
		Fetcher:       metadata.NewFetcher(metadata.Config{HTTPClient: httpClient}),
		Limiter:       guard,
		Recorder:      audit.NewRecorder(mem, audit.NewAlerter(client, "")),
		Tokens:        tokens,
		PublicBaseURL: "https://clip.example.com",
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	s, err := New(Config{App: a, TokenVerifier: verifier, CORSOrigins: []string{"*"}})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return testServer{srv: srv, store: mem, key: key}
}

func (ts testServer) do(t *testing.T, method, path, subject string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if subject != "" {
		req.Header.Set("Authorization", "Bearer "+mustSignUserToken(t, ts.key, subject))
	}
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestParseEndToEnd(t *testing.T) {
	ts := newTestServer(t)
	if resp := ts.do(t, http.MethodGet, "/api/me", "sub-1", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("me expected 200, got %d", resp.StatusCode)
	}

	resp := ts.do(t, http.MethodPost, "/api/parse", "sub-1", map[string]any{"url": "check this out https://youtu.be/abc123!!!"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("parse expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-RateLimit-Limit") == "" || resp.Header.Get("X-RateLimit-Reset") == "" {
		t.Fatalf("missing rate limit headers: %v", resp.Header)
	}
	body := decode(t, resp)
	if body["platformName"] != "YouTube" || body["downloadable"] != false {
		t.Fatalf("unexpected body: %v", body)
	}
	if msg, _ := body["complianceMessage"].(string); msg == "" {
		t.Fatalf("expected compliance message: %v", body)
	}
	if body["title"] != "Cat video" {
		t.Fatalf("title = %v", body["title"])
	}

	history := decode(t, ts.do(t, http.MethodGet, "/api/parses?limit=5", "sub-1", nil))
	if history["count"] != float64(1) {
		t.Fatalf("unexpected history: %v", history)
	}
}

func TestParseRejectsMalformedInput(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodGet, "/api/me", "sub-1", nil).Body.Close()

	resp := ts.do(t, http.MethodPost, "/api/parse", "sub-1", map[string]any{"url": "nothing to see"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	body := decode(t, resp)
	if body["error"] != "Please paste a complete link starting with https://" {
		t.Fatalf("unexpected error body: %v", body)
	}
	if body["requestId"] == nil {
		t.Fatalf("expected request id in body: %v", body)
	}
	if ts.store.ParseRecordCount() != 0 {
		t.Fatalf("no parse record expected")
	}
	items, err := ts.store.ListAudit(domain.AuditFilter{})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("no audit entries expected, got %d", len(items))
	}

	req, _ := http.NewRequest(http.MethodPost, ts.srv.URL+"/api/parse", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer "+mustSignUserToken(t, ts.key, "sub-1"))
	raw, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("invalid json request: %v", err)
	}
	raw.Body.Close()
	if raw.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid json expected 400, got %d", raw.StatusCode)
	}
}

func TestRoutesRequireBearerToken(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/api/parse", "/api/usage", "/api/audit", "/api/download/stream?token=x"} {
		resp := ts.do(t, http.MethodGet, path, "", nil)
		body := decode(t, resp)
		if resp.StatusCode != http.StatusUnauthorized || body["code"] != "AUTH_INVALID_TOKEN" {
			t.Fatalf("%s: expected 401, got %d %v", path, resp.StatusCode, body)
		}
	}

	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	req, _ := http.NewRequest(http.MethodGet, ts.srv.URL+"/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+mustSignUserToken(t, otherKey, "sub-1"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("foreign key expected 401, got %d", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodGet, "/api/parse", "sub-1", nil)
	body := decode(t, resp)
	if resp.StatusCode != http.StatusMethodNotAllowed || body["code"] != "SYSTEM_METHOD_NOT_ALLOWED" {
		t.Fatalf("expected 405, got %d %v", resp.StatusCode, body)
	}
}

func TestDownloadRequiresPro(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodGet, "/api/me", "sub-1", nil).Body.Close()

	resp := ts.do(t, http.MethodPost, "/api/download", "sub-1", map[string]any{
		"parseRecordId": "6f1c1d4e-8a2b-4c9f-9d1e-2b3c4d5e6f70",
		"format":        "mp4",
		"quality":       "720p",
	})
	body := decode(t, resp)
	if resp.StatusCode != http.StatusForbidden || body["reason"] != "subscription_required" {
		t.Fatalf("expected 403, got %d %v", resp.StatusCode, body)
	}
}

func TestStreamExpiredTokenIsGone(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodGet, "/api/me", "sub-1", nil).Body.Close()

	past := time.Now().Add(-time.Hour)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, downloadtoken.Claims{
		RecordID: "6f1c1d4e-8a2b-4c9f-9d1e-2b3c4d5e6f70",
		UserID:   "someone",
		Format:   "mp4",
		Quality:  "720p",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    downloadtoken.DefaultIssuer,
			IssuedAt:  jwt.NewNumericDate(past.Add(-5 * time.Minute)),
			ExpiresAt: jwt.NewNumericDate(past),
		},
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	resp := ts.do(t, http.MethodGet, "/api/download/stream?token="+token, "sub-1", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusGone {
		t.Fatalf("expected 410, got %d", resp.StatusCode)
	}
}

func TestParseRateLimitedPerIP(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodGet, "/api/me", "sub-1", nil).Body.Close()

	limit := ratelimit.DefaultGuardConfig().ParsePerIPPerMinute
	for i := 0; i < limit; i++ {
		resp := ts.do(t, http.MethodPost, "/api/parse", "sub-1", map[string]any{"url": "https://www.bilibili.com/video/BV1"})
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d expected 200, got %d", i+1, resp.StatusCode)
		}
	}
	resp := ts.do(t, http.MethodPost, "/api/parse", "sub-1", map[string]any{"url": "https://www.bilibili.com/video/BV1"})
	body := decode(t, resp)
	if resp.StatusCode != http.StatusTooManyRequests || body["code"] != "RATE_LIMITED" {
		t.Fatalf("expected 429, got %d %v", resp.StatusCode, body)
	}
	if resp.Header.Get("X-RateLimit-Remaining") != "0" || resp.Header.Get("Retry-After") == "" {
		t.Fatalf("unexpected headers: %v", resp.Header)
	}
	if body["resetTime"] == nil {
		t.Fatalf("expected resetTime: %v", body)
	}
}

func TestAuditEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodGet, "/api/me", "sub-1", nil).Body.Close()
	ts.do(t, http.MethodPost, "/api/parse", "sub-1", map[string]any{"url": "https://b23.tv/abc"}).Body.Close()

	resp := ts.do(t, http.MethodGet, "/api/audit?action=parse&success=true", "sub-1", nil)
	body := decode(t, resp)
	if resp.StatusCode != http.StatusOK || body["count"] != float64(1) {
		t.Fatalf("unexpected audit list: %d %v", resp.StatusCode, body)
	}
	if resp := ts.do(t, http.MethodGet, "/api/audit?success=maybe", "sub-1", nil); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad success flag, got %d", resp.StatusCode)
	}

	stats := decode(t, ts.do(t, http.MethodGet, "/api/audit/stats", "sub-1", nil))
	if stats["totalActions"] != float64(1) {
		t.Fatalf("unexpected stats: %v", stats)
	}
	usage := decode(t, ts.do(t, http.MethodGet, "/api/usage", "sub-1", nil))
	if usage["parses"] != float64(1) || usage["plan"] != "FREE" {
		t.Fatalf("unexpected usage: %v", usage)
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}
}

func newJWKSVerifier(t *testing.T) (*usertoken.Verifier, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{
				{
					"kty": "RSA",
					"kid": "kid-1",
					"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
					"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
				},
			},
		})
	}))
	t.Cleanup(jwksServer.Close)

	verifier, err := usertoken.NewVerifier(usertoken.Config{
		JWKSURL:  jwksServer.URL,
		Issuer:   testIssuer,
		Audience: testAudience,
		Leeway:   30 * time.Second,
	})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return verifier, key
}

func mustSignUserToken(t *testing.T, key *rsa.PrivateKey, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    testIssuer,
		Audience:  jwt.ClaimStrings{testAudience},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		NotBefore: jwt.NewNumericDate(time.Now().Add(-time.Second)),
	})
	token.Header["kid"] = "kid-1"
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
