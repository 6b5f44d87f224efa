package identityclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEmailUsesBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/userinfo" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_token", "error_description": "token rejected"})
			return
		}
		_ = json.NewEncoder(w).Encode(Profile{Subject: "ext-1", Email: "a@example.com"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "")
	email, err := c.Email(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("email: %v", err)
	}
	if email != "a@example.com" {
		t.Fatalf("unexpected email: %q", email)
	}

	_, err = c.Email(context.Background(), "bad")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized || apiErr.Message != "token rejected" {
		t.Fatalf("expected api error, got %v", err)
	}
}

func TestEmailRequiresEmailClaim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(Profile{Subject: "ext-1"})
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL, "userinfo").Email(context.Background(), "tok"); err == nil {
		t.Fatalf("expected error for profile without email")
	}
}
