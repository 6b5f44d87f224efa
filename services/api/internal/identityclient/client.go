package identityclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultProfilePath is the OIDC userinfo path.
const DefaultProfilePath = "/userinfo"

// Client calls the identity provider over HTTP.
type Client struct {
	baseURL     string
	profilePath string
	httpClient  *http.Client
}

// APIError represents an identity provider error response.
type APIError struct {
	Status  int
	Message string
	Code    string
}

func (e *APIError) Error() string {
	return e.Message
}

// Profile is the subset of the userinfo document the service uses.
type Profile struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

// NewClient constructs an identity provider client.
func NewClient(baseURL, profilePath string) *Client {
	profilePath = strings.TrimSpace(profilePath)
	if profilePath == "" {
		profilePath = DefaultProfilePath
	}
	if !strings.HasPrefix(profilePath, "/") {
		profilePath = "/" + profilePath
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		profilePath: profilePath,
		httpClient:  &http.Client{Timeout: 5 * time.Second},
	}
}

// Me returns the profile of the token's owner.
func (c *Client) Me(ctx context.Context, token string) (Profile, error) {
	var p Profile
	if err := c.doJSON(ctx, http.MethodGet, c.profilePath, token, &p); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Email returns the email of the token's owner.
func (c *Client) Email(ctx context.Context, token string) (string, error) {
	p, err := c.Me(ctx, token)
	if err != nil {
		return "", err
	}
	email := strings.TrimSpace(p.Email)
	if email == "" {
		return "", errors.New("identity profile has no email")
	}
	return email, nil
}

func (c *Client) doJSON(ctx context.Context, method, path, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
			Code             string `json:"code"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.ErrorDescription
		if msg == "" {
			msg = errResp.Error
		}
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: msg, Code: strings.TrimSpace(errResp.Code)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
