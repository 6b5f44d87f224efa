package shareurl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// MobileUserAgent is sent on outbound fetches; short-link services
	// redirect mobile clients straight to the canonical page.
	MobileUserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 15_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.0 Mobile/15E148 Safari/604.1"

	DefaultMaxHops = 3
	defaultTimeout = 10 * time.Second
)

// ErrResolve wraps transport failures while following redirects.
var ErrResolve = errors.New("resolve short link")

// ResolverConfig configures short-link resolution.
type ResolverConfig struct {
	HTTPClient *http.Client
	UserAgent  string
	MaxHops    int
}

// Resolver follows redirect chains manually so each hop can be capped.
type Resolver struct {
	client    *http.Client
	userAgent string
	maxHops   int
}

// NewResolver builds a resolver. The supplied client is copied and its
// redirect policy replaced so that 3xx responses are returned as-is.
func NewResolver(cfg ResolverConfig) *Resolver {
	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: defaultTimeout}
	}
	client := *base
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	ua := strings.TrimSpace(cfg.UserAgent)
	if ua == "" {
		ua = MobileUserAgent
	}
	hops := cfg.MaxHops
	if hops <= 0 {
		hops = DefaultMaxHops
	}
	return &Resolver{client: &client, userAgent: ua, maxHops: hops}
}

// Resolve follows Location headers starting at rawURL for at most MaxHops
// requests and returns the last URL reached. A missing or unparseable
// Location ends the walk early; running out of hops is not an error.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (string, error) {
	current := rawURL
	for i := 0; i < r.maxHops; i++ {
		next, ok, err := r.hop(ctx, current)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrResolve, current, err)
		}
		if !ok {
			break
		}
		current = next
	}
	return current, nil
}

// Resolved is the outcome of resolving one piece of share text.
type Resolved struct {
	Original  string `json:"original"`
	Extracted string `json:"extracted"`
	URL       string `json:"url"`
	Host      string `json:"host"`
}

// ResolveLink resolves an already extracted link and keeps the input it came from.
func (r *Resolver) ResolveLink(ctx context.Context, original, extracted string) (Resolved, error) {
	final, err := r.Resolve(ctx, extracted)
	if err != nil {
		return Resolved{}, err
	}
	return Resolved{
		Original:  original,
		Extracted: extracted,
		URL:       final,
		Host:      Hostname(final),
	}, nil
}

func (r *Resolver) hop(ctx context.Context, current string) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
	if err != nil {
		return "", false, err
	}
	req.Header.Set("User-Agent", r.userAgent)
	resp, err := r.client.Do(req)
	if err != nil {
		return "", false, err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()

	loc := strings.TrimSpace(resp.Header.Get("Location"))
	if loc == "" {
		return "", false, nil
	}
	base, err := url.Parse(current)
	if err != nil {
		return "", false, nil
	}
	ref, err := url.Parse(loc)
	if err != nil {
		return "", false, nil
	}
	return base.ResolveReference(ref).String(), true, nil
}
