package platform

import (
	"fmt"
	"net/url"
	"strings"

	"clipscope/pkg/domain"
	"clipscope/pkg/shareurl"
)

// Rule maps a platform to the host domains that identify it.
type Rule struct {
	ID    domain.PlatformID
	Hosts []string
}

// Classification is the outcome of identifying a host.
type Classification struct {
	ID     domain.PlatformID
	Policy domain.PlatformPolicy
}

// Catalog is the immutable platform table. Rules are evaluated in order
// and the first suffix match wins.
type Catalog struct {
	rules    []Rule
	policies map[domain.PlatformID]domain.PlatformPolicy
	fallback domain.PlatformPolicy
}

// DefaultPolicy applies to hosts that match no rule.
var DefaultPolicy = domain.PlatformPolicy{
	Name:          "Unknown Platform",
	AllowMetadata: true,
	AllowEmbed:    true,
	AllowDownload: false,
}

// DefaultRules lists the supported platforms in priority order.
func DefaultRules() []Rule {
	return []Rule{
		{ID: domain.PlatformDouyin, Hosts: []string{"douyin.com", "iesdouyin.com"}},
		{ID: domain.PlatformTikTok, Hosts: []string{"tiktok.com"}},
		{ID: domain.PlatformYouTube, Hosts: []string{"youtube.com", "youtu.be"}},
		{ID: domain.PlatformBilibili, Hosts: []string{"bilibili.com", "b23.tv"}},
	}
}

// DefaultPolicies returns the policy table for DefaultRules.
func DefaultPolicies() map[domain.PlatformID]domain.PlatformPolicy {
	viewOnly := func(name string) domain.PlatformPolicy {
		return domain.PlatformPolicy{Name: name, AllowMetadata: true, AllowEmbed: true}
	}
	return map[domain.PlatformID]domain.PlatformPolicy{
		domain.PlatformDouyin:   viewOnly("Douyin"),
		domain.PlatformTikTok:   viewOnly("TikTok"),
		domain.PlatformYouTube:  viewOnly("YouTube"),
		domain.PlatformBilibili: viewOnly("Bilibili"),
	}
}

// NewCatalog validates that every rule has a policy and that no rule
// claims the reserved unknown id.
func NewCatalog(rules []Rule, policies map[domain.PlatformID]domain.PlatformPolicy, fallback domain.PlatformPolicy) (*Catalog, error) {
	c := &Catalog{
		policies: make(map[domain.PlatformID]domain.PlatformPolicy, len(policies)),
		fallback: fallback,
	}
	for id, p := range policies {
		c.policies[id] = p
	}
	for _, rule := range rules {
		if rule.ID == "" || rule.ID == domain.PlatformUnknown {
			return nil, fmt.Errorf("platform rule id %q is reserved", rule.ID)
		}
		if _, ok := c.policies[rule.ID]; !ok {
			return nil, fmt.Errorf("platform %q has no policy", rule.ID)
		}
		hosts := make([]string, 0, len(rule.Hosts))
		for _, h := range rule.Hosts {
			h = strings.Trim(strings.ToLower(strings.TrimSpace(h)), ".")
			if h != "" {
				hosts = append(hosts, h)
			}
		}
		if len(hosts) == 0 {
			return nil, fmt.Errorf("platform %q has no hosts", rule.ID)
		}
		c.rules = append(c.rules, Rule{ID: rule.ID, Hosts: hosts})
	}
	return c, nil
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultRules(), DefaultPolicies(), DefaultPolicy)
	if err != nil {
		panic(err)
	}
	return c
}

// WithPolicy returns a copy of the catalog with id's policy replaced.
// Used for per-deployment overrides and tests.
func (c *Catalog) WithPolicy(id domain.PlatformID, policy domain.PlatformPolicy) *Catalog {
	out := &Catalog{
		rules:    c.rules,
		policies: make(map[domain.PlatformID]domain.PlatformPolicy, len(c.policies)+1),
		fallback: c.fallback,
	}
	for k, v := range c.policies {
		out.policies[k] = v
	}
	if id == domain.PlatformUnknown {
		out.fallback = policy
	} else {
		out.policies[id] = policy
	}
	return out
}

// Classify identifies the platform for a hostname. It is total: hosts
// outside the table yield the unknown id and the fallback policy.
func (c *Catalog) Classify(host string) Classification {
	host = strings.ToLower(strings.TrimSpace(host))
	if host != "" {
		for _, rule := range c.rules {
			for _, d := range rule.Hosts {
				if shareurl.MatchDomain(host, d) {
					return Classification{ID: rule.ID, Policy: c.policies[rule.ID]}
				}
			}
		}
	}
	return Classification{ID: domain.PlatformUnknown, Policy: c.fallback}
}

// ClassifyURL classifies the host of rawURL; unparseable input is unknown.
func (c *Catalog) ClassifyURL(rawURL string) Classification {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return Classification{ID: domain.PlatformUnknown, Policy: c.fallback}
	}
	return c.Classify(u.Hostname())
}

// Policy returns the policy for id, falling back for unknown ids.
func (c *Catalog) Policy(id domain.PlatformID) domain.PlatformPolicy {
	if p, ok := c.policies[id]; ok {
		return p
	}
	return c.fallback
}

// Has reports whether id is a known, non-fallback platform.
func (c *Catalog) Has(id domain.PlatformID) bool {
	_, ok := c.policies[id]
	return ok
}

// IDs returns the platform ids in priority order.
func (c *Catalog) IDs() []domain.PlatformID {
	out := make([]domain.PlatformID, 0, len(c.rules))
	for _, r := range c.rules {
		out = append(out, r.ID)
	}
	return out
}
