package shareurl

import "strings"

// DefaultAllowedDomains covers the supported platform families together
// with their www, mobile and short-link aliases.
var DefaultAllowedDomains = []string{
	"douyin.com", "www.douyin.com", "v.douyin.com", "iesdouyin.com",
	"tiktok.com", "www.tiktok.com",
	"youtube.com", "www.youtube.com", "m.youtube.com", "youtu.be",
	"bilibili.com", "www.bilibili.com", "m.bilibili.com", "b23.tv",
}

// AllowList admits URLs whose host equals a listed domain or is a
// subdomain of one.
type AllowList struct {
	domains []string
}

// NewAllowList normalizes domains; an empty input falls back to DefaultAllowedDomains.
func NewAllowList(domains []string) AllowList {
	if len(domains) == 0 {
		domains = DefaultAllowedDomains
	}
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.Trim(strings.ToLower(strings.TrimSpace(d)), ".")
		if d == "" {
			continue
		}
		out = append(out, d)
	}
	return AllowList{domains: out}
}

// Allows reports whether rawURL parses and its host is on the list.
func (a AllowList) Allows(rawURL string) bool {
	host := Hostname(rawURL)
	if host == "" {
		return false
	}
	return a.AllowsHost(host)
}

// AllowsHost applies the domain match to an already extracted hostname.
func (a AllowList) AllowsHost(host string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	for _, d := range a.domains {
		if MatchDomain(host, d) {
			return true
		}
	}
	return false
}

// Domains returns a copy of the configured domains.
func (a AllowList) Domains() []string {
	return append([]string(nil), a.domains...)
}

// MatchDomain reports whether host is domain itself or one of its subdomains.
func MatchDomain(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}
