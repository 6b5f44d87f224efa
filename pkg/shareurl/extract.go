package shareurl

import (
	"net/url"
	"regexp"
	"strings"
)

var urlPattern = regexp.MustCompile(`(?i)https?://[^\s]+`)

// trailing junk that share texts glue onto links: closing brackets plus
// ASCII and full-width sentence punctuation.
const trailingPunct = ")]}>.,!?;:'\"" + "。！？，：、；）】」』》…"

// ExtractURL returns the first http(s) URL found in free-form share text.
// Only the first candidate is considered; if it does not parse as an
// absolute http(s) URL with a host, no URL is returned.
func ExtractURL(text string) (string, bool) {
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	match := urlPattern.FindString(text)
	if match == "" {
		return "", false
	}
	candidate := strings.TrimRight(match, trailingPunct)
	u, err := url.Parse(candidate)
	if err != nil {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if (scheme != "http" && scheme != "https") || u.Hostname() == "" {
		return "", false
	}
	u.Scheme = scheme
	return u.String(), true
}

// Hostname returns the lower-cased host of rawURL, or "" if it does not parse.
func Hostname(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
