package metadata

import "regexp"

const sandboxAttrs = `sandbox="allow-scripts allow-same-origin allow-presentation" loading="lazy"`

var (
	iframeTag   = regexp.MustCompile(`(?i)<iframe\b[^>]*>`)
	sandboxAttr = regexp.MustCompile(`(?i)\ssandbox(\s*=|[\s/>])`)
)

// SandboxEmbed restricts every iframe in provider-supplied embed markup.
// Tags that already carry a sandbox attribute are left alone.
func SandboxEmbed(html string) string {
	if html == "" {
		return html
	}
	return iframeTag.ReplaceAllStringFunc(html, func(tag string) string {
		if sandboxAttr.MatchString(tag) {
			return tag
		}
		// len("<iframe") == 7
		return tag[:7] + " " + sandboxAttrs + tag[7:]
	})
}
