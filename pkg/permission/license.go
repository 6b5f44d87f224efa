package permission

import "strings"

type licenseClass int

const (
	licenseNone licenseClass = iota
	licenseOpen
	licenseClosed
)

var openLicenses = map[string]struct{}{
	"cc":               {},
	"cc0":              {},
	"creative commons": {},
	"public domain":    {},
	"mit":              {},
	"apache":           {},
	"apache-2.0":       {},
	"bsd":              {},
}

var closedLicenses = map[string]struct{}{
	"copyright":           {},
	"all rights reserved": {},
	"proprietary":         {},
}

// classifyLicense maps a free-form license hint onto the open or closed
// vocabulary. Unrecognized and empty hints fall through.
func classifyLicense(raw string) licenseClass {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" {
		return licenseNone
	}
	if _, ok := openLicenses[v]; ok {
		return licenseOpen
	}
	if strings.HasPrefix(v, "cc-") || strings.HasPrefix(v, "cc ") || strings.HasPrefix(v, "creative commons ") {
		return licenseOpen
	}
	if _, ok := closedLicenses[v]; ok {
		return licenseClosed
	}
	return licenseNone
}
