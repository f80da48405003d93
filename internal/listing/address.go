// Package listing guesses a street address from a listing URL's path.
// Nothing is fetched; only the URL text is inspected.
package listing

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"
)

const minAddressLen = 8

var (
	rbSuffix       = regexp.MustCompile(`_rb/?$`)
	trailingDigits = regexp.MustCompile(`\d{6,}$`)
)

// AddressFromURL returns the longest digit-bearing path segment, cleaned into an
// address, or false when nothing plausible is found.
func AddressFromURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	path := strings.Trim(parsed.Path, "/")
	if path == "" {
		return "", false
	}

	candidate := ""
	for _, seg := range strings.Split(path, "/") {
		if !strings.ContainsFunc(seg, unicode.IsDigit) {
			continue
		}
		if len(seg) > len(candidate) {
			candidate = seg
		}
	}
	if candidate == "" {
		return "", false
	}

	candidate = rbSuffix.ReplaceAllString(candidate, "")
	addr := strings.ReplaceAll(candidate, "-", " ")
	addr = strings.TrimSpace(trailingDigits.ReplaceAllString(addr, ""))
	if len(addr) < minAddressLen {
		return "", false
	}
	return addr, true
}
