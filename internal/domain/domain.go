// Package domain normalizes and validates hostnames used as the unit of
// usage attribution.
//
// A domain in tabward is a bare hostname: no scheme, no port, no "www."
// prefix, lowercase. Browser-internal pages (chrome://, about:, extension
// pages) never become trackable domains.
package domain

import (
	"net/url"
	"strings"
)

// Internal URL schemes that never map to a trackable domain.
var internalSchemes = map[string]bool{
	"chrome":             true,
	"chrome-extension":   true,
	"moz-extension":      true,
	"edge":               true,
	"about":              true,
	"file":               true,
	"view-source":        true,
	"devtools":           true,
	"chrome-untrusted":   true,
	"safari-web-extension": true,
}

// FromURL extracts the normalized domain from a raw URL.
// Returns "" if the URL does not resolve to a valid trackable domain.
func FromURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	if internalSchemes[strings.ToLower(u.Scheme)] {
		return ""
	}

	d := Normalize(u.Hostname())
	if !Valid(d) {
		return ""
	}
	return d
}

// Normalize lowercases a hostname and strips a leading "www." label.
// It does not validate; pair with Valid.
func Normalize(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	host = strings.TrimSuffix(host, ".")
	host = strings.TrimPrefix(host, "www.")
	return host
}

// Valid reports whether a normalized hostname is trackable.
//
// Rules: must contain a dot (bare words like "localhost" and extension IDs
// have none), must be longer than 3 characters, and must not look like a
// 32-lowercase-letter browser extension ID.
func Valid(d string) bool {
	if len(d) <= 3 {
		return false
	}
	if !strings.Contains(d, ".") {
		return false
	}
	if isExtensionID(d) {
		return false
	}
	return true
}

// isExtensionID matches Chromium extension IDs: exactly 32 letters a-p.
func isExtensionID(d string) bool {
	if len(d) != 32 {
		return false
	}
	for i := 0; i < len(d); i++ {
		c := d[i]
		if c < 'a' || c > 'p' {
			return false
		}
	}
	return true
}

// Matches reports whether target (a normalized site-limit target) applies
// to d: exact match, or target is a parent domain of d.
// "example.com" matches "example.com" and "mail.example.com" but not
// "notexample.com".
func Matches(target, d string) bool {
	if target == "" || d == "" {
		return false
	}
	if target == d {
		return true
	}
	return strings.HasSuffix(d, "."+target)
}
