package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{"plain https", "https://example.com/path", "example.com"},
		{"strips www", "https://www.example.com/", "example.com"},
		{"lowercases", "https://EXAMPLE.Com", "example.com"},
		{"keeps subdomain", "https://mail.example.com/inbox", "mail.example.com"},
		{"strips port", "http://example.com:8080/x", "example.com"},
		{"query and fragment", "https://example.com/a?b=c#d", "example.com"},
		{"chrome internal", "chrome://settings", ""},
		{"chrome newtab", "chrome://newtab/", ""},
		{"extension page", "chrome-extension://gighmmpiobklfepjocnamgkkbiglidom/popup.html", ""},
		{"firefox extension", "moz-extension://abc-def/popup.html", ""},
		{"about page", "about:blank", ""},
		{"file url", "file:///home/user/doc.html", ""},
		{"devtools", "devtools://devtools/bundled/inspector.html", ""},
		{"no dot", "http://localhost/admin", ""},
		{"short host", "http://a.b/", ""},
		{"empty", "", ""},
		{"garbage", "::::not a url::::", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FromURL(tt.url))
		})
	}
}

func TestValidRejectsExtensionID(t *testing.T) {
	// 32 lowercase letters, the shape of a Chromium extension ID.
	id := strings.Repeat("abcd", 8)
	if len(id) != 32 {
		t.Fatalf("bad fixture length: %d", len(id))
	}
	assert.False(t, Valid(id))

	// Even with a dot appended elsewhere, a bare ID is never trackable.
	assert.False(t, Valid(id), "extension ID must not become a domain")
}

func TestValid(t *testing.T) {
	assert.True(t, Valid("example.com"))
	assert.True(t, Valid("a.io"))
	assert.False(t, Valid("io"))
	assert.False(t, Valid("a.b")) // length <= 3
	assert.False(t, Valid("localhost"))
	assert.False(t, Valid(""))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "example.com", Normalize("WWW.Example.COM"))
	assert.Equal(t, "example.com", Normalize("example.com."))
	assert.Equal(t, "sub.example.com", Normalize(" sub.example.com "))
}

func TestMatches(t *testing.T) {
	assert.True(t, Matches("example.com", "example.com"))
	assert.True(t, Matches("example.com", "mail.example.com"))
	assert.True(t, Matches("example.com", "a.b.example.com"))
	assert.False(t, Matches("example.com", "notexample.com"))
	assert.False(t, Matches("mail.example.com", "example.com"))
	assert.False(t, Matches("", "example.com"))
	assert.False(t, Matches("example.com", ""))
}
