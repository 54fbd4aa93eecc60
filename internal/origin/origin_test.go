package origin

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeHeader(t *testing.T) {
	tests := []struct {
		name           string
		in             string
		wantNormalized string
		wantHost       string
		wantOK         bool
	}{
		{"lowercases and drops default port", "HTTPS://Example.COM:443", "https://example.com", "example.com", true},
		{"keeps non-default port", "http://localhost:5173", "http://localhost:5173", "localhost:5173", true},
		{"allows trailing slash", "http://localhost:5173/", "http://localhost:5173", "localhost:5173", true},
		{"ipv6 literal", "http://[::1]:8000", "http://[::1]:8000", "[::1]:8000", true},
		{"null origin", "null", "null", "", true},
		{"empty", "  ", "", "", false},
		{"ftp scheme", "ftp://example.com", "", "", false},
		{"path", "https://example.com/path", "", "", false},
		{"query", "https://example.com/?q=1", "", "", false},
		{"credentials", "https://user@example.com", "", "", false},
		{"fragment", "https://example.com/#frag", "", "", false},
		{"port zero", "https://example.com:0", "", "", false},
		{"list smuggling", "https://example.com,https://evil.example.com", "", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			normalized, host, ok := NormalizeHeader(tc.in)
			require.Equal(t, tc.wantOK, ok)
			require.Equal(t, tc.wantNormalized, normalized)
			require.Equal(t, tc.wantHost, host)
		})
	}
}

func TestIsAllowed(t *testing.T) {
	req := require.New(t)
	normalized, host, ok := NormalizeHeader("https://app.example.com")
	req.True(ok)

	// Default is same host:port only
	req.True(IsAllowed(normalized, host, "app.example.com", nil))
	req.True(IsAllowed(normalized, host, "APP.example.com:443", nil))
	req.False(IsAllowed(normalized, host, "app.example.com:8443", nil))
	req.False(IsAllowed(normalized, host, "relay.example.com", nil))

	// Wildcard admits anything
	req.True(IsAllowed(normalized, host, "whatever:1234", []string{Wildcard}))

	// Explicit list
	req.True(IsAllowed(normalized, host, "relay.example.com", []string{"https://app.example.com"}))
	req.False(IsAllowed(normalized, host, "relay.example.com", []string{"https://other.example.com"}))

	// null only when listed
	req.False(IsAllowed("null", "", "relay.example.com", nil))
	req.True(IsAllowed("null", "", "relay.example.com", []string{"null"}))
}

func TestPolicyCheck(t *testing.T) {
	req := require.New(t)
	newReq := func(host, origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "http://"+host+"/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	sameHost := Policy{}
	normalized, ok := sameHost.Check(newReq("relay.local:8000", ""))
	req.True(ok, "requests without Origin are allowed")
	req.Empty(normalized)

	normalized, ok = sameHost.Check(newReq("relay.local:8000", "http://relay.local:8000"))
	req.True(ok)
	req.Equal("http://relay.local:8000", normalized)

	_, ok = sameHost.Check(newReq("relay.local:8000", "http://evil.local"))
	req.False(ok)

	_, ok = sameHost.Check(newReq("relay.local:8000", "not a url"))
	req.False(ok)

	open := Policy{AllowedOrigins: []string{Wildcard}}
	_, ok = open.Check(newReq("relay.local:8000", "http://evil.local"))
	req.True(ok)
}

func TestParseList(t *testing.T) {
	req := require.New(t)

	got, ok := ParseList(" https://A.example.com:443 , *,,http://localhost:3000 ")
	req.True(ok)
	req.Equal([]string{"https://a.example.com", "*", "http://localhost:3000"}, got)

	got, ok = ParseList("")
	req.True(ok)
	req.Empty(got)

	_, ok = ParseList("https://ok.example.com,example.com")
	req.False(ok)
}
