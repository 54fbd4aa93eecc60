// Package origin decides whether a browser Origin may talk to the relay.
package origin

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// Wildcard in an allow-list admits every origin.
const Wildcard = "*"

// NormalizeHeader validates an Origin header and returns it as
// scheme://host[:port] together with the host[:port] used for same-host
// checks. Default ports are dropped. "null" is accepted as-is.
func NormalizeHeader(originHeader string) (normalizedOrigin string, host string, ok bool) {
	trimmed := strings.TrimSpace(originHeader)
	switch trimmed {
	case "":
		return "", "", false
	case "null":
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host, ok = canonicalHost(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// IsAllowed reports whether a normalized origin may reach requestHost.
//
// A non-empty allowedOrigins is an explicit allow-list of normalized origins or
// Wildcard. An empty list means same host:port only. Schemes are not compared
// so that a TLS-terminating proxy in front of the relay does not break the
// check.
func IsAllowed(normalizedOrigin, originHost, requestHost string, allowedOrigins []string) bool {
	if len(allowedOrigins) > 0 {
		return lo.SomeBy(allowedOrigins, func(allowed string) bool {
			return allowed == Wildcard || allowed == normalizedOrigin
		})
	}

	scheme, _, found := strings.Cut(normalizedOrigin, "://")
	if !found || (scheme != "http" && scheme != "https") {
		return false
	}
	reqHost, ok := canonicalHost(strings.ToLower(strings.TrimSpace(requestHost)), scheme)
	if !ok {
		return false
	}
	return originHost == reqHost
}

// Policy applies IsAllowed to incoming requests.
type Policy struct {
	AllowedOrigins []string
}

// Check inspects r's Origin header. Requests without one (non-browser clients)
// are always allowed and return an empty normalized origin.
func (p Policy) Check(r *http.Request) (normalizedOrigin string, ok bool) {
	header := strings.TrimSpace(r.Header.Get("Origin"))
	if header == "" {
		return "", true
	}
	normalized, host, valid := NormalizeHeader(header)
	if !valid {
		return "", false
	}
	return normalized, IsAllowed(normalized, host, r.Host, p.AllowedOrigins)
}

// ParseList parses a comma-separated allow-list, normalizing each entry.
func ParseList(raw string) ([]string, bool) {
	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		switch entry {
		case "":
			continue
		case Wildcard:
			out = append(out, entry)
			continue
		}
		normalized, _, ok := NormalizeHeader(entry)
		if !ok {
			return nil, false
		}
		out = append(out, normalized)
	}
	return out, true
}

func canonicalHost(authority, scheme string) (string, bool) {
	rawHostname, rawPort, ok := splitHostPort(authority)
	if !ok {
		return "", false
	}
	hostname := strings.ToLower(rawHostname)
	if hostname == "" {
		return "", false
	}

	var port uint64
	if rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host += ":" + strconv.FormatUint(port, 10)
	}
	return host, true
}

// splitHostPort splits host[:port]. IPv6 literals come back without brackets.
func splitHostPort(authority string) (hostname, port string, ok bool) {
	if authority == "" {
		return "", "", false
	}

	if strings.HasPrefix(authority, "[") {
		end := strings.IndexByte(authority, ']')
		if end < 0 {
			return "", "", false
		}
		hostname = authority[1:end]
		rest := authority[end+1:]
		if rest == "" {
			return hostname, "", true
		}
		port, found := strings.CutPrefix(rest, ":")
		if !found || port == "" {
			return "", "", false
		}
		return hostname, port, true
	}

	if strings.Count(authority, ":") > 1 {
		return "", "", false
	}
	hostname, port, hasPort := strings.Cut(authority, ":")
	if hostname == "" || (hasPort && port == "") {
		return "", "", false
	}
	return hostname, port, true
}
