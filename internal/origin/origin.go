// Package origin checks browser Origin headers on WebSocket upgrades and
// plain HTTP requests.
package origin

import (
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Normalize validates a browser Origin header value and returns
// scheme://host[:port] with default ports dropped, plus the host[:port] part
// for same-host comparisons.
//
// The opaque origin "null" is returned as-is with an empty host.
func Normalize(raw string) (normalized, host string, ok bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "null" {
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host, ok = normalizeHost(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// normalizeHost lowercases an authority and drops the scheme's default port.
func normalizeHost(authority, scheme string) (string, bool) {
	authority = strings.ToLower(strings.TrimSpace(authority))
	if authority == "" {
		return "", false
	}

	hostname, port := authority, ""
	if h, p, err := net.SplitHostPort(authority); err == nil {
		if p == "" {
			return "", false
		}
		hostname, port = h, p
	} else if strings.HasPrefix(authority, "[") && strings.HasSuffix(authority, "]") {
		hostname = authority[1 : len(authority)-1]
	} else if strings.Contains(authority, ":") {
		// Unbracketed IPv6 or an empty port.
		return "", false
	}
	if hostname == "" {
		return "", false
	}

	if port != "" {
		n, err := strconv.ParseUint(port, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		if (scheme == "http" && n == 80) || (scheme == "https" && n == 443) {
			port = ""
		} else {
			port = strconv.FormatUint(n, 10)
		}
	}

	if strings.Contains(hostname, ":") {
		hostname = "[" + hostname + "]"
	}
	if port == "" {
		return hostname, true
	}
	return hostname + ":" + port, true
}

// Policy decides which browser origins may talk to the relay.
//
// With no configured origins only same-host requests are allowed. "*" allows
// every origin. Requests without an Origin header (non-browser clients) are
// always allowed.
type Policy struct {
	allowed []string
}

// NewPolicy builds a Policy from configured origins. Entries that fail
// normalization are ignored; config.Load rejects them before this point.
func NewPolicy(allowed []string) Policy {
	p := Policy{}
	for _, a := range allowed {
		if a == "*" {
			p.allowed = append(p.allowed, a)
			continue
		}
		if n, _, ok := Normalize(a); ok {
			p.allowed = append(p.allowed, n)
		}
	}
	return p
}

// Allow reports whether r may proceed. When the request carries a valid
// Origin header the normalized origin is returned for CORS headers.
func (p Policy) Allow(r *http.Request) (normalized string, ok bool) {
	raw := strings.TrimSpace(r.Header.Get("Origin"))
	if raw == "" {
		return "", true
	}

	normalized, host, ok := Normalize(raw)
	if !ok {
		return "", false
	}

	if len(p.allowed) > 0 {
		for _, a := range p.allowed {
			if a == "*" || a == normalized {
				return normalized, true
			}
		}
		return "", false
	}

	// Same-host default. The scheme is not compared: a TLS-terminating proxy
	// makes the relay see http while the browser reports https.
	if normalized == "null" {
		return "", false
	}
	scheme, _, _ := strings.Cut(normalized, "://")
	reqHost, ok := normalizeHost(r.Host, scheme)
	if !ok || reqHost != host {
		return "", false
	}
	return normalized, true
}
