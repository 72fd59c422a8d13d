package origin

import (
	"net/http/httptest"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		raw        string
		normalized string
		host       string
	}{
		{"HTTPS://Example.COM:443", "https://example.com", "example.com"},
		{"http://localhost:5173/", "http://localhost:5173", "localhost:5173"},
		{"http://example.com:80", "http://example.com", "example.com"},
		{"https://example.com:80", "https://example.com:80", "example.com:80"},
		{"http://[::1]:8080", "http://[::1]:8080", "[::1]:8080"},
		{"null", "null", ""},
	}
	for _, tc := range cases {
		normalized, host, ok := Normalize(tc.raw)
		if !ok {
			t.Fatalf("Normalize(%q): ok=false", tc.raw)
		}
		if normalized != tc.normalized || host != tc.host {
			t.Fatalf("Normalize(%q)=(%q, %q), want (%q, %q)", tc.raw, normalized, host, tc.normalized, tc.host)
		}
	}
}

func TestNormalize_Rejects(t *testing.T) {
	for _, raw := range []string{
		"",
		"ftp://example.com",
		"https://example.com/path",
		"https://example.com/?q=1",
		"https://user@example.com",
		"https://example.com/#frag",
		"https://example.com:0",
		"https://example.com:99999",
		"https://example.com:",
		"example.com",
	} {
		if _, _, ok := Normalize(raw); ok {
			t.Fatalf("Normalize(%q): expected ok=false", raw)
		}
	}
}

func TestPolicy_SameHostDefault(t *testing.T) {
	p := NewPolicy(nil)

	r := httptest.NewRequest("GET", "http://relay.example.com/", nil)
	r.Header.Set("Origin", "https://relay.example.com")
	if got, ok := p.Allow(r); !ok || got != "https://relay.example.com" {
		t.Fatalf("same host: got=%q ok=%v", got, ok)
	}

	r.Header.Set("Origin", "https://evil.example.com")
	if _, ok := p.Allow(r); ok {
		t.Fatalf("expected cross-host origin to be rejected")
	}

	r.Header.Set("Origin", "null")
	if _, ok := p.Allow(r); ok {
		t.Fatalf("expected null origin to be rejected by same-host policy")
	}

	r.Header.Del("Origin")
	if _, ok := p.Allow(r); !ok {
		t.Fatalf("expected request without Origin to be allowed")
	}
}

func TestPolicy_ExplicitList(t *testing.T) {
	p := NewPolicy([]string{"http://localhost:5173", "not an origin"})

	r := httptest.NewRequest("GET", "http://127.0.0.1:8080/", nil)
	r.Header.Set("Origin", "http://LOCALHOST:5173")
	if _, ok := p.Allow(r); !ok {
		t.Fatalf("expected listed origin to be allowed")
	}

	r.Header.Set("Origin", "http://127.0.0.1:8080")
	if _, ok := p.Allow(r); ok {
		t.Fatalf("expected same-host origin to be rejected when a list is configured")
	}
}

func TestPolicy_Wildcard(t *testing.T) {
	p := NewPolicy([]string{"*"})

	r := httptest.NewRequest("GET", "http://127.0.0.1:8080/", nil)
	r.Header.Set("Origin", "https://anything.example")
	if _, ok := p.Allow(r); !ok {
		t.Fatalf("expected wildcard to allow any origin")
	}

	r.Header.Set("Origin", "javascript:alert(1)")
	if _, ok := p.Allow(r); ok {
		t.Fatalf("expected malformed origin to be rejected even with wildcard")
	}
}
