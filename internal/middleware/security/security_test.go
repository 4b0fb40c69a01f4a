package security

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"conti/internal/log"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestHeadersMiddleware(t *testing.T) {
	h := NewHeadersMiddleware(DefaultHeadersConfig()).Middleware(okHandler)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/transactions", nil))

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'; base-uri 'none'",
		"Cache-Control":           "no-store",
		"Referrer-Policy":         "no-referrer",
	}
	for k, v := range want {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
	if rec.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS must not be sent over plain HTTP")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.TLS = &tls.ConnectionState{}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Strict-Transport-Security"); got != "max-age=31536000; includeSubDomains" {
		t.Errorf("HSTS = %q", got)
	}
}

func TestHeadersMiddlewareSkipsEmptyValues(t *testing.T) {
	h := NewHeadersMiddleware(HeadersConfig{XContentTypeOptions: "nosniff"}).Middleware(okHandler)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if _, ok := rec.Header()["X-Frame-Options"]; ok {
		t.Error("empty config values must not produce headers")
	}
}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{"direct", "203.0.113.7:4242", nil, "203.0.113.7"},
		{"untrusted peer ignores forwarding", "203.0.113.7:1", map[string]string{"X-Forwarded-For": "1.1.1.1"}, "203.0.113.7"},
		{"trusted proxy xff", "10.0.0.2:1", map[string]string{"X-Forwarded-For": "198.51.100.1, 10.0.0.2"}, "198.51.100.1"},
		{"trusted proxy real ip", "127.0.0.1:1", map[string]string{"X-Real-IP": "198.51.100.9"}, "198.51.100.9"},
		{"trusted proxy garbage", "192.168.1.1:1", map[string]string{"X-Forwarded-For": "nope"}, "192.168.1.1"},
		{"no port", "203.0.113.8", nil, "203.0.113.8"},
	}
	d := NewDetector(log.Discard())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := d.ExtractClientIP(req); got != tt.want {
				t.Errorf("ExtractClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectorMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		method string
		target string
		agent  string
		want   int
	}{
		{"normal", http.MethodGet, "/api/v1/transactions?from=2024-01-01", "curl/8.0", http.StatusOK},
		{"dotenv probe", http.MethodGet, "/.env", "", http.StatusNotFound},
		{"traversal in query", http.MethodGet, "/api/v1/x?f=../../etc/passwd", "", http.StatusNotFound},
		{"scanner", http.MethodGet, "/", "sqlmap/1.7", http.StatusNotFound},
		{"long url", http.MethodGet, "/" + strings.Repeat("a", 2100), "", http.StatusNotFound},
		{"trace method", "TRACE", "/", "", http.StatusMethodNotAllowed},
	}
	d := NewDetector(log.Discard())
	h := d.Middleware(okHandler)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, nil)
			if tt.agent != "" {
				req.Header.Set("User-Agent", tt.agent)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
	m := d.GetMetrics()
	if m.SuspiciousRequests != 4 || m.BlockedRequests != 1 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestAddTrustedProxy(t *testing.T) {
	d := NewDetector(log.Discard())
	if err := d.AddTrustedProxy("not-a-cidr"); err == nil {
		t.Error("expected error")
	}
	if err := d.AddTrustedProxy("203.0.113.0/24"); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.5:80"
	req.Header.Set("X-Forwarded-For", "198.51.100.2")
	if got := d.ExtractClientIP(req); got != "198.51.100.2" {
		t.Errorf("ExtractClientIP = %q", got)
	}
}
