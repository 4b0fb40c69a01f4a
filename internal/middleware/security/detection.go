// Package security provides response hardening headers, client IP extraction
// behind trusted proxies and a probe detector for the JSON API.
package security

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"

	"conti/internal/log"
)

// DetectionMetrics tracks security detection events
type DetectionMetrics struct {
	SuspiciousRequests int64
	BlockedRequests    int64
}

// Detector flags scanner probes and resolves the real client IP.
type Detector struct {
	logger         *log.Logger
	trustedProxies []*net.IPNet
	suspicious     atomic.Int64
	blocked        atomic.Int64
}

var (
	suspiciousPatterns = []string{
		"../", "..\\", ".env", "wp-admin", "phpmyadmin",
		"admin.php", "config.php", ".git", ".ssh",
		"eval(", "javascript:", "<script", "union select",
		"etc/passwd", "cmd.exe",
	}
	suspiciousAgents = []string{"sqlmap", "nmap", "nikto", "gobuster", "dirb", "masscan"}
	blockedMethods   = []string{"TRACE", "TRACK", "DEBUG", "CONNECT"}
)

const maxURLLength = 2048

func NewDetector(logger *log.Logger) *Detector {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Detector{
		logger: logger.WithComponent(log.ComponentSecurity),
		trustedProxies: []*net.IPNet{
			parseCIDR("127.0.0.0/8"),
			parseCIDR("10.0.0.0/8"),
			parseCIDR("172.16.0.0/12"),
			parseCIDR("192.168.0.0/16"),
			parseCIDR("::1/128"),
		},
	}
}

func parseCIDR(cidr string) *net.IPNet {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		panic(fmt.Sprintf("failed to parse trusted proxy CIDR %s: %v", cidr, err))
	}
	return network
}

// DetectSuspiciousRequest returns the reason r looks like a probe, or "".
func (d *Detector) DetectSuspiciousRequest(r *http.Request) string {
	path := strings.ToLower(r.URL.Path)
	query := strings.ToLower(r.URL.RawQuery)
	for _, p := range suspiciousPatterns {
		if strings.Contains(path, p) || strings.Contains(query, p) {
			return "pattern " + p
		}
	}

	ua := strings.ToLower(r.Header.Get("User-Agent"))
	for _, a := range suspiciousAgents {
		if strings.Contains(ua, a) {
			return "user agent " + a
		}
	}

	if len(r.URL.String()) > maxURLLength {
		return "url too long"
	}
	if xff := r.Header.Get("X-Forwarded-For"); strings.Count(xff, ",") > 5 {
		return "forwarding chain too long"
	}
	return ""
}

func blockedMethod(m string) bool {
	for _, b := range blockedMethods {
		if m == b {
			return true
		}
	}
	return false
}

// Middleware rejects debug methods with 405 and probes with 404. Both are
// logged at Warn with the client IP.
func (d *Detector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if blockedMethod(r.Method) {
			d.blocked.Add(1)
			d.logger.WarnContext(r.Context(), "Blocked HTTP method",
				log.FieldMethod, r.Method, log.FieldClientIP, d.ExtractClientIP(r))
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		if reason := d.DetectSuspiciousRequest(r); reason != "" {
			d.suspicious.Add(1)
			d.logger.WarnContext(r.Context(), "Suspicious request rejected",
				"reason", reason,
				log.FieldPath, r.URL.Path,
				log.FieldClientIP, d.ExtractClientIP(r))
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ExtractClientIP returns the direct peer address unless it is a trusted proxy,
// in which case the first valid X-Forwarded-For entry or X-Real-IP wins.
func (d *Detector) ExtractClientIP(r *http.Request) string {
	directIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		directIP = r.RemoteAddr
	}

	parsed := net.ParseIP(directIP)
	if parsed == nil || !d.isTrustedProxy(parsed) {
		return directIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		first = strings.TrimSpace(first)
		if net.ParseIP(first) != nil {
			return first
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
		return xri
	}
	return directIP
}

func (d *Detector) isTrustedProxy(ip net.IP) bool {
	for _, network := range d.trustedProxies {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

func (d *Detector) GetMetrics() DetectionMetrics {
	return DetectionMetrics{
		SuspiciousRequests: d.suspicious.Load(),
		BlockedRequests:    d.blocked.Load(),
	}
}

// AddTrustedProxy adds a trusted proxy network. Not safe once serving.
func (d *Detector) AddTrustedProxy(cidr string) error {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return fmt.Errorf("invalid CIDR %s: %w", cidr, err)
	}
	d.trustedProxies = append(d.trustedProxies, network)
	return nil
}
