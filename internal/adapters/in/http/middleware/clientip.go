package middleware

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Proxies lists the reverse proxies allowed to set forwarding headers in
// front of the dashboard.
type Proxies []*net.IPNet

// ParseProxies reads single addresses and CIDR ranges. Single addresses
// become /32 or /128 blocks. Every invalid entry is reported.
func ParseProxies(entries []string) (Proxies, error) {
	var (
		proxies Proxies
		errs    []error
	)
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if _, block, err := net.ParseCIDR(entry); err == nil {
			proxies = append(proxies, block)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			errs = append(errs, fmt.Errorf("%q is neither an address nor a CIDR range", entry))
			continue
		}
		bits := 128
		if ip.To4() != nil {
			ip, bits = ip.To4(), 32
		}
		proxies = append(proxies, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return proxies, errors.Join(errs...)
}

// Trusts reports whether addr belongs to a listed proxy.
func (p Proxies) Trusts(addr string) bool {
	ip := net.ParseIP(strings.TrimSpace(addr))
	if ip == nil {
		return false
	}
	for _, block := range p {
		if block.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP returns the address a login attempt is charged to. Forwarding
// headers count only when the direct peer is trusted; X-Forwarded-For is
// read from the nearest hop and the first untrusted hop wins, so a value
// the client put at the front of the header is ignored.
func (p Proxies) ClientIP(r *http.Request) string {
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		peer = r.RemoteAddr
	}
	if !p.Trusts(peer) {
		return peer
	}

	if xff := r.Header.Get(echo.HeaderXForwardedFor); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if net.ParseIP(hop) == nil {
				return peer
			}
			if !p.Trusts(hop) {
				return hop
			}
		}
		return strings.TrimSpace(hops[0])
	}

	if xri := strings.TrimSpace(r.Header.Get(echo.HeaderXRealIP)); net.ParseIP(xri) != nil {
		return xri
	}
	return peer
}

// Extractor makes echo's RealIP use ClientIP.
func (p Proxies) Extractor() echo.IPExtractor {
	return p.ClientIP
}

// LoginKey is the rate limit key for a dashboard login attempt.
func LoginKey(c echo.Context) string {
	return "login:" + c.RealIP()
}
