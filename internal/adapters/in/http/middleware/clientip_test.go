package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProxies_ClientIP(t *testing.T) {
	trusted, err := ParseProxies([]string{"127.0.0.1", "10.0.0.0/8"})
	require.NoError(t, err)

	tests := []struct {
		name       string
		proxies    Proxies
		remoteAddr string
		xff        string
		xRealIP    string
		want       string
	}{
		{name: "remote addr with port", remoteAddr: "192.168.1.100:12345", want: "192.168.1.100"},
		{name: "remote addr without port", remoteAddr: "192.168.1.100", want: "192.168.1.100"},
		{name: "forwarded header from untrusted peer", proxies: trusted, remoteAddr: "192.168.1.100:1", xff: "203.0.113.50", want: "192.168.1.100"},
		{name: "skips trusted hops", proxies: trusted, remoteAddr: "10.0.0.5:1", xff: "203.0.113.50, 10.0.0.9", want: "203.0.113.50"},
		{name: "ignores client supplied prefix", proxies: trusted, remoteAddr: "10.0.0.5:1", xff: "1.2.3.4, 203.0.113.50", want: "203.0.113.50"},
		{name: "all hops trusted", proxies: trusted, remoteAddr: "10.0.0.5:1", xff: "10.0.0.7, 10.0.0.9", want: "10.0.0.7"},
		{name: "garbage hop falls back to peer", proxies: trusted, remoteAddr: "10.0.0.5:1", xff: "203.0.113.50, junk", want: "10.0.0.5"},
		{name: "real ip from trusted proxy", proxies: trusted, remoteAddr: "127.0.0.1:1", xRealIP: "198.51.100.7", want: "198.51.100.7"},
		{name: "invalid real ip", proxies: trusted, remoteAddr: "127.0.0.1:1", xRealIP: "nope", want: "127.0.0.1"},
		{name: "trusted proxy without headers", proxies: trusted, remoteAddr: "127.0.0.1:1", want: "127.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xRealIP != "" {
				req.Header.Set("X-Real-IP", tt.xRealIP)
			}

			assert.Equal(t, tt.want, tt.proxies.ClientIP(req))
		})
	}
}

func TestParseProxies(t *testing.T) {
	proxies, err := ParseProxies([]string{"192.168.1.1", " 10.0.0.0/8 ", "::1", "fd00::/8"})
	require.NoError(t, err)
	assert.Len(t, proxies, 4)

	assert.True(t, proxies.Trusts("192.168.1.1"))
	assert.False(t, proxies.Trusts("192.168.1.2"))
	assert.True(t, proxies.Trusts("10.1.2.3"))
	assert.True(t, proxies.Trusts("::1"))
	assert.True(t, proxies.Trusts("fd12:3456::1"))
	assert.False(t, proxies.Trusts("not-an-ip"))
	assert.False(t, Proxies(nil).Trusts("10.1.2.3"))
}

func TestParseProxies_ReportsEveryInvalidEntry(t *testing.T) {
	proxies, err := ParseProxies([]string{"not-an-ip", "10.0.0.0/8", "10.0.0.0/99"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"not-an-ip"`)
	assert.Contains(t, err.Error(), `"10.0.0.0/99"`)
	assert.Len(t, proxies, 1)
}

func TestProxies_ExtractorFeedsLoginKey(t *testing.T) {
	proxies, err := ParseProxies([]string{"10.0.0.0/8"})
	require.NoError(t, err)

	e := echo.New()
	e.IPExtractor = proxies.Extractor()

	var key string
	e.POST("/login", func(c echo.Context) error {
		key = LoginKey(c)
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	e.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "login:203.0.113.9", key)
}
