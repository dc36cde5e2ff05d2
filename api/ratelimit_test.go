package api

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRequest(remoteAddr string, headers map[string]string) *http.Request {
	r := &http.Request{RemoteAddr: remoteAddr, Header: make(http.Header)}
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

func TestExtractClientIP_NoTrustedProxies(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{name: "remote ipv4", remoteAddr: "192.168.1.1:12345", want: "192.168.1.1"},
		{name: "remote ipv6", remoteAddr: "[::1]:8080", want: "::1"},
		{name: "ipv4-mapped ipv6", remoteAddr: "[::ffff:192.0.2.1]:80", want: "192.0.2.1"},
		{
			name:       "headers ignored",
			remoteAddr: "192.168.1.1:80",
			headers: map[string]string{
				"X-Forwarded-For": "198.51.100.25",
				"Forwarded":       "for=198.51.100.26",
				"X-Real-IP":       "198.51.100.27",
			},
			want: "192.168.1.1",
		},
		{name: "empty when nothing parseable", remoteAddr: "not-a-hostport", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractClientIPWithProxies(newRequest(tt.remoteAddr, tt.headers), nil)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractClientIPWithTrustedProxies(t *testing.T) {
	trustedCIDR := netip.MustParsePrefix("10.0.0.0/8")

	tests := []struct {
		name           string
		remoteAddr     string
		headers        map[string]string
		trustedProxies []netip.Prefix
		want           string
	}{
		{
			name:           "trusted proxy honors XFF",
			remoteAddr:     "10.0.0.1:80",
			headers:        map[string]string{"X-Forwarded-For": "198.51.100.25"},
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "198.51.100.25",
		},
		{
			name:           "xff skips invalid entries",
			remoteAddr:     "10.0.0.1:80",
			headers:        map[string]string{"X-Forwarded-For": "unknown, not-an-ip, 203.0.113.7"},
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "203.0.113.7",
		},
		{
			name:           "forwarded fallback",
			remoteAddr:     "10.0.0.1:80",
			headers:        map[string]string{"Forwarded": `for=198.51.100.1;proto=https;by=203.0.113.43`},
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "198.51.100.1",
		},
		{
			name:           "x-real-ip fallback",
			remoteAddr:     "10.0.0.1:80",
			headers:        map[string]string{"X-Real-IP": "203.0.113.11"},
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "203.0.113.11",
		},
		{
			name:           "untrusted peer ignores XFF",
			remoteAddr:     "192.168.1.1:80",
			headers:        map[string]string{"X-Forwarded-For": "198.51.100.25"},
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "192.168.1.1",
		},
		{
			name:           "trusted proxy with no headers falls back to remote",
			remoteAddr:     "10.0.0.1:80",
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "10.0.0.1",
		},
		{
			name:           "multiple CIDRs - second matches",
			remoteAddr:     "172.16.0.1:80",
			headers:        map[string]string{"X-Forwarded-For": "198.51.100.25"},
			trustedProxies: []netip.Prefix{trustedCIDR, netip.MustParsePrefix("172.16.0.0/12")},
			want:           "198.51.100.25",
		},
		{
			name:           "trusted IPv6 proxy with Forwarded quoted IPv6",
			remoteAddr:     "[fd00::1]:80",
			headers:        map[string]string{"Forwarded": `for="[2001:db8::42]:1234"`},
			trustedProxies: []netip.Prefix{netip.MustParsePrefix("fd00::/8")},
			want:           "2001:db8::42",
		},
		{
			name:       "spoof attempt from untrusted peer",
			remoteAddr: "203.0.113.99:12345",
			headers: map[string]string{
				"X-Forwarded-For": "10.0.0.1",
				"Forwarded":       "for=10.0.0.2",
				"X-Real-IP":       "10.0.0.3",
			},
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "203.0.113.99",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractClientIPWithProxies(newRequest(tt.remoteAddr, tt.headers), tt.trustedProxies)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractClientIP_MultiHopXFF(t *testing.T) {
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}
	r := newRequest("10.0.0.5:80", map[string]string{
		"X-Forwarded-For": "203.0.113.50, 10.0.0.3, 10.0.0.4",
	})
	assert.Equal(t, "203.0.113.50", extractClientIPWithProxies(r, trusted))
}

func TestAPIExtractClientIP_Method(t *testing.T) {
	a := &API{trustedProxies: []netip.Prefix{netip.MustParsePrefix("10.0.0.1/32")}}

	r := newRequest("10.0.0.1:80", map[string]string{"X-Forwarded-For": "198.51.100.25"})
	assert.Equal(t, "198.51.100.25", a.extractClientIP(r))

	r = newRequest("10.0.0.2:80", map[string]string{"X-Forwarded-For": "198.51.100.25"})
	assert.Equal(t, "10.0.0.2", a.extractClientIP(r), "10.0.0.2 is not in 10.0.0.1/32")
}

func TestParseTrustedProxies(t *testing.T) {
	prefixes, err := parseTrustedProxies([]string{"10.0.0.0/8", " 10.0.0.1 ", "::1", ""})
	require.NoError(t, err)
	require.Len(t, prefixes, 3)
	assert.Equal(t, netip.MustParsePrefix("10.0.0.0/8"), prefixes[0])
	assert.Equal(t, netip.MustParsePrefix("10.0.0.1/32"), prefixes[1])
	assert.Equal(t, netip.MustParsePrefix("::1/128"), prefixes[2])

	_, err = parseTrustedProxies([]string{"not-a-cidr"})
	assert.Error(t, err)
	_, err = parseTrustedProxies([]string{"10.0.0.0/8", "garbage/33"})
	assert.Error(t, err)
}

func TestRetryAfterString(t *testing.T) {
	assert.Equal(t, "1", retryAfterString(0))
	assert.Equal(t, "1", retryAfterString(200*time.Millisecond))
	assert.Equal(t, "2", retryAfterString(1500*time.Millisecond))
	assert.Equal(t, "900", retryAfterString(15*time.Minute))
}

func TestWriteRateLimited(t *testing.T) {
	rr := httptest.NewRecorder()
	writeRateLimited(rr, 90*time.Second)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "90", rr.Header().Get("Retry-After"))
	assert.Contains(t, rr.Body.String(), "too many failed attempts")
}
