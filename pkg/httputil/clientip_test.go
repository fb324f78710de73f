package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTrustedProxies(t *testing.T) {
	trusted, err := ParseTrustedProxies([]string{"10.0.0.0/8", " 192.168.1.10 ", "", "::1"})
	require.NoError(t, err)
	require.Len(t, trusted, 3)
	assert.True(t, trusted.contains("10.20.30.40"))
	assert.True(t, trusted.contains("192.168.1.10"))
	assert.False(t, trusted.contains("192.168.1.11"))
	assert.True(t, trusted.contains("::1"))

	_, err = ParseTrustedProxies([]string{"not-an-ip"})
	assert.Error(t, err)
	_, err = ParseTrustedProxies([]string{"10.0.0.0/99"})
	assert.Error(t, err)
}

func TestTrustedProxies_Resolve(t *testing.T) {
	trusted, err := ParseTrustedProxies([]string{"10.0.0.0/8"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		proxies TrustedProxies
		remote  string
		xff     string
		realIP  string
		want    string
	}{
		{name: "no proxies trusted ignores headers", remote: "203.0.113.9:5555", xff: "198.51.100.1", realIP: "198.51.100.2", want: "203.0.113.9"},
		{name: "untrusted peer ignores headers", proxies: trusted, remote: "203.0.113.9:5555", xff: "198.51.100.1", want: "203.0.113.9"},
		{name: "trusted peer forwards client", proxies: trusted, remote: "10.0.0.5:5555", xff: "198.51.100.1", want: "198.51.100.1"},
		{name: "spoofed left hops are skipped", proxies: trusted, remote: "10.0.0.5:5555", xff: "1.2.3.4, 198.51.100.1, 10.0.0.7", want: "198.51.100.1"},
		{name: "real ip fallback", proxies: trusted, remote: "10.0.0.5:5555", realIP: "198.51.100.2", want: "198.51.100.2"},
		{name: "garbage hop stops the walk", proxies: trusted, remote: "10.0.0.5:5555", xff: "junk", want: "10.0.0.5"},
		{name: "remote without port", remote: "203.0.113.9", want: "203.0.113.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}
			assert.Equal(t, tt.want, tt.proxies.Resolve(r))
		})
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.9:5555"
	r.Header.Set("X-Forwarded-For", "198.51.100.1")
	r.Header.Set("X-Real-IP", "198.51.100.2")
	assert.Equal(t, "203.0.113.9", ClientIP(r), "headers are not read without the middleware")

	trusted, err := ParseTrustedProxies([]string{"203.0.113.0/24"})
	require.NoError(t, err)
	var got string
	ClientIPMiddleware(trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClientIP(r)
	})).ServeHTTP(httptest.NewRecorder(), r)
	assert.Equal(t, "198.51.100.1", got)
}
