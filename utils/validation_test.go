package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsAllowedURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		allowed bool
	}{
		{"plain https", "https://example.com/watch?v=abc", true},
		{"plain http", "http://example.com/video", true},
		{"uppercase host", "https://EXAMPLE.com/v", true},
		{"host with port", "https://example.com:8443/v", true},
		{"empty", "", false},
		{"no scheme", "example.com/video", false},
		{"file scheme", "file:///etc/passwd", false},
		{"ftp scheme", "ftp://example.com/v", false},
		{"javascript scheme", "javascript:alert(1)", false},
		{"localhost", "http://localhost/x", false},
		{"localhost mixed case", "http://LocalHost/x", false},
		{"loopback", "http://127.0.0.1/x", false},
		{"loopback subnet", "http://127.1.2.3/x", false},
		{"rfc1918 192.168", "http://192.168.1.10/x", false},
		{"rfc1918 10", "http://10.0.0.5/x", false},
		{"rfc1918 172.16", "http://172.16.0.1/x", false},
		{"rfc1918 172.31", "http://172.31.255.1/x", false},
		{"not rfc1918 172.32", "http://172.32.0.1/x", true},
		{"not rfc1918 172.15", "http://172.15.0.1/x", true},
		{"zero address", "http://0.0.0.0/x", false},
		{"ipv6 loopback", "http://[::1]/x", false},
		{"missing host", "https:///path", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, IsAllowedURL(tt.url))
		})
	}
}

func TestIsAllowedURLLengthCap(t *testing.T) {
	base := "https://example.com/"
	long := base + strings.Repeat("a", 2048)
	assert.False(t, IsAllowedURL(long))

	ok := base + strings.Repeat("a", 2048-len(base))
	assert.True(t, IsAllowedURL(ok))
}

func TestIsAllowedURLDeterministic(t *testing.T) {
	urls := []string{"https://example.com/v", "http://localhost/x", "file:///tmp"}
	for _, u := range urls {
		first := IsAllowedURL(u)
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, IsAllowedURL(u))
		}
	}
}
