package http

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIP(t *testing.T) {
	tests := map[string]string{
		"10.0.0.7:51234":           "10.0.0.7",
		"10.0.0.7:60001":           "10.0.0.7",
		"[2001:db8::1]:443":        "2001:db8::1",
		"203.0.113.9":              "203.0.113.9",
		"[2001:db8::1]:not-a-port": "2001:db8::1",
	}
	for remote, want := range tests {
		r := httptest.NewRequest("GET", "/v1/tables", nil)
		r.RemoteAddr = remote
		assert.Equal(t, want, clientIP(r), remote)
	}
}
