package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOriginAllowed(t *testing.T) {
	tests := []struct {
		name    string
		host    string
		origins []string
		want    bool
	}{
		{"wildcard", "anything.example.com", []string{"*"}, true},
		{"exact host", "api.example.com", []string{"api.example.com"}, true},
		{"exact host with port", "api.example.com:8443", []string{"api.example.com"}, true},
		{"exact pattern with port", "api.example.com:8443", []string{"api.example.com:8443"}, true},
		{"suffix wildcard", "api.example.com", []string{"*.example.com"}, true},
		{"suffix wildcard bare domain", "example.com", []string{"*.example.com"}, true},
		{"suffix wildcard mismatch", "example.org", []string{"*.example.com"}, false},
		{"suffix not fooled by substring", "notexample.com", []string{"*.example.com"}, false},
		{"empty list", "example.com", nil, false},
		{"no match", "evil.com", []string{"api.example.com", "*.trusted.io"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, originAllowed(tt.host, tt.origins))
		})
	}
}

func TestValidateRequest(t *testing.T) {
	b := New(DefaultConfig(), nil)
	origins := []string{"*"}

	tests := []struct {
		name    string
		req     request
		wantErr bool
	}{
		{"plain get", request{URL: "https://example.com/path", Method: "GET"}, false},
		{"post with headers", request{
			URL:     "http://example.com",
			Method:  "POST",
			Headers: [][2]string{{"Content-Type", "application/json"}},
		}, false},
		{"bad scheme", request{URL: "ftp://example.com", Method: "GET"}, true},
		{"empty host", request{URL: "http://", Method: "GET"}, true},
		{"bad method", request{URL: "http://example.com", Method: "TRACE"}, true},
		{"bad header name", request{
			URL:     "http://example.com",
			Method:  "GET",
			Headers: [][2]string{{"X Bad Header", "v"}},
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := b.validate(&tt.req, origins)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidHeaderName(t *testing.T) {
	assert.True(t, validHeaderName("Content-Type"))
	assert.True(t, validHeaderName("X_Custom_1"))
	assert.False(t, validHeaderName(""))
	assert.False(t, validHeaderName("Bad Header"))
	assert.False(t, validHeaderName("Bad:Header"))
}
