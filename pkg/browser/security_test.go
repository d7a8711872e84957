package browser

import (
	"net/url"
	"strconv"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		config  SecurityConfig
		url     string
		wantErr bool
	}{
		{
			name:    "valid http URL",
			config:  SecurityConfig{},
			url:     "https://example.com",
			wantErr: false,
		},
		{
			name: "file URL blocked",
			config: SecurityConfig{
				AllowFileUrls: false,
			},
			url:     "file:///etc/passwd",
			wantErr: true,
		},
		{
			name: "file URL allowed",
			config: SecurityConfig{
				AllowFileUrls: true,
			},
			url:     "file:///tmp/test.html",
			wantErr: false,
		},
		{
			name: "localhost blocked",
			config: SecurityConfig{
				AllowLocalhostUrls: false,
			},
			url:     "http://localhost:8080",
			wantErr: true,
		},
		{
			name: "localhost allowed",
			config: SecurityConfig{
				AllowLocalhostUrls: true,
			},
			url:     "http://localhost:8080",
			wantErr: false,
		},
		{
			name: "127.0.0.1 blocked",
			config: SecurityConfig{
				AllowLocalhostUrls: false,
			},
			url:     "http://127.0.0.1:8080",
			wantErr: true,
		},
		{
			name: "domain in allowed list",
			config: SecurityConfig{
				AllowedDomains: []string{"example.com"},
			},
			url:     "https://example.com/page",
			wantErr: false,
		},
		{
			name: "domain not in allowed list",
			config: SecurityConfig{
				AllowedDomains: []string{"example.com"},
			},
			url:     "https://other.com/page",
			wantErr: true,
		},
		{
			name: "domain in blocked list",
			config: SecurityConfig{
				BlockedDomains: []string{"blocked.com"},
			},
			url:     "https://blocked.com/page",
			wantErr: true,
		},
		{
			name: "wildcard allowed domain",
			config: SecurityConfig{
				AllowedDomains: []string{"*.example.com"},
			},
			url:     "https://sub.example.com/page",
			wantErr: false,
		},
		{
			name:    "invalid URL format",
			config:  SecurityConfig{},
			url:     "://invalid",
			wantErr: true,
		},
		{
			name:    "unsupported scheme",
			config:  SecurityConfig{},
			url:     "javascript:alert(1)",
			wantErr: true,
		},
		{
			name:    "missing host",
			config:  SecurityConfig{},
			url:     "https://",
			wantErr: true,
		},
		{
			name: "blocked domain is case insensitive",
			config: SecurityConfig{
				BlockedDomains: []string{"Blocked.com"},
			},
			url:     "https://BLOCKED.com/",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sv := NewSecurityValidator(tt.config, zerolog.Nop())
			err := sv.ValidateURL(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
				if err != nil {
					browserErr, ok := err.(*BrowserError)
					assert.True(t, ok)
					assert.Contains(t, []string{ErrCodeSecurity, ErrCodeValidation}, browserErr.Code)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsLocalhostURL(t *testing.T) {
	sv := NewSecurityValidator(SecurityConfig{}, zerolog.Nop())

	tests := []struct {
		url      string
		expected bool
	}{
		{"http://localhost", true},
		{"http://localhost:8080", true},
		{"http://app.localhost", true},
		{"http://[::1]:3000", true},
		{"http://127.0.0.1", true},
		{"http://127.0.0.1:8080", true},
		{"http://127.1.2.3", true},
		{"http://0.0.0.0", true},
		{"http://example.com", false},
		{"http://192.168.1.1", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			parsedURL, err := url.Parse(tt.url)
			require.NoError(t, err)
			result := sv.isLocalhostURL(parsedURL)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestMatchDomain(t *testing.T) {
	sv := NewSecurityValidator(SecurityConfig{}, zerolog.Nop())

	tests := []struct {
		host     string
		pattern  string
		expected bool
	}{
		{"example.com", "example.com", true},
		{"sub.example.com", "*.example.com", true},
		{"example.com", "*.example.com", true},
		{"sub.example.com", ".example.com", true},
		{"example.com", ".example.com", true},
		{"other.com", "example.com", false},
		{"other.com", "*.example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.host+"_"+tt.pattern, func(t *testing.T) {
			result := sv.matchDomain(tt.host, tt.pattern)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestValidateNavigationTimeout(t *testing.T) {
	tests := []struct {
		timeout int
		wantErr bool
	}{
		{5, false},
		{30, false},
		{120, false},
		{4, true},
		{121, true},
		{0, true},
		{-1, true},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.timeout), func(t *testing.T) {
			err := ValidateNavigationTimeout(tt.timeout)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
