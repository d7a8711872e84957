package browser

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// SecurityValidator validates URLs and enforces security policies
type SecurityValidator struct {
	config SecurityConfig
	logger zerolog.Logger
}

// NewSecurityValidator creates a new security validator
func NewSecurityValidator(config SecurityConfig, logger zerolog.Logger) *SecurityValidator {
	return &SecurityValidator{
		config: config,
		logger: logger,
	}
}

// ValidateURL validates a URL and checks security policies
func (sv *SecurityValidator) ValidateURL(urlStr string) error {
	parsedURL, err := url.Parse(strings.TrimSpace(urlStr))
	if err != nil {
		return &BrowserError{
			Code:    ErrCodeValidation,
			Message: fmt.Sprintf("Invalid URL format: %s", urlStr),
		}
	}

	switch parsedURL.Scheme {
	case "http", "https":
		if parsedURL.Host == "" {
			return &BrowserError{
				Code:    ErrCodeValidation,
				Message: fmt.Sprintf("URL has no host: %s", urlStr),
			}
		}
	case "file":
		if !sv.config.AllowFileUrls {
			sv.logSecurityViolation("file_url_blocked", urlStr)
			return &BrowserError{
				Code:    ErrCodeSecurity,
				Message: "file:// URLs are not allowed",
				Details: map[string]interface{}{
					"url": urlStr,
				},
			}
		}
		return nil
	default:
		return &BrowserError{
			Code:    ErrCodeValidation,
			Message: fmt.Sprintf("Unsupported URL scheme %q: %s", parsedURL.Scheme, urlStr),
		}
	}

	if sv.isLocalhostURL(parsedURL) && !sv.config.AllowLocalhostUrls {
		sv.logSecurityViolation("localhost_url_blocked", urlStr)
		return &BrowserError{
			Code:    ErrCodeSecurity,
			Message: "localhost URLs are not allowed",
			Details: map[string]interface{}{
				"url": urlStr,
			},
		}
	}

	host := parsedURL.Hostname()

	if len(sv.config.AllowedDomains) > 0 && !sv.matchAny(host, sv.config.AllowedDomains) {
		sv.logSecurityViolation("domain_not_allowed", urlStr)
		return &BrowserError{
			Code:    ErrCodeSecurity,
			Message: fmt.Sprintf("Domain not in allowed list: %s", host),
			Details: map[string]interface{}{
				"url":    urlStr,
				"domain": host,
			},
		}
	}

	if len(sv.config.BlockedDomains) > 0 && sv.matchAny(host, sv.config.BlockedDomains) {
		sv.logSecurityViolation("domain_blocked", urlStr)
		return &BrowserError{
			Code:    ErrCodeSecurity,
			Message: fmt.Sprintf("Domain is blocked: %s", host),
			Details: map[string]interface{}{
				"url":    urlStr,
				"domain": host,
			},
		}
	}

	return nil
}

// isLocalhostURL checks if a URL points to localhost
func (sv *SecurityValidator) isLocalhostURL(parsedURL *url.URL) bool {
	host := strings.ToLower(parsedURL.Hostname())

	return host == "localhost" ||
		host == "127.0.0.1" ||
		host == "::1" ||
		host == "0.0.0.0" ||
		strings.HasPrefix(host, "127.") ||
		strings.HasSuffix(host, ".localhost")
}

func (sv *SecurityValidator) matchAny(host string, patterns []string) bool {
	host = strings.ToLower(host)
	for _, p := range patterns {
		if sv.matchDomain(host, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// matchDomain checks if a host matches a domain pattern
func (sv *SecurityValidator) matchDomain(host, pattern string) bool {
	if host == pattern {
		return true
	}

	// *.example.com
	if strings.HasPrefix(pattern, "*.") {
		suffix := pattern[2:]
		return strings.HasSuffix(host, "."+suffix) || host == suffix
	}

	// .example.com
	if strings.HasPrefix(pattern, ".") {
		return strings.HasSuffix(host, pattern) || host == pattern[1:]
	}

	return false
}

func (sv *SecurityValidator) logSecurityViolation(violationType, url string) {
	sv.logger.Warn().
		Str("violation", violationType).
		Str("url", url).
		Msg("Browser security violation")
}

// ValidateNavigationTimeout validates navigation timeout bounds
func ValidateNavigationTimeout(timeout int) error {
	if timeout < 5 || timeout > 120 {
		return &BrowserError{
			Code:    ErrCodeValidation,
			Message: fmt.Sprintf("Navigation timeout must be between 5 and 120 seconds, got %d", timeout),
		}
	}
	return nil
}
