package browser

import (
	"time"
)

// Config configures page fetching.
type Config struct {
	Headless          bool           `json:"headless"`
	NoSandbox         bool           `json:"noSandbox"`
	ChromePath        string         `json:"chromePath,omitempty"`
	NavigationTimeout time.Duration  `json:"navigationTimeout"`
	MaxTextBytes      int            `json:"maxTextBytes"`
	Security          SecurityConfig `json:"security"`
}

// DefaultConfig returns headless fetching with a 30 second navigation timeout.
func DefaultConfig() Config {
	return Config{
		Headless:          true,
		NoSandbox:         true,
		NavigationTimeout: 30 * time.Second,
		MaxTextBytes:      500 * 1024,
	}
}

// SecurityConfig represents URL security policy.
type SecurityConfig struct {
	AllowFileUrls      bool     `json:"allowFileUrls"`
	AllowLocalhostUrls bool     `json:"allowLocalhostUrls"`
	AllowedDomains     []string `json:"allowedDomains,omitempty"`
	BlockedDomains     []string `json:"blockedDomains,omitempty"`
}

// Document is the visible text of a loaded page.
type Document struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	Text      string `json:"text"`
	Truncated bool   `json:"truncated,omitempty"`
	Duration  int64  `json:"duration"` // milliseconds
}

// BrowserError is returned for validation, navigation and extraction failures.
type BrowserError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e *BrowserError) Error() string {
	return e.Message
}

// Error codes
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeNavigation      = "NAVIGATION_ERROR"
	ErrCodeTimeout         = "TIMEOUT_ERROR"
	ErrCodeScriptExecution = "SCRIPT_EXECUTION_ERROR"
	ErrCodeSecurity        = "SECURITY_ERROR"
	ErrCodeBrowserCrash    = "BROWSER_CRASH"
)
