package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/harun/agentapi/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const navigationAttempts = 3

// Fetcher loads a URL and returns its visible text.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Document, error)
	Close() error
}

// RodFetcher fetches pages with a headless Chrome driven over CDP. The
// browser is launched on first use and reused until Close.
type RodFetcher struct {
	config    Config
	validator *SecurityValidator
	logger    zerolog.Logger

	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
	closed   bool
}

// NewRodFetcher creates a fetcher. No browser is started until Fetch.
func NewRodFetcher(config Config, logger zerolog.Logger) *RodFetcher {
	if config.NavigationTimeout <= 0 {
		config.NavigationTimeout = DefaultConfig().NavigationTimeout
	}
	if config.MaxTextBytes <= 0 {
		config.MaxTextBytes = DefaultConfig().MaxTextBytes
	}
	return &RodFetcher{
		config:    config,
		validator: NewSecurityValidator(config.Security, logger),
		logger:    logger,
	}
}

// Fetch validates url, navigates to it and extracts document.body.innerText.
func (f *RodFetcher) Fetch(ctx context.Context, url string) (*Document, error) {
	ctx, span := tracing.StartSpan(ctx, tracing.TracerTools, "browser.fetch",
		attribute.String("url", url),
	)
	defer span.End()

	doc, err := f.fetch(ctx, url)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("text_bytes", len(doc.Text)),
		attribute.Bool("truncated", doc.Truncated),
	)
	return doc, nil
}

func (f *RodFetcher) fetch(ctx context.Context, url string) (*Document, error) {
	if err := f.validator.ValidateURL(url); err != nil {
		return nil, err
	}

	browser, err := f.ensureBrowser()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= navigationAttempts; attempt++ {
		doc, err := f.load(ctx, browser, url)
		if err == nil {
			doc.Duration = time.Since(start).Milliseconds()
			f.logger.Debug().
				Str("url", url).
				Int("text_bytes", len(doc.Text)).
				Int("attempt", attempt).
				Msg("Page fetched")
			return doc, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < navigationAttempts {
			f.logger.Warn().Err(err).Str("url", url).Int("attempt", attempt).Msg("Page fetch failed, retrying")
			select {
			case <-time.After(time.Duration(1<<uint(attempt-1)) * time.Second):
			case <-ctx.Done():
			}
		}
	}

	if ctx.Err() != nil {
		return nil, &BrowserError{
			Code:    ErrCodeTimeout,
			Message: fmt.Sprintf("Fetching %s interrupted: %v", url, ctx.Err()),
		}
	}
	return nil, &BrowserError{
		Code:    ErrCodeNavigation,
		Message: fmt.Sprintf("Failed to fetch %s after %d attempts: %v", url, navigationAttempts, lastErr),
	}
}

func (f *RodFetcher) load(ctx context.Context, browser *rod.Browser, url string) (*Document, error) {
	tab, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	// Closed on the browser context; ctx may already be done here.
	defer func() {
		if cerr := tab.Close(); cerr != nil {
			f.logger.Debug().Err(cerr).Msg("Failed to close page")
		}
	}()

	page := tab.Context(ctx).Timeout(f.config.NavigationTimeout)
	if err := page.Navigate(url); err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load: %w", err)
	}

	text, err := page.Eval(`() => document.body ? document.body.innerText : ""`)
	if err != nil {
		return nil, &BrowserError{
			Code:    ErrCodeScriptExecution,
			Message: fmt.Sprintf("Failed to extract text: %v", err),
		}
	}

	doc := &Document{URL: url, Text: text.Value.String()}
	if info, err := page.Info(); err == nil {
		doc.URL = info.URL
		doc.Title = info.Title
	}
	doc.Text, doc.Truncated = truncateText(doc.Text, f.config.MaxTextBytes)
	return doc, nil
}

func (f *RodFetcher) ensureBrowser() (*rod.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, errors.New("fetcher is closed")
	}
	if f.browser != nil {
		return f.browser, nil
	}

	l := launcher.New().
		Headless(f.config.Headless).
		NoSandbox(f.config.NoSandbox)
	if f.config.ChromePath != "" {
		l = l.Bin(f.config.ChromePath)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, &BrowserError{
			Code:    ErrCodeBrowserCrash,
			Message: fmt.Sprintf("Failed to launch Chrome: %v", err),
		}
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, &BrowserError{
			Code:    ErrCodeBrowserCrash,
			Message: fmt.Sprintf("Failed to connect to CDP: %v", err),
		}
	}

	f.launcher = l
	f.browser = browser
	f.logger.Info().Bool("headless", f.config.Headless).Msg("Browser launched")
	return browser, nil
}

// Close shuts the browser down. Fetch fails afterwards.
func (f *RodFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true

	var err error
	if f.browser != nil {
		err = f.browser.Close()
		f.browser = nil
	}
	if f.launcher != nil {
		f.launcher.Kill()
		f.launcher = nil
	}
	return err
}

// truncateText cuts s to at most max bytes on a rune boundary.
func truncateText(s string, max int) (string, bool) {
	if max <= 0 || len(s) <= max {
		return s, false
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut], true
}
