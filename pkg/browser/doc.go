// Package browser fetches the visible text of web pages through a headless
// Chrome controlled with go-rod.
//
// Invariants:
//   - Every URL passes the SecurityValidator before a browser is touched.
//   - The browser process is launched lazily and shared across fetches.
//   - Each fetch opens its own tab and closes it before returning.
//
// Usage:
//
//	f := browser.NewRodFetcher(browser.DefaultConfig(), logger)
//	defer f.Close()
//	doc, _ := f.Fetch(ctx, "https://example.com")
//	_ = doc.Text
package browser
