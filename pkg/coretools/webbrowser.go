package coretools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/harun/agentapi/internal/tracing"
	"github.com/harun/agentapi/pkg/agent"
	"github.com/harun/agentapi/pkg/memory"
	"github.com/harun/agentapi/pkg/toolexecutor"
	"github.com/rs/zerolog/log"
)

const (
	WebBrowserName = "web-browser"
	webBrowserDesc = `useful for when you need to find something on or summarize a webpage. input should be a comma separated list of "ONE valid http URL including protocol","what you want to find on the page or empty string for a summary".`

	// DefaultMaxChunks is how many page chunks are handed to the engine.
	DefaultMaxChunks = 4
)

// ParseBrowserInput splits "<url>,<task>" and strips the quotes models tend
// to add. Everything after the first comma is the task.
func ParseBrowserInput(input string) (url, task string) {
	head, rest, _ := strings.Cut(input, ",")
	url = strings.TrimSuffix(unquote(head), "/")
	task = unquote(rest)
	return url, task
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, `"`)
	s = strings.TrimSuffix(s, `"`)
	return strings.TrimSpace(s)
}

// BrowserPrompt builds the question-answering prompt over retrieved page text.
// An empty task asks for a summary.
func BrowserPrompt(context, task string) string {
	if task == "" {
		task = "a summary"
	}
	return fmt.Sprintf("Text:%s\n\nI need %s from the above text.", context, task)
}

// WebBrowserTool fetches a page, indexes its text, retrieves the chunks most
// relevant to the task and asks the engine to answer from them.
func WebBrowserTool(deps Deps) toolexecutor.ToolDefinition {
	return toolexecutor.TextTool(WebBrowserName, webBrowserDesc, func(ctx context.Context, input string) (string, error) {
		url, task := ParseBrowserInput(input)
		if url == "" {
			return "", errors.New(`input must be "<url>,<what to find>"`)
		}
		if deps.Fetcher == nil {
			return "", errors.New("web browsing is not configured")
		}

		chunks, err := deps.pageChunks(ctx, url, task)
		if err != nil {
			return "", err
		}
		if len(chunks) == 0 {
			return "", fmt.Errorf("no text found at %s", url)
		}

		return agent.Complete(ctx, deps.Provider, deps.Config, BrowserPrompt(strings.Join(chunks, "\n"), task))
	})
}

func (d Deps) pageChunks(ctx context.Context, url, task string) ([]string, error) {
	logger := tracing.LoggerFromContext(ctx, log.Logger)
	limit := d.MaxChunks
	if limit <= 0 {
		limit = DefaultMaxChunks
	}

	if d.Index == nil {
		doc, err := d.Fetcher.Fetch(ctx, url)
		if err != nil {
			return nil, err
		}
		chunks := memory.SplitText(doc.Text, memory.DefaultChunkSize, memory.DefaultChunkOverlap)
		if len(chunks) > limit {
			chunks = chunks[:limit]
		}
		return chunks, nil
	}

	if d.CacheTTL > 0 {
		if n, err := d.Index.Prune(ctx, d.CacheTTL); err != nil {
			logger.Warn().Err(err).Msg("Failed to prune page index")
		} else if n > 0 {
			logger.Debug().Int("pages", n).Msg("Pruned stale pages")
		}
	}

	if d.CacheTTL <= 0 || !d.Index.Fresh(ctx, url, d.CacheTTL) {
		doc, err := d.Fetcher.Fetch(ctx, url)
		if err != nil {
			return nil, err
		}
		n, err := d.Index.IndexPage(ctx, memory.Page{URL: url, Title: doc.Title, Text: doc.Text})
		if err != nil {
			return nil, fmt.Errorf("indexing %s: %w", url, err)
		}
		logger.Debug().Str("url", url).Int("chunks", n).Msg("Indexed page")
	}

	hits, err := d.Index.Search(ctx, url, task, limit)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", url, err)
	}
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Content
	}
	return out, nil
}
