package collector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v4"
)

// UserAgent identifies this service in outbound requests and is the agent
// name matched against robots.txt rules.
const UserAgent = "parley/0.1.0"

const (
	maxResponseSize      = 5 * 1024 * 1024
	requestTimeout       = 30 * time.Second
	retryInitialInterval = 500 * time.Millisecond
	retryMaxElapsedTime  = 15 * time.Second
)

// Getter abstracts HTTP retrieval so tests can substitute canned responses.
type Getter interface {
	Get(ctx context.Context, url string) (string, error)
}

// HTTPGetter is the production Getter. Transient failures (network errors,
// 5xx) are retried with exponential backoff; client errors are not.
type HTTPGetter struct {
	client *http.Client
}

// NewHTTPGetter creates a Getter with sane timeouts.
func NewHTTPGetter() *HTTPGetter {
	return &HTTPGetter{client: &http.Client{Timeout: requestTimeout}}
}

// Get fetches the URL body as a string, capped at 5MB.
func (g *HTTPGetter) Get(ctx context.Context, url string) (string, error) {
	var body string

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", UserAgent)

		resp, err := g.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("status %d for %s", resp.StatusCode, url)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return backoff.Permanent(fmt.Errorf("status %d for %s", resp.StatusCode, url))
		}

		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
		if err != nil {
			return err
		}
		if len(raw) > maxResponseSize {
			return backoff.Permanent(fmt.Errorf("response for %s exceeds %d bytes", url, maxResponseSize))
		}

		body = string(raw)
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryInitialInterval
	policy.MaxElapsedTime = retryMaxElapsedTime

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return "", err
	}
	return body, nil
}

// PageContent is the parsed result of fetching a web page.
type PageContent struct {
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
	Text     string `json:"text"`
	Markdown string `json:"markdown,omitempty"`
}

// FetchPage retrieves and parses a page after consulting the robots cache.
// A robots denial is the only policy error surfaced to the caller.
func FetchPage(ctx context.Context, client Getter, robots *RobotsCache, url string) (*PageContent, error) {
	if !robots.IsAllowed(ctx, client, url) {
		return nil, fmt.Errorf("access to %s is prohibited by robots.txt", url)
	}

	html, err := client.Get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}

	return parsePage(url, html), nil
}

// parsePage extracts the title and paragraph text, plus a markdown
// rendering of the document body for model consumption. Parse problems
// degrade to the raw body rather than failing the fetch.
func parsePage(url, html string) *PageContent {
	page := &PageContent{URL: url}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		page.Text = html
		return page
	}

	page.Title = strings.TrimSpace(doc.Find("title").First().Text())

	paragraphs := make([]string, 0, 8)
	doc.Find("p").Each(func(_ int, sel *goquery.Selection) {
		if text := strings.TrimSpace(sel.Text()); text != "" {
			paragraphs = append(paragraphs, text)
		}
	})
	page.Text = strings.Join(paragraphs, "\n\n")

	if markdown, err := convertMarkdown(html); err == nil {
		page.Markdown = markdown
	}

	return page
}

func convertMarkdown(html string) (string, error) {
	converter := md.NewConverter("", true, nil)
	converter.Remove("script", "style", "meta", "link")

	markdown, err := converter.ConvertString(html)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(markdown), nil
}
