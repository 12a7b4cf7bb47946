package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/qiwenz/parley/backend/internal/collector"
	"github.com/qiwenz/parley/backend/internal/logging"
)

// WebFetchTool lets the model read a web page. Fetches go through the
// shared robots cache, so concurrently built agents pay the policy fetch
// for an origin once.
type WebFetchTool struct {
	client collector.Getter
	robots *collector.RobotsCache
}

// NewWebFetchTool creates the tool around a shared HTTP client and robots
// cache.
func NewWebFetchTool(client collector.Getter, robots *collector.RobotsCache) *WebFetchTool {
	return &WebFetchTool{client: client, robots: robots}
}

// Info describes the tool to the model.
func (t *WebFetchTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "web_fetch",
		Desc: "Fetches content from a web URL and returns the page title and text",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"url": {
				Type:     schema.String,
				Desc:     "The URL to fetch",
				Required: true,
			},
		}),
	}, nil
}

type webFetchArgs struct {
	URL string `json:"url"`
}

type webFetchOutput struct {
	Title   string `json:"title,omitempty"`
	Content string `json:"content"`
}

// InvokableRun fetches the page and returns title plus content as JSON.
func (t *WebFetchTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args webFetchArgs
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("invalid web_fetch arguments: %w", err)
	}
	if args.URL == "" {
		return "", errors.New("web_fetch requires a url")
	}

	logging.Info().Str("url", args.URL).Msg("fetching page for model")

	page, err := collector.FetchPage(ctx, t.client, t.robots, args.URL)
	if err != nil {
		return "", err
	}

	content := page.Markdown
	if content == "" {
		content = page.Text
	}

	out, err := json.Marshal(webFetchOutput{Title: page.Title, Content: content})
	if err != nil {
		return "", err
	}
	return string(out), nil
}
