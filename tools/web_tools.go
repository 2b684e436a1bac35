package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/mindloom/mindloom/internal/runtimecfg"
	"github.com/mindloom/mindloom/provider"
)

// Some sites refuse requests without a browser-looking user agent.
const browserUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"

func webGet(ctx context.Context, rawURL string, timeout time.Duration) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	client := &http.Client{Timeout: timeout}
	return client.Do(req)
}

// WebSearchTool searches the web via the DuckDuckGo HTML frontend, which
// needs no API key.
type WebSearchTool struct {
	defaultMaxResults int
}

// Def returns the tool definition.
func (t *WebSearchTool) Def() provider.ToolDef {
	return provider.ToolDef{
		Type: "function",
		Function: provider.FunctionDef{
			Name:        "web_search",
			Description: "Search the web using DuckDuckGo and return results. Use for finding current information, documentation, etc.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "The search query.",
					},
					"max_results": map[string]any{
						"type":        "integer",
						"description": "Maximum number of results to return. Defaults to 5.",
					},
				},
				"required": []string{"query"},
			},
		},
	}
}

type webSearchArgs struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
}

// Run executes the tool.
func (t *WebSearchTool) Run(ctx context.Context, args json.RawMessage) string {
	var a webSearchArgs
	if errMsg := parseArgs(args, &a); errMsg != "" {
		return errMsg
	}

	limit := a.MaxResults
	if limit <= 0 {
		limit = t.defaultMaxResults
	}
	if limit <= 0 {
		limit = runtimecfg.ToolWebSearchDefaultMaxResults
	}

	searchURL := "https://html.duckduckgo.com/html/?q=" + url.QueryEscape(a.Query)
	resp, err := webGet(ctx, searchURL, runtimecfg.ToolWebSearchHTTPTimeout)
	if err != nil {
		return fmt.Sprintf("Error: search request failed: %v", err)
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return fmt.Sprintf("Error: failed to parse search results: %v", err)
	}

	results := scrapeSearchResults(doc, limit)
	if len(results) == 0 {
		return "No search results found."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Search results for: %s\n\n", a.Query)
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n   %s\n   %s\n\n", i+1, r.title, r.url, r.snippet)
	}
	return sb.String()
}

type searchResult struct {
	title   string
	url     string
	snippet string
}

// scrapeSearchResults walks the DuckDuckGo result blocks; if the page layout
// changed and no blocks match, it falls back to bare result links.
func scrapeSearchResults(doc *goquery.Document, limit int) []searchResult {
	results := make([]searchResult, 0, limit)

	doc.Find("div.result").EachWithBreak(func(_ int, block *goquery.Selection) bool {
		link := block.Find("a.result__a").First()
		r := searchResult{
			title:   strings.TrimSpace(link.Text()),
			url:     decodeResultHref(link.AttrOr("href", "")),
			snippet: strings.TrimSpace(block.Find(".result__snippet").First().Text()),
		}
		if r.title != "" && r.url != "" {
			results = append(results, r)
		}
		return len(results) < limit
	})

	if len(results) == 0 {
		doc.Find("a.result__a").EachWithBreak(func(_ int, link *goquery.Selection) bool {
			r := searchResult{
				title: strings.TrimSpace(link.Text()),
				url:   decodeResultHref(link.AttrOr("href", "")),
			}
			if r.title != "" && r.url != "" {
				results = append(results, r)
			}
			return len(results) < limit
		})
	}
	return results
}

// decodeResultHref unwraps DuckDuckGo's redirect links, which carry the real
// destination in the uddg query parameter.
func decodeResultHref(href string) string {
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

// WebFetchTool fetches a page and returns its readable text.
type WebFetchTool struct{}

// Def returns the tool definition.
func (t *WebFetchTool) Def() provider.ToolDef {
	return provider.ToolDef{
		Type: "function",
		Function: provider.FunctionDef{
			Name:        "web_fetch",
			Description: "Fetch the content of a web page. Returns the text content (HTML tags stripped for readability).",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"url": map[string]any{
						"type":        "string",
						"description": "The URL to fetch.",
					},
					"raw": map[string]any{
						"type":        "boolean",
						"description": "If true, return raw HTML instead of stripped text. Defaults to false.",
					},
				},
				"required": []string{"url"},
			},
		},
	}
}

type webFetchArgs struct {
	URL string `json:"url"`
	Raw bool   `json:"raw,omitempty"`
}

// Run executes the tool.
func (t *WebFetchTool) Run(ctx context.Context, args json.RawMessage) string {
	var a webFetchArgs
	if errMsg := parseArgs(args, &a); errMsg != "" {
		return errMsg
	}

	target, err := url.Parse(a.URL)
	if err != nil {
		return fmt.Sprintf("Error: invalid URL: %v", err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return "Error: only http and https URLs are supported"
	}

	resp, err := webGet(ctx, a.URL, runtimecfg.ToolWebFetchHTTPTimeout)
	if err != nil {
		return fmt.Sprintf("Error: request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Sprintf("Error: HTTP %d %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, runtimecfg.ToolWebFetchMaxReadBytes))
	if err != nil {
		return fmt.Sprintf("Error: failed to read response: %v", err)
	}

	content := string(body)
	if !a.Raw {
		content = pageText(content)
	}
	return clipOutput(content, runtimecfg.ToolWebFetchMaxContentChars)
}

// pageText strips a page down to its visible text, one trimmed line per
// block, with script/style content removed.
func pageText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.TrimSpace(html)
	}

	doc.Find("script,style,noscript").Remove()

	text := strings.TrimSpace(doc.Find("body").Text())
	if text == "" {
		text = strings.TrimSpace(doc.Text())
	}

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if fields := strings.Fields(line); len(fields) > 0 {
			lines = append(lines, strings.Join(fields, " "))
		}
	}
	return strings.Join(lines, "\n")
}
