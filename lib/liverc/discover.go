package liverc

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Pattern is a caller-supplied fallback for locating a session's json
// endpoint inside its html page.
type Pattern struct {
	Selector string
	Attr     string
}

var defaultJSONPatterns = []Pattern{
	{Selector: `link[rel="alternate"][type="application/json"]`, Attr: "href"},
	{Selector: `link[rel="canonical"]`, Attr: "href"},
	{Selector: `meta[property="og:url"]`, Attr: "content"},
	{Selector: `[data-json-url]`, Attr: "data-json-url"},
}

// ResolveJSONURL discovers the machine-readable endpoint advertised by
// a session page. An alternate json link wins; otherwise the fallback
// patterns are tried in order, then the caller's extras. Returns ""
// when the page advertises nothing, the caller then falls back to
// appending a ".json" suffix to the page url.
func (c *Client) ResolveJSONURL(html string, extra ...Pattern) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	patterns := append(append([]Pattern{}, defaultJSONPatterns...), extra...)
	for _, p := range patterns {
		val := strings.TrimSpace(doc.Find(p.Selector).First().AttrOr(p.Attr, ""))
		if val == "" {
			continue
		}
		return c.ResolveURL(val)
	}
	return ""
}

// JSONEndpointFor resolves the json endpoint for a session page,
// falling back to the page url itself with a ".json" suffix.
func (c *Client) JSONEndpointFor(html, pageURL string, extra ...Pattern) string {
	target := c.ResolveJSONURL(html, extra...)
	if target == "" {
		target = c.ResolveURL(pageURL)
	}
	if target == "" {
		return ""
	}
	if i := strings.IndexAny(target, "?#"); i >= 0 {
		target = target[:i]
	}
	if !strings.HasSuffix(target, ".json") {
		target += ".json"
	}
	return target
}
