package coretools

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/flexygent/flexygent/pkg/tool"
)

const (
	rssUserAgent    = "Mozilla/5.0 (compatible; FlexyGentRSS/0.1; +https://example.com/bot)"
	rssAcceptHeader = "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8"

	defaultRSSLimit = 10
	maxRSSLimit     = 20
)

// rssTool fetches an RSS or Atom feed and returns its most recent items.
type rssTool struct{}

func (t *rssTool) Descriptor() tool.Descriptor {
	return tool.Descriptor{
		Name:            "web.rss",
		Description:     "Fetch and parse an RSS or Atom feed and return recent items.",
		Tags:            []string{"web", "rss", "news"},
		RequiresNetwork: true,
		Timeout:         15 * time.Second,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "RSS or Atom feed URL.",
				},
				"limit": map[string]any{
					"type":        "integer",
					"minimum":     1,
					"maximum":     maxRSSLimit,
					"description": "Maximum items to return (default 10).",
				},
			},
			"required": []string{"url"},
		},
		OutputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title": map[string]any{"type": "string"},
				"items": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"title":     map[string]any{"type": "string"},
							"link":      map[string]any{"type": "string"},
							"published": map[string]any{"type": "string"},
						},
						"required": []string{"title", "link"},
					},
				},
			},
			"required": []string{"items"},
		},
	}
}

func (t *rssTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	feedURL := stringArg(args, "url", "")
	limit := intArg(args, "limit", defaultRSSLimit)

	if err := checkHTTPURL(feedURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", rssUserAgent)
	req.Header.Set("Accept", rssAcceptHeader)

	client := newHTTPClient(10 * time.Second)
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("feed request failed with status %d", resp.StatusCode)
	}

	doc, err := parseFeed(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	items := make([]map[string]any, 0, limit)
	for _, entry := range doc.entries() {
		link := entry.link()
		if link == "" {
			continue
		}
		item := map[string]any{
			"title": entry.title(),
			"link":  resolveLink(feedURL, link),
		}
		if pub := entry.published(); pub != "" {
			item["published"] = pub
		}
		items = append(items, item)
		if len(items) >= limit {
			break
		}
	}

	return map[string]any{
		"title": doc.title(),
		"items": items,
	}, nil
}

// feedDoc covers RSS 2.0 (rss>channel>item), Atom (feed>entry), and RSS 1.0
// (rdf:RDF with item elements beside the channel) in one shape. Unmatched
// fields stay zero.
type feedDoc struct {
	XMLName xml.Name
	Channel feedChannel `xml:"channel"`
	Title   string      `xml:"title"`
	Entries []feedEntry `xml:"entry"`
	Items   []feedEntry `xml:"item"`
}

type feedChannel struct {
	Title string      `xml:"title"`
	Items []feedEntry `xml:"item"`
}

type feedEntry struct {
	Title     string     `xml:"title"`
	Links     []feedLink `xml:"link"`
	GUID      string     `xml:"guid"`
	Updated   string     `xml:"updated"`
	Published string     `xml:"published"`
	PubDate   string     `xml:"pubDate"`
	Date      string     `xml:"date"`
}

type feedLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
	Text string `xml:",chardata"`
}

func parseFeed(r io.Reader) (*feedDoc, error) {
	decoder := xml.NewDecoder(r)
	// Feeds declare charsets beyond UTF-8 often enough to matter.
	decoder.CharsetReader = charset.NewReaderLabel

	var doc feedDoc
	if err := decoder.Decode(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (d *feedDoc) title() string {
	if t := strings.TrimSpace(d.Channel.Title); t != "" {
		return t
	}
	return strings.TrimSpace(d.Title)
}

func (d *feedDoc) entries() []feedEntry {
	entries := make([]feedEntry, 0, len(d.Channel.Items)+len(d.Entries)+len(d.Items))
	entries = append(entries, d.Channel.Items...)
	entries = append(entries, d.Entries...)
	entries = append(entries, d.Items...)
	return entries
}

func (e feedEntry) title() string {
	if t := strings.TrimSpace(e.Title); t != "" {
		return t
	}
	return "Untitled"
}

// link prefers an href attribute, then link element text, then the guid.
func (e feedEntry) link() string {
	for _, l := range e.Links {
		if href := strings.TrimSpace(l.Href); href != "" {
			return href
		}
	}
	for _, l := range e.Links {
		if text := strings.TrimSpace(l.Text); text != "" {
			return text
		}
	}
	return strings.TrimSpace(e.GUID)
}

func (e feedEntry) published() string {
	for _, v := range []string{e.Updated, e.Published, e.PubDate, e.Date} {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func resolveLink(feedURL, link string) string {
	base, err := url.Parse(feedURL)
	if err != nil {
		return link
	}
	ref, err := url.Parse(link)
	if err != nil {
		return link
	}
	return base.ResolveReference(ref).String()
}
