package acquire

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/gns-pkulkarni/chatbot-saas/internal/config"
	"github.com/gns-pkulkarni/chatbot-saas/internal/extract"
)

// Crawler walks a site breadth-first from a seed URL and returns the concatenated page text.
type Crawler struct {
	client    *http.Client
	maxPages  int
	maxDepth  int
	timeout   time.Duration
	maxBytes  int64
	userAgent string
	logger    *zap.Logger
}

// Option configures a Crawler.
type Option func(*Crawler)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Crawler) {
		c.logger = l
	}
}

// WithHTTPClient replaces the HTTP client used for fetching pages.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Crawler) {
		c.client = hc
	}
}

// NewCrawler creates a crawler bounded by cfg.
func NewCrawler(cfg config.CrawlConfig, opts ...Option) *Crawler {
	c := &Crawler{
		client:    &http.Client{},
		maxPages:  cfg.MaxPages,
		maxDepth:  cfg.MaxDepth,
		timeout:   cfg.Timeout,
		maxBytes:  cfg.MaxBytesPerPage,
		userAgent: cfg.UserAgent,
		logger:    zap.NewNop(),
	}
	if c.maxPages <= 0 {
		c.maxPages = 1
	}
	if c.maxDepth < 0 {
		c.maxDepth = 0
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type queued struct {
	url   *url.URL
	depth int
}

// Acquire crawls from seed and returns the text of every visited page in visit order, joined by
// extract.Separator. Only links on the seed's host, or the host the seed redirected to, are
// followed. Failures on pages other than the
// seed are skipped; the overall timeout elapsing fails the whole acquisition.
func (c *Crawler) Acquire(ctx context.Context, seed string) (string, error) {
	start, err := url.Parse(strings.TrimSpace(seed))
	if err != nil || (start.Scheme != "http" && start.Scheme != "https") || start.Host == "" {
		return "", &Error{Reason: ReasonBlocked, URL: seed, Err: fmt.Errorf("not an http(s) url")}
	}
	start.Fragment = ""

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	hosts := map[string]bool{start.Host: true}
	seen := map[string]bool{start.String(): true}
	queue := []queued{{url: start}}
	var pages []string
	visited := 0

	for len(queue) > 0 && visited < c.maxPages {
		item := queue[0]
		queue = queue[1:]
		visited++

		text, final, links, err := c.fetch(ctx, item.url)
		if err != nil {
			if ctx.Err() != nil {
				return "", &Error{Reason: ReasonTimeout, URL: seed, Err: ctx.Err()}
			}
			if item.depth == 0 {
				if errors.Is(err, errUnsupportedContent) {
					return "", &Error{Reason: ReasonEmpty, URL: seed, Err: err}
				}
				return "", &Error{Reason: ReasonBlocked, URL: seed, Err: err}
			}
			c.logger.Debug("skipping page", zap.String("url", item.url.String()), zap.Error(err))
			continue
		}
		if item.depth == 0 {
			hosts[final.Host] = true
			seen[final.String()] = true
		}
		if text != "" {
			pages = append(pages, text)
		}
		if item.depth >= c.maxDepth {
			continue
		}
		for _, link := range links {
			if !hosts[link.Host] {
				continue
			}
			key := link.String()
			if seen[key] {
				continue
			}
			seen[key] = true
			queue = append(queue, queued{url: link, depth: item.depth + 1})
		}
	}

	if len(pages) == 0 {
		return "", &Error{Reason: ReasonEmpty, URL: seed}
	}
	c.logger.Info("crawl finished", zap.String("url", seed), zap.Int("pages", len(pages)), zap.Int("visited", visited))
	return strings.Join(pages, extract.Separator), nil
}

// errUnsupportedContent marks pages that are neither HTML nor plain text.
var errUnsupportedContent = errors.New("unsupported content type")

// fetch downloads one page, returning its text, the URL it was served from after redirects and
// the absolute http(s) links it contains.
func (c *Crawler) fetch(ctx context.Context, u *url.URL) (string, *url.URL, []*url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", nil, nil, err
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "text/html, text/plain;q=0.9")
	resp, err := c.client.Do(req)
	if err != nil {
		return "", nil, nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return "", nil, nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var body io.Reader = resp.Body
	if c.maxBytes > 0 {
		body = io.LimitReader(resp.Body, c.maxBytes)
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return "", nil, nil, err
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch mediaType {
	case "text/plain":
		return cleanWhitespace(string(b)), resp.Request.URL, nil, nil
	case "text/html", "application/xhtml+xml", "":
	default:
		return "", nil, nil, fmt.Errorf("%w: %s", errUnsupportedContent, mediaType)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(b))
	if err != nil {
		return "", nil, nil, err
	}
	base := resp.Request.URL
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if bu, err := base.Parse(href); err == nil {
			base = bu
		}
	}
	links := pageLinks(doc, base)
	return pageText(doc), resp.Request.URL, links, nil
}

// pageText extracts readable text, preferring main/article content. Footers are kept since they
// usually carry contact details. Links must be collected before calling it.
func pageText(doc *goquery.Document) string {
	doc.Find("script, style, noscript, template, iframe, svg, nav").Remove()

	title := strings.TrimSpace(doc.Find("title").First().Text())
	sel := doc.Find("main, article")
	if sel.Length() == 0 {
		sel = doc.Find("body")
	} else {
		sel = sel.AddSelection(doc.Find("footer"))
	}

	var parts []string
	if title != "" {
		parts = append(parts, title)
	}
	blocks := sel.Find("h1, h2, h3, h4, h5, h6, p, li, td, th, pre, blockquote, dd, dt, address")
	if blocks.Length() == 0 {
		if t := strings.TrimSpace(sel.Text()); t != "" {
			parts = append(parts, t)
		}
	}
	blocks.Each(func(_ int, s *goquery.Selection) {
		// nested blocks (li > p) would otherwise be emitted twice
		if s.Find("p, li, td, pre, blockquote").Length() > 0 {
			return
		}
		if t := strings.TrimSpace(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	return cleanWhitespace(strings.Join(parts, "\n"))
}

func pageLinks(doc *goquery.Document, base *url.URL) []*url.URL {
	var links []*url.URL
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		u, err := base.Parse(strings.TrimSpace(href))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return
		}
		u.Fragment = ""
		links = append(links, u)
	})
	return links
}

var (
	horizontalSpace = regexp.MustCompile(`[ \t\f\v]+`)
	blankLines      = regexp.MustCompile(`\n\s*\n+`)
)

func cleanWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = horizontalSpace.ReplaceAllString(s, " ")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
