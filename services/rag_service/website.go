package rag_service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// contentSelectors are tried in order when locating the main content area
// of a page before falling back to the full body.
var contentSelectors = []string{"main", "article", "#content", ".content", "#main", ".main"}

type WebsiteExtractor struct {
	httpClient *http.Client
	logger     *slog.Logger
}

func NewWebsiteExtractor(logger *slog.Logger) *WebsiteExtractor {
	return &WebsiteExtractor{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// ExtractText fetches a URL and returns the readable text of its main
// content area, with scripts, navigation and chrome stripped out.
func (e *WebsiteExtractor) ExtractText(ctx context.Context, rawURL string) (string, error) {
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return "", fmt.Errorf("invalid URL %q: %v", rawURL, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("error fetching website: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("website returned status %d: %s", resp.StatusCode, string(body))
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc.Find("script, style, header, footer, nav, noscript, iframe, head").Remove()

	text := e.mainContent(doc)
	text = whitespaceRe.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)

	if len(text) < 10 {
		return "", fmt.Errorf("no meaningful text extracted from %s", rawURL)
	}

	e.logger.Info("Extracted text from website",
		slog.String("url", rawURL),
		slog.Int("text_length", len(text)))

	return text, nil
}

func (e *WebsiteExtractor) mainContent(doc *goquery.Document) string {
	for _, selector := range contentSelectors {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			continue
		}
		if text := sel.Text(); len(strings.TrimSpace(text)) > 100 {
			return text
		}
	}
	return doc.Find("body").Text()
}

// PageTitle returns the <title> of a page, or the host name when absent.
func (e *WebsiteExtractor) PageTitle(ctx context.Context, rawURL string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return hostOf(rawURL)
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return hostOf(rawURL)
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return hostOf(rawURL)
	}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	return hostOf(rawURL)
}

func hostOf(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		return u.Host
	}
	return rawURL
}
