// Package web fetches outside content for the utility commands: readable
// text of a web page for /summarize_url and current conditions from
// OpenWeather for /weather.
package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	readability "github.com/go-shiori/go-readability"
)

// DefaultMaxContent bounds the page text handed to the model.
const DefaultMaxContent = 3000

// maxBody caps how much of a response is read.
const maxBody = 5 << 20

// ErrNoContent is returned when a page has no readable text.
var ErrNoContent = errors.New("no content found on the page")

// Page is the readable part of a fetched web page.
type Page struct {
	URL     string
	Title   string
	Content string
}

// FetcherConfig configures the page fetcher.
type FetcherConfig struct {
	Timeout    time.Duration `yaml:"timeout"`
	MaxContent int           `yaml:"max_content"`
	UserAgent  string        `yaml:"user_agent"`
	Guard      GuardConfig   `yaml:"guard"`
}

// maxRedirects matches the net/http default.
const maxRedirects = 10

// URLChecker vets every URL the fetcher requests, redirect targets included.
// *Guard implements it.
type URLChecker interface {
	Check(ctx context.Context, rawURL string) error
}

// Fetcher downloads pages and reduces them to their main article.
type Fetcher struct {
	client     *http.Client
	guard      URLChecker
	maxContent int
	userAgent  string
	logger     *slog.Logger
}

// NewFetcher creates a fetcher. guard may be nil to allow any host.
func NewFetcher(cfg FetcherConfig, guard URLChecker, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxContent <= 0 {
		cfg.MaxContent = DefaultMaxContent
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (compatible; Muse/1.0)"
	}
	f := &Fetcher{
		guard:      guard,
		maxContent: cfg.MaxContent,
		userAgent:  cfg.UserAgent,
		logger:     logger.With("component", "web_fetch"),
	}
	f.client = &http.Client{Timeout: cfg.Timeout, CheckRedirect: f.checkRedirect}
	return f
}

// checkRedirect runs the guard on every hop so a public page cannot bounce
// the request onto an internal address.
func (f *Fetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if f.guard == nil {
		return nil
	}
	if err := f.guard.Check(req.Context(), req.URL.String()); err != nil {
		f.logger.Warn("redirect blocked", "from", via[len(via)-1].URL.String(), "to", req.URL.String(), "error", err)
		return err
	}
	return nil
}

// NormalizeURL adds https:// when rawURL has no scheme.
func NormalizeURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}
	return rawURL
}

// Fetch downloads rawURL and returns its main content as markdown.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	rawURL = NormalizeURL(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if f.guard != nil {
		if err := f.guard.Check(ctx, rawURL); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching URL: status %d", resp.StatusCode)
	}

	article, err := readability.FromReader(io.LimitReader(resp.Body, maxBody), u)
	if err != nil {
		return nil, fmt.Errorf("extracting article: %w", err)
	}

	content := article.TextContent
	if article.Content != "" {
		if md, err := htmltomarkdown.ConvertString(article.Content); err == nil {
			content = md
		} else {
			f.logger.Debug("markdown conversion failed, using plain text", "error", err)
		}
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrNoContent
	}
	if utf8.RuneCountInString(content) > f.maxContent {
		content = string([]rune(content)[:f.maxContent])
	}

	f.logger.Info("page fetched", "url", rawURL, "title", article.Title, "chars", len(content))
	return &Page{URL: rawURL, Title: strings.TrimSpace(article.Title), Content: content}, nil
}
