package scraper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/temoto/robotstxt"

	"itinerary_pipeline/internal/domain"
)

const (
	// maxContentLen is the hard cap on extracted text, sized for the
	// extraction model's context budget.
	maxContentLen = 12000
	// fallbackContentLen is used when the marker window comes up short.
	fallbackContentLen = 15000
	// markerSearchLimit bounds how deep into the page a start marker may
	// appear; real content starts early.
	markerSearchLimit = 5000
	minContentLen     = 500
	maxPriceFragments = 10
)

var startMarkers = []string{
	"OVERVIEW", "Overview", "Itinerary", "Day 1", "Day One",
	"Trip Overview", "Tour Overview", "About This Trip",
	"Detailed Itinerary", "Trip Details",
}

var endMarkers = []string{
	"Related Tours", "You may also like", "Similar Trips",
	"Book Now Reserve", "Contact Form", "© 20", "Footer",
	"Share this", "Leave a comment",
}

var priceSelectors = []string{
	`[class*="price"]`, `[class*="Price"]`, `[class*="cost"]`, `[class*="Cost"]`,
	`[class*="rate"]`, `[class*="Rate"]`, `[class*="amount"]`, `[class*="Amount"]`,
	`[id*="price"]`, `[id*="Price"]`, `[id*="cost"]`, `[id*="rate"]`,
	`.booking-price`, `.tour-price`, `.package-price`, `.trip-cost`,
	`[class*="booking"]`, `[class*="sidebar"]`,
}

var (
	priceLikeRe = regexp.MustCompile(`(?i)[$€£]\s*[\d,]+|\d+\s*(?:USD|EUR|GBP)|per person|\bpp\b|\bpax\b`)

	pricePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:Price|Cost|Rate|From|Starting)[\s:]*[$€£]?\s*[\d,]+(?:\.\d{2})?(?:\s*(?:USD|EUR|per person|pp|pax))?`),
		regexp.MustCompile(`(?i)[$€£]\s*[\d,]+(?:\.\d{2})?\s*(?:USD|EUR|per person|pp|pax)?`),
		regexp.MustCompile(`(?i)(?:USD|EUR|GBP)\s*[\d,]+(?:\.\d{2})?`),
	}

	noisePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?is)Cookie.*?accept`),
		regexp.MustCompile(`(?is)Subscribe.*?newsletter`),
		regexp.MustCompile(`(?is)Follow us on.*`),
		regexp.MustCompile(`(?is)Share this.*`),
		regexp.MustCompile(`(?is)©.*?\d{4}`),
	}

	spaceRe = regexp.MustCompile(` +`)
)

// Config holds scraper configuration.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Scraper fetches tour operator pages and isolates itinerary-relevant
// text. All fetch and parse failures are returned as classified errors;
// nothing escapes its boundary as a panic.
type Scraper struct {
	client    *http.Client
	limiter   *RateLimiter
	userAgent string
	logger    *slog.Logger

	robotsMu sync.Mutex
	robots   map[string]*robotstxt.Group
}

func New(cfg Config, limiter *RateLimiter, logger *slog.Logger) *Scraper {
	return &Scraper{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter:   limiter,
		userAgent: cfg.UserAgent,
		logger:    logger.With("component", "scraper"),
		robots:    make(map[string]*robotstxt.Group),
	}
}

// Fetch retrieves one URL, honoring robots.txt and the per-domain rate
// limit, and returns the parsed capture.
func (s *Scraper) Fetch(ctx context.Context, rawURL string, minInterval time.Duration) (*domain.FetchResult, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("request failed: invalid url %q", rawURL)
	}

	if !s.robotsAllowed(ctx, u) {
		return nil, fmt.Errorf("request failed: %s disallowed by robots.txt", u.Path)
	}

	s.limiter.Wait(u.Host, minInterval)

	s.logger.Info("scraping", "url", rawURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("request failed: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("request failed: read body: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing failed: %w", err)
	}

	result := &domain.FetchResult{
		RawHTML:   string(body),
		PageTitle: strings.TrimSpace(doc.Find("title").First().Text()),
	}
	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		result.MetaDescription = strings.TrimSpace(desc)
	}
	if kw, ok := doc.Find(`meta[name="keywords"]`).Attr("content"); ok {
		result.MetaKeywords = strings.TrimSpace(kw)
	}

	result.RawText = s.extractItineraryText(doc)

	s.logger.Info("scraped successfully", "url", rawURL, "text_len", len(result.RawText))

	return result, nil
}

// extractItineraryText isolates the itinerary content, prefixed with any
// pricing fragments found before markup stripping.
func (s *Scraper) extractItineraryText(doc *goquery.Document) string {
	priceInfo := extractPriceInfo(doc)

	doc.Find("script, style, nav, iframe, noscript").Remove()

	fullText := flattenText(doc.Text())

	startIdx := 0
	for _, marker := range startMarkers {
		idx := strings.Index(fullText, marker)
		if idx > 0 && idx < markerSearchLimit {
			startIdx = idx
			break
		}
	}

	endIdx := len(fullText)
	searchFrom := startIdx + minContentLen
	if searchFrom < len(fullText) {
		for _, marker := range endMarkers {
			idx := strings.Index(fullText[searchFrom:], marker)
			if idx >= 0 && searchFrom+idx < endIdx {
				endIdx = searchFrom + idx
			}
		}
	}

	text := fullText[startIdx:endIdx]
	if len(text) < minContentLen {
		text = truncate(fullText, fallbackContentLen)
	}

	if priceInfo != "" {
		text = "PRICING INFORMATION: " + priceInfo + "\n\n" + text
	}

	return truncate(cleanText(text), maxContentLen)
}

// extractPriceInfo scans likely price-bearing DOM fragments and the full
// page text for price patterns. Must run before boilerplate removal.
func extractPriceInfo(doc *goquery.Document) string {
	var fragments []string

	for _, selector := range priceSelectors {
		doc.Find(selector).EachWithBreak(func(i int, sel *goquery.Selection) bool {
			if i >= 5 {
				return false
			}
			text := strings.TrimSpace(sel.Text())
			if len(text) < 500 && priceLikeRe.MatchString(text) {
				fragments = append(fragments, flattenText(text))
			}
			return true
		})
	}

	fullText := doc.Text()
	for _, pattern := range pricePatterns {
		matches := pattern.FindAllString(fullText, 5)
		fragments = append(fragments, matches...)
	}

	seen := make(map[string]struct{}, len(fragments))
	unique := make([]string, 0, len(fragments))
	for _, f := range fragments {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		unique = append(unique, f)
		if len(unique) == maxPriceFragments {
			break
		}
	}

	return strings.Join(unique, " | ")
}

func cleanText(text string) string {
	text = spaceRe.ReplaceAllString(text, " ")
	for _, pattern := range noisePatterns {
		text = pattern.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(text)
}

func flattenText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// robotsAllowed fetches and caches the host's robots.txt group for our
// user agent. Unreachable or missing robots.txt means allowed.
func (s *Scraper) robotsAllowed(ctx context.Context, u *url.URL) bool {
	s.robotsMu.Lock()
	group, ok := s.robots[u.Host]
	s.robotsMu.Unlock()

	if !ok {
		group = s.fetchRobotsGroup(ctx, u)
		s.robotsMu.Lock()
		s.robots[u.Host] = group
		s.robotsMu.Unlock()
	}

	if group == nil {
		return true
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	return group.Test(path)
}

func (s *Scraper) fetchRobotsGroup(ctx context.Context, u *url.URL) *robotstxt.Group {
	robotsURL := u.Scheme + "://" + u.Host + "/robots.txt"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Debug("robots.txt unreachable", "host", u.Host, "error", err)
		return nil
	}
	defer resp.Body.Close()

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		s.logger.Debug("robots.txt unparsable", "host", u.Host, "error", err)
		return nil
	}
	return data.FindGroup(s.userAgent)
}
