// Package amazon searches the secondary retail site through the headless
// browser and reads result cards from the rendered page.
package amazon

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/uniscrape/internal/apperr"
	"github.com/maltedev/uniscrape/internal/browser"
	"github.com/maltedev/uniscrape/internal/metrics"
	"github.com/maltedev/uniscrape/internal/models"
	"github.com/maltedev/uniscrape/internal/ratelimit"
)

const (
	source = "amazon"

	DefaultBaseURL = "https://www.amazon.com"

	resultSelector       = "[data-component-type='s-search-result']"
	legacyResultSelector = ".s-item-container"
)

// PageOpener is satisfied by *browser.Pool.
type PageOpener interface {
	OpenEphemeralPage(ctx context.Context, url string) (browser.Page, error)
}

type Searcher struct {
	pool    PageOpener
	baseURL string
	limiter ratelimit.Limiter
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewSearcher(pool PageOpener, baseURL string, limiter ratelimit.Limiter, m *metrics.Metrics, logger *slog.Logger) *Searcher {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Searcher{
		pool:    pool,
		baseURL: strings.TrimRight(baseURL, "/"),
		limiter: limiter,
		metrics: m,
		logger:  logger.With("component", "amazon_search"),
	}
}

func (s *Searcher) SearchURL(keywords string, page int) string {
	if page < 1 {
		page = 1
	}
	return s.baseURL + "/s?url=search-alias%3Dstripbooks-intl-ship&field-keywords=" +
		url.QueryEscape(keywords) + "&page=" + strconv.Itoa(page)
}

// Search returns one page of book results.
func (s *Searcher) Search(ctx context.Context, keywords string, page int) (books []models.AmazonBook, err error) {
	defer func(started time.Time) {
		s.metrics.ObserveSource(source, "search", started, err)
	}(time.Now())

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, apperr.Wrap(apperr.KindTimeout, source, "waiting for rate limiter", err)
	}

	searchURL := s.SearchURL(keywords, page)
	s.logger.Info("scraping search results", "url", searchURL)

	p, err := s.pool.OpenEphemeralPage(ctx, searchURL)
	if err != nil {
		return nil, apperr.Ensure(err, apperr.KindTimeout, source, "opening search page")
	}
	defer p.Close()

	// Results render late; a missing selector is judged from the content below.
	if err := p.WaitForSelector(resultSelector + ", " + legacyResultSelector); err != nil {
		s.logger.Debug("result selector did not appear", "error", err)
	}

	html, err := p.Content()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDOMChanged, source, "reading search page", err)
	}

	books, err = ParseResults(html, s.baseURL)
	if err != nil {
		return nil, err
	}
	s.logger.Info("found products", "count", len(books))
	return books, nil
}

// ParseResults reads result cards in either the current or the legacy
// search layout.
func ParseResults(html, baseURL string) ([]models.AmazonBook, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDOMChanged, source, "parsing search page", err)
	}

	if isBotCheck(doc) {
		return nil, apperr.New(apperr.KindDOMChanged, source, "blocked by bot protection")
	}

	base, _ := url.Parse(baseURL)
	books := []models.AmazonBook{}

	doc.Find(resultSelector).Each(func(_ int, card *goquery.Selection) {
		if book, ok := parseCard(card, base); ok {
			books = append(books, book)
		}
	})
	doc.Find(legacyResultSelector).Each(func(_ int, card *goquery.Selection) {
		if book, ok := parseLegacyCard(card, base); ok {
			books = append(books, book)
		}
	})

	if len(books) == 0 {
		return nil, apperr.New(apperr.KindEmptyResults, source, "the list of the results is empty")
	}
	return books, nil
}

func parseCard(card *goquery.Selection, base *url.URL) (models.AmazonBook, bool) {
	title := strings.TrimSpace(card.Find("h2 span").First().Text())
	if title == "" {
		return models.AmazonBook{}, false
	}

	href, _ := card.Find("h2 a").First().Attr("href")
	if href == "" {
		href, _ = card.Find("a.a-link-normal").First().Attr("href")
	}
	image, _ := card.Find("img.s-image").First().Attr("src")

	price := strings.TrimSpace(card.Find(".a-price .a-offscreen").First().Text())
	if price == "" {
		if whole := strings.TrimSpace(card.Find(".a-price-whole").First().Text()); whole != "" {
			price = "$" + strings.TrimSuffix(whole, ".")
		}
	}

	return models.AmazonBook{
		Title:    title,
		URL:      absolute(base, href),
		Category: strings.TrimSpace(card.Find("a.a-text-bold").First().Text()),
		Price:    price,
		Image:    image,
	}, true
}

// parseLegacyCard follows the old column layout, where category and price
// sit in the fourth and fifth data rows, or one row earlier when the card
// has no rating row.
func parseLegacyCard(card *goquery.Selection, base *url.URL) (models.AmazonBook, bool) {
	rows := card.Find(".a-col-right .a-spacing-none")
	if rows.Length() < 4 {
		return models.AmazonBook{}, false
	}

	first := rows.Eq(0)
	title := strings.TrimSpace(first.Find("h2").First().Text())
	if title == "" {
		return models.AmazonBook{}, false
	}
	href, _ := first.Find("a").First().Attr("href")

	categoryRow, priceRow := rows.Eq(2), rows.Eq(3)
	if rows.Length() > 4 {
		categoryRow, priceRow = rows.Eq(3), rows.Eq(4)
	}
	price := strings.TrimSpace(strings.SplitN(strings.TrimSpace(priceRow.Text()), "\n", 2)[0])
	image, _ := card.Find(".s-access-image").First().Attr("src")

	return models.AmazonBook{
		Title:    title,
		URL:      absolute(base, href),
		Category: strings.TrimSpace(categoryRow.Text()),
		Price:    price,
		Image:    image,
	}, true
}

func isBotCheck(doc *goquery.Document) bool {
	if doc.Find(`form[action*="validateCaptcha"]`).Length() > 0 {
		return true
	}
	return strings.Contains(doc.Find("body").Text(), "Enter the characters you see below")
}

func absolute(base *url.URL, href string) string {
	if href == "" || base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
