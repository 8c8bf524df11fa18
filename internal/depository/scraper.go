// Package depository scrapes the retail book site: stateless listings over
// plain HTTP and authenticated wishlist access through a headless browser.
package depository

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/uniscrape/internal/apperr"
	"github.com/maltedev/uniscrape/internal/extractor"
	"github.com/maltedev/uniscrape/internal/fetch"
	"github.com/maltedev/uniscrape/internal/isbn"
	"github.com/maltedev/uniscrape/internal/metrics"
	"github.com/maltedev/uniscrape/internal/models"
)

const (
	source = "depository"

	DefaultBaseURL = "https://www.bookdepository.com"

	sectionHeadingSelector = `.block-wrap:not([class*="no"]):not([class*="side"]):not([class*="one"]) h2`
	listingSelector        = ".book-item"
)

// itemContainerSelectors locate the book on a single-item page, most
// specific first.
var itemContainerSelectors = []string{
	`.item-wrap[itemscope]`,
	`.item-block [itemscope][itemtype*="Book"]`,
	`[itemscope][itemtype*="Book"]:not(.book-item)`,
}

// Fetcher is satisfied by *fetch.Fetcher.
type Fetcher interface {
	Get(ctx context.Context, rawURL string) (*fetch.Document, error)
	GetFresh(ctx context.Context, rawURL string) (*fetch.Document, error)
}

type Scraper struct {
	fetcher Fetcher
	baseURL string
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewScraper(fetcher Fetcher, baseURL string, m *metrics.Metrics, logger *slog.Logger) *Scraper {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scraper{
		fetcher: fetcher,
		baseURL: strings.TrimRight(baseURL, "/"),
		metrics: m,
		logger:  logger.With("component", "depository_scraper"),
	}
}

func (s *Scraper) HomeURL() string { return s.baseURL + "/" }

func (s *Scraper) SearchURL(term string, page int) string {
	if page < 1 {
		page = 1
	}
	return s.baseURL + "/search?searchTerm=" + url.QueryEscape(term) + "&page=" + strconv.Itoa(page)
}

// GetHomeSections returns the headings of the home page sections. No
// headings means the markup changed.
func (s *Scraper) GetHomeSections(ctx context.Context) (sections []string, err error) {
	defer s.observe("sections", time.Now(), &err)

	doc, err := s.fetcher.Get(ctx, s.HomeURL())
	if err != nil {
		return nil, apperr.Ensure(err, apperr.KindTimeout, source, "fetching home page")
	}

	doc.Doc.Find(sectionHeadingSelector).Each(func(_ int, h *goquery.Selection) {
		if title := strings.TrimSpace(h.Text()); title != "" {
			sections = append(sections, title)
		}
	})
	if len(sections) == 0 {
		return nil, apperr.New(apperr.KindDOMChanged, source, "failed to scrape sections with the current selector")
	}
	return sections, nil
}

// GetSectionBooks extracts the listings of one home page section. An
// unknown section name and a changed layout both surface as DOMChanged;
// the page gives no way to tell them apart.
func (s *Scraper) GetSectionBooks(ctx context.Context, section string) (books []models.DepositoryBook, err error) {
	defer s.observe("section", time.Now(), &err)

	doc, err := s.fetcher.Get(ctx, s.HomeURL())
	if err != nil {
		return nil, apperr.Ensure(err, apperr.KindTimeout, source, "fetching home page")
	}

	heading := doc.Doc.Find("[data-title]").FilterFunction(func(_ int, el *goquery.Selection) bool {
		title, _ := el.Attr("data-title")
		return title == section
	}).First()
	if heading.Length() == 0 {
		return nil, apperr.New(apperr.KindDOMChanged, source, fmt.Sprintf("section %q not found", section))
	}

	container := heading.Parent().Parent()
	if container.Length() == 0 {
		return nil, apperr.New(apperr.KindDOMChanged, source, fmt.Sprintf("section %q has no container", section))
	}

	return s.extractAll(container.Find(listingSelector))
}

// GetSearch extracts one page of search results.
func (s *Scraper) GetSearch(ctx context.Context, term string, page int) (books []models.DepositoryBook, err error) {
	defer s.observe("search", time.Now(), &err)

	doc, err := s.fetcher.Get(ctx, s.SearchURL(term, page))
	if err != nil {
		return nil, apperr.Ensure(err, apperr.KindTimeout, source, "fetching search results")
	}
	return s.extractAll(doc.Doc.Find(listingSelector))
}

// GetByIdentifier looks a book up by ISBN. The site redirects a search for
// a known ISBN straight to the item page; a results listing means no direct
// hit. The page is always fetched fresh.
func (s *Scraper) GetByIdentifier(ctx context.Context, id string) (book models.DepositoryBook, err error) {
	defer s.observe("isbn", time.Now(), &err)

	canonical, err := isbn.Validate(id)
	if err != nil {
		return models.DepositoryBook{}, apperr.Wrap(apperr.KindInvalidIdentifier, source,
			fmt.Sprintf("%q is not a valid ISBN", id), err)
	}

	doc, err := s.fetcher.GetFresh(ctx, s.SearchURL(canonical, 1))
	if err != nil {
		return models.DepositoryBook{}, apperr.Ensure(err, apperr.KindTimeout, source, "fetching item page")
	}

	if isListing(doc) {
		return models.DepositoryBook{}, apperr.New(apperr.KindEmptyResults, source,
			fmt.Sprintf("no book found with ISBN %s", canonical))
	}

	var container *goquery.Selection
	for _, sel := range itemContainerSelectors {
		if m := doc.Doc.Find(sel).First(); m.Length() > 0 {
			container = m
			break
		}
	}
	if container == nil {
		return models.DepositoryBook{}, apperr.New(apperr.KindDOMChanged, source, "item page has no book markup")
	}

	book, err = extractor.Extract(container, extractor.ItemPageLayout)
	if err != nil {
		return models.DepositoryBook{}, apperr.Ensure(err, apperr.KindExtraction, source, "extracting item page")
	}
	book.LinkToBook = doc.URL
	return book, nil
}

// isListing reports whether the identifier search stayed on a results page.
func isListing(doc *fetch.Document) bool {
	if u, err := url.Parse(doc.URL); err == nil && strings.HasPrefix(u.Path, "/search") {
		return true
	}
	return doc.Doc.Find(".search-page, .tab.search").Length() > 0
}

// extractAll applies the all-or-nothing batch policy: one bad listing fails
// the whole call.
func (s *Scraper) extractAll(listings *goquery.Selection) ([]models.DepositoryBook, error) {
	if listings.Length() == 0 {
		return nil, apperr.New(apperr.KindEmptyResults, source, "the list of books scraped by the current selector is empty")
	}

	books := make([]models.DepositoryBook, 0, listings.Length())
	var failed error
	listings.EachWithBreak(func(i int, card *goquery.Selection) bool {
		book, err := extractor.Extract(card, extractor.ListingLayout)
		if err != nil {
			failed = apperr.Wrap(apperr.KindExtraction, source,
				fmt.Sprintf("listing %d of %d", i+1, listings.Length()), err)
			return false
		}
		books = append(books, book)
		return true
	})
	if failed != nil {
		s.logger.Warn("listing extraction failed", "error", failed)
		return nil, failed
	}
	return books, nil
}

func (s *Scraper) observe(op string, started time.Time, err *error) {
	s.metrics.ObserveSource(source, op, started, *err)
}
