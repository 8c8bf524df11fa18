// Package normalize maps every source's native record to models.Book.
package normalize

import (
	"math"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/maltedev/uniscrape/internal/models"
)

const (
	DefaultUSDRate = 270.0

	DepositoryUnknownAuthor = "BOOKDEPOSITORY-UNKNOWN-AUTHOR"
	EbayUnknownAuthor       = "EBAY-UNKNOWN-AUTHOR"
	AmazonUnknownAuthor     = "AMAZON-UNKNOWN-AUTHOR"

	EbayIDPrefix   = "EBAY-ITEM-ID"
	AmazonIDPrefix = "AMAZON-UNKNOWN-"
)

// Layouts tried, in order, when reading a publication date.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02",
	"02 Jan 2006",
	"2 Jan 2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"January 2006",
	"Jan 2006",
	"2006",
}

type Normalizer struct {
	// USDRate converts USD to the canonical currency (HUF).
	USDRate float64
	Now     func() time.Time

	mu         sync.Mutex
	lastMillis int64
}

func New(usdRate float64) *Normalizer {
	if usdRate <= 0 {
		usdRate = DefaultUSDRate
	}
	return &Normalizer{USDRate: usdRate, Now: time.Now}
}

func (n *Normalizer) now() time.Time {
	if n.Now == nil {
		return time.Now()
	}
	return n.Now()
}

// FromDepository maps a scraped listing. Prices on the site are already in
// the canonical currency.
func (n *Normalizer) FromDepository(b models.DepositoryBook) models.Book {
	link := b.LinkToBook
	if link == "" {
		link = models.PlaceholderURL
	}
	return models.Book{
		ISBN:            b.ISBN,
		Title:           b.Title,
		Image:           b.Image,
		Author:          author(b.Author, DepositoryUnknownAuthor),
		Price:           canonicalPrice(b.CurrentPrice),
		PublicationDate: ParseDate(b.Published),
		URL:             link,
	}
}

func (n *Normalizer) FromDepositoryList(books []models.DepositoryBook) []models.Book {
	out := make([]models.Book, 0, len(books))
	for _, b := range books {
		out = append(out, n.FromDepository(b))
	}
	return out
}

// FromWishlist derives the identifier from the last path segment of the
// item URL. The page shows no publication date, so the fetch time is used.
func (n *Normalizer) FromWishlist(w models.DepositoryWishlistItem) models.Book {
	link := w.URL
	if link == "" {
		link = models.PlaceholderURL
	}
	return models.Book{
		ISBN:            LastPathSegment(w.URL),
		Title:           w.Title,
		Image:           w.Image,
		Author:          author(w.Author, DepositoryUnknownAuthor),
		Price:           canonicalPrice(w.CurrentPrice),
		PublicationDate: n.now(),
		URL:             link,
	}
}

func (n *Normalizer) FromWishlistList(items []models.DepositoryWishlistItem) []models.Book {
	out := make([]models.Book, 0, len(items))
	for _, w := range items {
		out = append(out, n.FromWishlist(w))
	}
	return out
}

func (n *Normalizer) FromEbay(item models.EbayItem) models.Book {
	price := models.PriceUnknown
	if amount, ok := item.ConvertedPrice(); ok {
		if v, err := strconv.ParseFloat(strings.TrimSpace(amount.Value), 64); err == nil {
			price = n.fromUSD(v)
		}
	}

	link := models.First(item.ViewItemURL)
	if link == "" {
		link = models.PlaceholderURL
	}
	return models.Book{
		ISBN:            EbayIDPrefix + models.First(item.ItemID),
		Title:           models.First(item.Title),
		Image:           models.First(item.GalleryURL),
		Author:          models.Author{Name: EbayUnknownAuthor, URL: models.PlaceholderURL},
		Price:           price,
		PublicationDate: ParseDate(item.StartTime()),
		URL:             link,
	}
}

func (n *Normalizer) FromEbayList(items []models.EbayItem) []models.Book {
	out := make([]models.Book, 0, len(items))
	for _, it := range items {
		out = append(out, n.FromEbay(it))
	}
	return out
}

// FromAmazon synthesizes the identifier from the current time in
// milliseconds, bumped so that no two calls share one.
func (n *Normalizer) FromAmazon(a models.AmazonBook) models.Book {
	now := n.now()

	link := a.URL
	if link == "" {
		link = models.PlaceholderURL
	}
	return models.Book{
		ISBN:            AmazonIDPrefix + strconv.FormatInt(n.nextMillis(now), 10),
		Title:           a.Title,
		Image:           a.Image,
		Author:          models.Author{Name: AmazonUnknownAuthor, URL: models.PlaceholderURL},
		Price:           n.parseUSD(a.Price),
		PublicationDate: now,
		URL:             link,
	}
}

func (n *Normalizer) FromAmazonList(books []models.AmazonBook) []models.Book {
	out := make([]models.Book, 0, len(books))
	for _, b := range books {
		out = append(out, n.FromAmazon(b))
	}
	return out
}

func (n *Normalizer) nextMillis(now time.Time) int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	ms := now.UnixMilli()
	if ms <= n.lastMillis {
		ms = n.lastMillis + 1
	}
	n.lastMillis = ms
	return ms
}

// parseUSD reads "$12.99"; anything without the dollar prefix is unknown.
func (n *Normalizer) parseUSD(text string) float64 {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "$") {
		return models.PriceUnknown
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimPrefix(text, "$"), ",", ""), 64)
	if err != nil {
		return models.PriceUnknown
	}
	return n.fromUSD(v)
}

func (n *Normalizer) fromUSD(v float64) float64 {
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return models.PriceUnknown
	}
	rate := n.USDRate
	if rate <= 0 {
		rate = DefaultUSDRate
	}
	return math.Round(v*rate*100) / 100
}

func canonicalPrice(p float64) float64 {
	if !models.PriceKnown(p) {
		return models.PriceUnknown
	}
	return p
}

func author(a *models.Author, placeholder string) models.Author {
	if a == nil || strings.TrimSpace(a.Name) == "" {
		return models.Author{Name: placeholder, URL: models.PlaceholderURL}
	}
	out := models.Author{Name: strings.TrimSpace(a.Name), URL: a.URL}
	if out.URL == "" {
		out.URL = models.PlaceholderURL
	}
	return out
}

// ParseDate returns the zero time when no known layout matches.
func ParseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// LastPathSegment returns the final non-empty path segment of rawURL.
func LastPathSegment(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	p = strings.TrimRight(p, "/")
	return p[strings.LastIndex(p, "/")+1:]
}
