// Package extractor turns one listing card into a DepositoryBook by
// annotating a copy of the card with microdata hints and reading the
// resulting properties bag.
package extractor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/uniscrape/internal/apperr"
	"github.com/maltedev/uniscrape/internal/microdata"
	"github.com/maltedev/uniscrape/internal/models"
)

const source = "extractor"

// Layout names the structural selectors used to annotate a card before the
// microdata pass. Empty selectors are skipped.
type Layout struct {
	ImageSelector string
	PriceSelector string
	LinkSelector  string
}

// ListingLayout matches cards on the home page and search results.
var ListingLayout = Layout{
	ImageSelector: ".item-img img",
	PriceSelector: ".price",
	LinkSelector:  ".item-img a",
}

// ItemPageLayout matches the single-item page an identifier search redirects to.
var ItemPageLayout = Layout{
	ImageSelector: ".item-img img, .item-img-content img",
	PriceSelector: ".sale-price, .price",
}

var (
	whitespace = regexp.MustCompile(`\s`)
	digits     = regexp.MustCompile(`[0-9]+`)
)

// Extract reads one listing. The caller's selection is never modified.
func Extract(card *goquery.Selection, layout Layout) (models.DepositoryBook, error) {
	if card == nil || card.Length() == 0 {
		return models.DepositoryBook{}, apperr.New(apperr.KindExtraction, source, "empty listing fragment")
	}

	annotated := Annotate(card.First(), layout)
	html, err := goquery.OuterHtml(annotated)
	if err != nil {
		return models.DepositoryBook{}, apperr.Wrap(apperr.KindExtraction, source, "serializing listing", err)
	}

	res, err := microdata.Parse(html)
	if err != nil {
		return models.DepositoryBook{}, apperr.Wrap(apperr.KindExtraction, source, "parsing microdata", err)
	}
	if len(res.Items) == 0 {
		return models.DepositoryBook{}, apperr.New(apperr.KindExtraction, source, "listing carries no microdata item")
	}

	return FromItem(res.Items[0])
}

// Annotate returns an annotated deep copy of card.
func Annotate(card *goquery.Selection, layout Layout) *goquery.Selection {
	cp := card.Clone()

	if img := find(cp, layout.ImageSelector); img != nil {
		img.SetAttr("itemprop", "image")
		if lazy, ok := img.Attr("data-lazy"); ok && lazy != "" {
			img.SetAttr("src", lazy)
		}
	}
	if price := find(cp, layout.PriceSelector); price != nil {
		price.SetAttr("itemprop", "price")
	}
	if link := find(cp, layout.LinkSelector); link != nil {
		link.SetAttr("itemprop", "linkToBook")
	}

	return cp
}

// find searches the root itself as well as its descendants.
func find(root *goquery.Selection, selector string) *goquery.Selection {
	if selector == "" {
		return nil
	}
	if m := root.Filter(selector); m.Length() > 0 {
		return m.First()
	}
	if m := root.Find(selector); m.Length() > 0 {
		return m.First()
	}
	return nil
}

// FromItem maps a microdata item to a DepositoryBook.
func FromItem(item *microdata.Item) (models.DepositoryBook, error) {
	var book models.DepositoryBook

	required := []struct {
		prop string
		dst  *string
	}{
		{"name", &book.Title},
		{"isbn", &book.ISBN},
		{"datePublished", &book.Published},
		{"image", &book.Image},
	}
	for _, r := range required {
		v, ok := item.First(r.prop)
		if !ok || v == "" {
			return models.DepositoryBook{}, apperr.New(apperr.KindExtraction, source,
				fmt.Sprintf("required property %q missing", r.prop))
		}
		*r.dst = v
	}

	book.CurrentPrice = models.PriceUnknown
	if v, ok := item.First("price"); ok {
		book.CurrentPrice = ParsePrice(v)
	}

	if author, ok := item.FirstItem("author"); ok {
		name, _ := author.First("name")
		url, _ := author.First("url")
		if name = strings.TrimSpace(name); name != "" {
			book.Author = &models.Author{Name: name, URL: url}
		}
	}

	if link, ok := item.First("linkToBook"); ok {
		book.LinkToBook = link
	}

	return book, nil
}

// ParsePrice strips whitespace and reads the first run of digits. Anything
// without digits is PriceUnknown.
func ParsePrice(text string) float64 {
	m := digits.FindString(whitespace.ReplaceAllString(text, ""))
	if m == "" {
		return models.PriceUnknown
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return models.PriceUnknown
	}
	return v
}
