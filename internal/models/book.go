package models

import (
	"math"
	"time"
)

// PriceUnknown is the one sentinel used by every source for "no usable price".
const PriceUnknown = -1.0

// PlaceholderURL stands in for links a source does not expose.
const PlaceholderURL = "javascript:void(0)"

type Author struct {
	Name string `json:"name" bson:"name"`
	URL  string `json:"url,omitempty" bson:"url,omitempty"`
}

// Book is the common schema every source is normalized into. Price is
// denominated in the canonical currency (HUF) or equals PriceUnknown.
type Book struct {
	ISBN            string    `json:"ISBN" bson:"isbn"`
	Title           string    `json:"title" bson:"title"`
	Image           string    `json:"image" bson:"image"`
	Author          Author    `json:"author" bson:"author"`
	Price           float64   `json:"price" bson:"price"`
	PublicationDate time.Time `json:"publicationDate" bson:"publication_date"`
	URL             string    `json:"url" bson:"url"`
}

func (b Book) HasKnownPrice() bool {
	return PriceKnown(b.Price)
}

func PriceKnown(price float64) bool {
	return price >= 0 && !math.IsNaN(price) && !math.IsInf(price, 0)
}

// PriceRank orders prices so that an unknown price ranks above any real one.
func PriceRank(price float64) float64 {
	if !PriceKnown(price) {
		return math.Inf(1)
	}
	return price
}

// PriceDropped reports whether fresh is strictly cheaper than stored.
func PriceDropped(stored, fresh float64) bool {
	return PriceRank(fresh) < PriceRank(stored)
}

// DepositoryBook is one listing scraped from the retail site's markup.
// Author, price and link are omitted by the markup inconsistently.
type DepositoryBook struct {
	ISBN         string  `json:"ISBN"`
	Title        string  `json:"title"`
	Published    string  `json:"published"`
	Image        string  `json:"image"`
	CurrentPrice float64 `json:"currentPrice"`
	Author       *Author `json:"author,omitempty"`
	LinkToBook   string  `json:"linkToBook,omitempty"`
}

// DepositoryWishlistItem is read from the signed-in wishlist page. It has no
// ISBN; the identifier is derived from URL.
type DepositoryWishlistItem struct {
	Title        string  `json:"title"`
	Author       *Author `json:"author,omitempty"`
	CurrentPrice float64 `json:"currentPrice"`
	Image        string  `json:"image"`
	URL          string  `json:"url"`
}

// AmazonBook is one result card from the headless retail search. Price keeps
// its currency prefix, e.g. "$12.99".
type AmazonBook struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	Category string `json:"category"`
	Price    string `json:"price"`
	Image    string `json:"image"`
}

type Subscription struct {
	UserID string `json:"userId" bson:"user_id"`
	Email  string `json:"email" bson:"email"`
}
