package models

// EbayItem is one search result as returned by the finding API, where every
// scalar is wrapped in a single-element array.
type EbayItem struct {
	ItemID        []string            `json:"itemId"`
	Title         []string            `json:"title"`
	GalleryURL    []string            `json:"galleryURL"`
	ViewItemURL   []string            `json:"viewItemURL"`
	SellingStatus []EbaySellingStatus `json:"sellingStatus"`
	ListingInfo   []EbayListingInfo   `json:"listingInfo"`
}

type EbaySellingStatus struct {
	CurrentPrice          []EbayAmount `json:"currentPrice"`
	ConvertedCurrentPrice []EbayAmount `json:"convertedCurrentPrice"`
}

type EbayAmount struct {
	CurrencyID string `json:"@currencyId"`
	Value      string `json:"__value__"`
}

type EbayListingInfo struct {
	StartTime []string `json:"startTime"`
}

// First unwraps an array-of-one.
func First(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// ConvertedPrice returns the price the API converted to USD.
func (i EbayItem) ConvertedPrice() (EbayAmount, bool) {
	if len(i.SellingStatus) == 0 {
		return EbayAmount{}, false
	}
	s := i.SellingStatus[0]
	if len(s.ConvertedCurrentPrice) > 0 {
		return s.ConvertedCurrentPrice[0], true
	}
	if len(s.CurrentPrice) > 0 {
		return s.CurrentPrice[0], true
	}
	return EbayAmount{}, false
}

func (i EbayItem) StartTime() string {
	if len(i.ListingInfo) == 0 {
		return ""
	}
	return First(i.ListingInfo[0].StartTime)
}
