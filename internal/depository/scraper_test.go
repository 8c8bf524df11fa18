package depository

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/uniscrape/internal/apperr"
	"github.com/maltedev/uniscrape/internal/fetch"
	"github.com/maltedev/uniscrape/internal/models"
)

func card(isbn, title string, withAuthor bool, price string) string {
	author := ""
	if withAuthor {
		author = `<p class="author" itemprop="author" itemscope itemtype="http://schema.org/Person">
      <a itemprop="url" href="/author/Someone"><span itemprop="name">Someone</span></a></p>`
	}
	isbnMeta := ""
	if isbn != "" {
		isbnMeta = fmt.Sprintf(`<meta itemprop="isbn" content="%s">`, isbn)
	}
	return fmt.Sprintf(`
<div class="book-item" itemscope itemtype="http://schema.org/Book">
  %s
  <meta itemprop="name" content="%s">
  <meta itemprop="datePublished" content="2019-05-02">
  <div class="item-img"><a href="/%s/%s"><img data-lazy="https://img.example/%s.jpg"></a></div>
  %s
  <div class="price-wrap"><p class="price">%s</p></div>
</div>`, isbnMeta, title, strings.ReplaceAll(title, " ", "-"), isbn, isbn, author, price)
}

func homePage(cards ...string) string {
	return `<html><body>
<div class="block-wrap isbn-recommendation carousel">
  <div class="block-header"><h2 data-title="Bestsellers">Bestsellers</h2></div>
</div>
<div class="block-wrap">
  <div class="block-header"><h2 data-title="New Releases">New Releases</h2></div>
  <div class="block-content"><div class="tab-wrap">` + strings.Join(cards, "") + `</div></div>
</div>
<div class="block-wrap side-block"><h2>Sidebar</h2></div>
<div class="block-wrap no-border"><h2>Hidden</h2></div>
</body></html>`
}

const itemPage = `<html><body>
<div class="item-wrap" itemscope itemtype="http://schema.org/Book">
  <div class="item-img"><div class="item-img-content"><img itemprop="image" src="https://img.example/cover.jpg"></div></div>
  <div class="item-info">
    <h1 itemprop="name">Effective Java</h1>
    <div class="author-info"><span itemprop="author" itemscope itemtype="http://schema.org/Person"><a itemprop="url" href="/author/Joshua-Bloch"><span itemprop="name">Joshua Bloch</span></a></span></div>
  </div>
  <ul class="biblio-info">
    <li><span itemprop="isbn">9780134685991</span></li>
    <li><span itemprop="datePublished">06 Jan 2018</span></li>
  </ul>
  <div class="price-info-wrap"><span class="sale-price">14 190 Ft</span></div>
</div>
<div class="block-wrap"><div class="book-item" itemscope itemtype="http://schema.org/Book"></div></div>
</body></html>`

type site struct {
	home   string
	search map[string]string
	hits   int32
}

func (s *site) server(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.hits, 1)
		w.Write([]byte(s.home))
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.hits, 1)
		term := r.URL.Query().Get("searchTerm")
		if term == "9780134685991" {
			http.Redirect(w, r, "/Effective-Java/9780134685991", http.StatusFound)
			return
		}
		w.Write([]byte(s.search[term]))
	})
	mux.HandleFunc("/Effective-Java/9780134685991", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(itemPage))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newScraper(t *testing.T, s *site) (*Scraper, string) {
	t.Helper()
	srv := s.server(t)
	opts := fetch.DefaultOptions()
	opts.Retries = 0
	opts.Timeout = 5 * time.Second
	return NewScraper(fetch.New(opts), srv.URL, nil, nil), srv.URL
}

func TestGetHomeSections(t *testing.T) {
	scraper, _ := newScraper(t, &site{home: homePage()})

	sections, err := scraper.GetHomeSections(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Bestsellers", "New Releases"}, sections)
}

func TestGetHomeSectionsDOMChanged(t *testing.T) {
	scraper, _ := newScraper(t, &site{home: "<html><body><h1>Maintenance</h1></body></html>"})

	_, err := scraper.GetHomeSections(context.Background())
	assert.Equal(t, apperr.KindDOMChanged, apperr.KindOf(err))
}

func TestGetSectionBooks(t *testing.T) {
	scraper, _ := newScraper(t, &site{home: homePage(
		card("9780134685991", "Effective Java", true, "14 190 Ft"),
		card("9781491950296", "Building Microservices", false, ""),
	)})

	books, err := scraper.GetSectionBooks(context.Background(), "New Releases")
	require.NoError(t, err)
	require.Len(t, books, 2)

	assert.Equal(t, "9780134685991", books[0].ISBN)
	assert.Equal(t, float64(14190), books[0].CurrentPrice)
	require.NotNil(t, books[0].Author)
	assert.Equal(t, "Someone", books[0].Author.Name)

	assert.Nil(t, books[1].Author)
	assert.Equal(t, models.PriceUnknown, books[1].CurrentPrice)
}

func TestGetSectionBooksUnknownSection(t *testing.T) {
	scraper, _ := newScraper(t, &site{home: homePage(card("9780134685991", "Effective Java", true, "1"))})

	_, err := scraper.GetSectionBooks(context.Background(), `New Releases"]`)
	assert.Equal(t, apperr.KindDOMChanged, apperr.KindOf(err))
}

func TestGetSearch(t *testing.T) {
	s := &site{search: map[string]string{
		"java": "<html><body>" + card("9780134685991", "Effective Java", true, "14 190 Ft") + "</body></html>",
		"none": "<html><body><p>No results</p></body></html>",
	}}
	scraper, _ := newScraper(t, s)

	books, err := scraper.GetSearch(context.Background(), "java", 1)
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "Effective Java", books[0].Title)

	_, err = scraper.GetSearch(context.Background(), "none", 1)
	assert.Equal(t, apperr.KindEmptyResults, apperr.KindOf(err))
}

func TestGetSearchAllOrNothing(t *testing.T) {
	cards := []string{
		card("9780134685991", "Effective Java", true, "1"),
		card("", "No ISBN", true, "2"),
		card("9781491950296", "Building Microservices", true, "3"),
	}
	s := &site{search: map[string]string{"mixed": "<html><body>" + strings.Join(cards, "") + "</body></html>"}}
	scraper, _ := newScraper(t, s)

	books, err := scraper.GetSearch(context.Background(), "mixed", 1)
	require.Error(t, err)
	assert.Equal(t, apperr.KindExtraction, apperr.KindOf(err))
	assert.Empty(t, books)
	assert.Contains(t, err.Error(), "listing 2 of 3")
}

func TestGetByIdentifier(t *testing.T) {
	scraper, base := newScraper(t, &site{})

	book, err := scraper.GetByIdentifier(context.Background(), "978-0-13-468599-1")
	require.NoError(t, err)
	assert.Equal(t, "9780134685991", book.ISBN)
	assert.Equal(t, "Effective Java", book.Title)
	assert.Equal(t, "06 Jan 2018", book.Published)
	assert.Equal(t, "https://img.example/cover.jpg", book.Image)
	assert.Equal(t, float64(14190), book.CurrentPrice)
	assert.Equal(t, base+"/Effective-Java/9780134685991", book.LinkToBook)
}

func TestGetByIdentifierValidFormatProceedsToFetch(t *testing.T) {
	s := &site{search: map[string]string{
		"0134685997": "<html><body>" + card("9780134685991", "Effective Java", true, "1") + "</body></html>",
	}}
	scraper, _ := newScraper(t, s)

	// Valid ISBN-10 that the site answers with a listing.
	_, err := scraper.GetByIdentifier(context.Background(), "0-13-468599-7")
	assert.Equal(t, apperr.KindEmptyResults, apperr.KindOf(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&s.hits))
}

func TestGetByIdentifierInvalidSkipsNetwork(t *testing.T) {
	s := &site{}
	scraper, _ := newScraper(t, s)

	_, err := scraper.GetByIdentifier(context.Background(), "not an isbn")
	assert.Equal(t, apperr.KindInvalidIdentifier, apperr.KindOf(err))
	assert.Equal(t, int32(0), atomic.LoadInt32(&s.hits))
}

func TestSearchURL(t *testing.T) {
	s := NewScraper(nil, "https://www.bookdepository.com/", nil, nil)
	assert.Equal(t, "https://www.bookdepository.com/search?searchTerm=harry+potter&page=1", s.SearchURL("harry potter", 0))
	assert.Equal(t, "https://www.bookdepository.com/search?searchTerm=go&page=3", s.SearchURL("go", 3))
}
