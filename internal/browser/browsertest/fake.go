// Package browsertest provides in-memory browser pages for tests.
package browsertest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/maltedev/uniscrape/internal/browser"
)

var ErrClosed = errors.New("page closed")

// Page is a scripted browser.Page. Hooks run without the page lock held so
// they may call SetURL.
type Page struct {
	ID int

	mu        sync.Mutex
	url       string
	pages     map[string]string
	headers   map[string]string
	filled    map[string]string
	missing   map[string]bool
	visited   []string
	clicked   []string
	evaluated []string
	closed    int

	// OnGoto replaces the default navigation, which just sets the URL.
	OnGoto func(p *Page, url string) error
	// OnClick runs for Click and ClickInFrame.
	OnClick func(p *Page, selector string) error
}

func NewPage() *Page {
	return &Page{
		pages:   map[string]string{},
		headers: map[string]string{},
		filled:  map[string]string{},
		missing: map[string]bool{},
	}
}

// SetContent registers the html served at url.
func (p *Page) SetContent(url, html string) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pages[url] = html
	return p
}

// Missing makes selector lookups fail.
func (p *Page) Missing(selectors ...string) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range selectors {
		p.missing[s] = true
	}
	return p
}

func (p *Page) SetURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
}

func (p *Page) Goto(url string) error {
	p.mu.Lock()
	if p.closed > 0 {
		p.mu.Unlock()
		return ErrClosed
	}
	p.visited = append(p.visited, url)
	hook := p.OnGoto
	p.mu.Unlock()

	if hook != nil {
		return hook(p, url)
	}
	p.SetURL(url)
	return nil
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) Content() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed > 0 {
		return "", ErrClosed
	}
	if html, ok := p.pages[p.url]; ok {
		return html, nil
	}
	return "<html><body></body></html>", nil
}

func (p *Page) Evaluate(expression string, _ ...interface{}) (interface{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evaluated = append(p.evaluated, expression)
	return nil, nil
}

func (p *Page) SetExtraHTTPHeaders(headers map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, v := range headers {
		p.headers[k] = v
	}
	return nil
}

func (p *Page) WaitForSelector(selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.missing[selector] {
		return fmt.Errorf("timeout waiting for %s", selector)
	}
	return nil
}

func (p *Page) FillInFrame(frameSelector, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.missing[frameSelector] || p.missing[selector] {
		return fmt.Errorf("no element %s in %s", selector, frameSelector)
	}
	p.filled[selector] = value
	return nil
}

func (p *Page) ClickInFrame(frameSelector, selector string) error {
	p.mu.Lock()
	if p.missing[frameSelector] || p.missing[selector] {
		p.mu.Unlock()
		return fmt.Errorf("no element %s in %s", selector, frameSelector)
	}
	p.mu.Unlock()
	return p.click(selector)
}

func (p *Page) Click(selector string) error {
	p.mu.Lock()
	if p.missing[selector] {
		p.mu.Unlock()
		return fmt.Errorf("no element %s", selector)
	}
	p.mu.Unlock()
	return p.click(selector)
}

func (p *Page) click(selector string) error {
	p.mu.Lock()
	p.clicked = append(p.clicked, selector)
	hook := p.OnClick
	p.mu.Unlock()

	if hook != nil {
		return hook(p, selector)
	}
	return nil
}

func (p *Page) ExpectNavigation(action func() error) error {
	return action()
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed > 0
}

func (p *Page) CloseCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) Visited() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.visited...)
}

func (p *Page) Clicked() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicked...)
}

func (p *Page) Evaluated() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.evaluated...)
}

func (p *Page) Filled(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.filled[selector]
}

func (p *Page) Header(name string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.headers[name]
}

// Engine hands out Pages built by Factory, or blank ones.
type Engine struct {
	// Factory builds the page for each call; isolated reports which kind.
	Factory func(isolated bool) *Page
	Err     error

	mu       sync.Mutex
	pages    []*Page
	isolated int
	closed   bool
}

var _ browser.Engine = (*Engine)(nil)

func (e *Engine) NewPage() (browser.Page, error) {
	return e.newPage(false)
}

func (e *Engine) NewIsolatedPage() (browser.Page, error) {
	return e.newPage(true)
}

func (e *Engine) newPage(isolated bool) (browser.Page, error) {
	if e.Err != nil {
		return nil, e.Err
	}

	var p *Page
	if e.Factory != nil {
		p = e.Factory(isolated)
	} else {
		p = NewPage()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	p.ID = len(e.pages) + 1
	e.pages = append(e.pages, p)
	if isolated {
		e.isolated++
	}
	return p, nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *Engine) Pages() []*Page {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Page(nil), e.pages...)
}

func (e *Engine) IsolatedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isolated
}

func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

var _ browser.Page = (*Page)(nil)
