// Package fetch issues HTTP GETs against scraped sites and returns parsed
// documents.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"github.com/maltedev/uniscrape/internal/apperr"
	"github.com/maltedev/uniscrape/internal/ratelimit"
)

const source = "fetch"

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

type Options struct {
	UserAgent string
	Timeout   time.Duration
	Retries   int
	RetryWait time.Duration
	Limiter   ratelimit.Limiter
	Cache     Cache
	CacheTTL  time.Duration
	Logger    *slog.Logger
}

func DefaultOptions() Options {
	return Options{
		UserAgent: DefaultUserAgent,
		Timeout:   30 * time.Second,
		Retries:   2,
		RetryWait: 500 * time.Millisecond,
		CacheTTL:  5 * time.Minute,
	}
}

// Document is a parsed page together with the URL it was finally served from.
type Document struct {
	URL string
	Doc *goquery.Document
}

type Fetcher struct {
	client *resty.Client
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

func New(opts Options) *Fetcher {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}

	client := resty.New()
	client.SetHeader("User-Agent", opts.UserAgent)
	client.SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	client.SetHeader("Accept-Language", "en-US,en;q=0.9")
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}
	client.SetRetryCount(opts.Retries)
	client.SetRetryWaitTime(opts.RetryWait)
	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		return err != nil || (r != nil && r.StatusCode() >= 500)
	})
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return limiter.Wait(req.Context())
	})

	return &Fetcher{
		client: client,
		cache:  opts.Cache,
		ttl:    opts.CacheTTL,
		logger: opts.Logger.With("component", "fetch"),
	}
}

// Get may serve the page from cache.
func (f *Fetcher) Get(ctx context.Context, rawURL string) (*Document, error) {
	if f.cache != nil {
		page, ok, err := f.cache.Get(ctx, rawURL)
		if err != nil {
			f.logger.Warn("page cache read failed", "url", rawURL, "error", err)
		} else if ok {
			return parse(page.URL, page.Body)
		}
	}

	page, err := f.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	if f.cache != nil {
		if err := f.cache.Set(ctx, rawURL, page, f.ttl); err != nil {
			f.logger.Warn("page cache write failed", "url", rawURL, "error", err)
		}
	}
	return parse(page.URL, page.Body)
}

// GetFresh always hits the network.
func (f *Fetcher) GetFresh(ctx context.Context, rawURL string) (*Document, error) {
	page, err := f.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return parse(page.URL, page.Body)
}

func (f *Fetcher) get(ctx context.Context, rawURL string) (Page, error) {
	resp, err := f.client.R().SetContext(ctx).Get(rawURL)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Page{}, apperr.Wrap(apperr.KindTimeout, source, "request cancelled", err)
		}
		return Page{}, apperr.Wrap(apperr.KindTimeout, source, "request failed", err)
	}

	switch {
	case resp.StatusCode() >= 500:
		return Page{}, apperr.New(apperr.KindTimeout, source,
			fmt.Sprintf("upstream returned %d for %s", resp.StatusCode(), rawURL))
	case !resp.IsSuccess():
		return Page{}, apperr.New(apperr.KindDOMChanged, source,
			fmt.Sprintf("unexpected status %d for %s", resp.StatusCode(), rawURL))
	}

	final := rawURL
	if resp.RawResponse != nil && resp.RawResponse.Request != nil && resp.RawResponse.Request.URL != nil {
		final = resp.RawResponse.Request.URL.String()
	}

	f.logger.Debug("fetched page", "url", rawURL, "final_url", final, "status", resp.StatusCode(), "duration", resp.Time())
	return Page{URL: final, Body: string(resp.Body())}, nil
}

func parse(finalURL, body string) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBufferString(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDOMChanged, source, "parsing html", err)
	}
	if u, err := url.Parse(finalURL); err == nil {
		doc.Url = u
	}
	return &Document{URL: finalURL, Doc: doc}, nil
}
