// Package ebay calls the finding API's keyword search.
package ebay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/maltedev/uniscrape/internal/apperr"
	"github.com/maltedev/uniscrape/internal/metrics"
	"github.com/maltedev/uniscrape/internal/models"
)

const (
	source = "ebay"

	DefaultEndpoint = "http://svcs.ebay.com/services/search/FindingService/v1"
)

type Options struct {
	Endpoint string
	AppID    string
	Timeout  time.Duration
	Retries  int
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

type Client struct {
	http    *resty.Client
	appID   string
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(opts Options) *Client {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	httpClient := resty.New()
	httpClient.SetBaseURL(opts.Endpoint)
	httpClient.SetTimeout(opts.Timeout)
	httpClient.SetRetryCount(opts.Retries)
	httpClient.AddRetryCondition(func(r *resty.Response, err error) bool {
		return err != nil || (r != nil && r.StatusCode() >= 500)
	})

	return &Client{
		http:    httpClient,
		appID:   opts.AppID,
		metrics: opts.Metrics,
		logger:  opts.Logger.With("component", "ebay_client"),
	}
}

type envelope struct {
	FindItemsByKeywordsResponse []struct {
		Ack          []string `json:"ack"`
		ErrorMessage []struct {
			Error []struct {
				Message []string `json:"message"`
			} `json:"error"`
		} `json:"errorMessage"`
		SearchResult []struct {
			Count string            `json:"@count"`
			Item  []models.EbayItem `json:"item"`
		} `json:"searchResult"`
	} `json:"findItemsByKeywordsResponse"`
}

// Search returns one page of items matching keywords. A non-Success ack is
// an API failure; a response without items is an empty result.
func (c *Client) Search(ctx context.Context, keywords string, page int) (items []models.EbayItem, err error) {
	defer func(started time.Time) {
		c.metrics.ObserveSource(source, "search", started, err)
	}(time.Now())

	if page < 1 {
		page = 1
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"OPERATION-NAME":             "findItemsByKeywords",
			"SERVICE-VERSION":            "1.0.0",
			"SECURITY-APPNAME":           c.appID,
			"RESPONSE-DATA-FORMAT":       "JSON",
			"REST-PAYLOAD":               "",
			"keywords":                   keywords,
			"paginationInput.pageNumber": strconv.Itoa(page),
		}).
		Get("")
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTimeout, source, "request failed", err)
	}
	if resp.StatusCode() >= 500 {
		return nil, apperr.New(apperr.KindTimeout, source, fmt.Sprintf("api returned %d", resp.StatusCode()))
	}
	if !resp.IsSuccess() {
		return nil, apperr.New(apperr.KindAPI, source, fmt.Sprintf("api returned %d", resp.StatusCode()))
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return nil, apperr.Wrap(apperr.KindAPI, source, "decoding response", err)
	}
	if len(env.FindItemsByKeywordsResponse) == 0 {
		return nil, apperr.New(apperr.KindAPI, source, "response envelope missing")
	}

	r := env.FindItemsByKeywordsResponse[0]
	if ack := models.First(r.Ack); ack != "Success" {
		msg := "there was a problem with the eBay API call"
		if len(r.ErrorMessage) > 0 && len(r.ErrorMessage[0].Error) > 0 {
			msg += ": " + models.First(r.ErrorMessage[0].Error[0].Message)
		}
		c.logger.Warn("api call not acknowledged", "ack", ack, "keywords", keywords)
		return nil, apperr.New(apperr.KindAPI, source, msg)
	}

	if len(r.SearchResult) == 0 || len(r.SearchResult[0].Item) == 0 {
		return nil, apperr.New(apperr.KindEmptyResults, source, "the result list is empty")
	}
	return r.SearchResult[0].Item, nil
}
