package main

import (
	"context"
	"fmt"
	"regexp"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/maltedev/uniscrape/internal/amazon"
	"github.com/maltedev/uniscrape/internal/browser"
	"github.com/maltedev/uniscrape/internal/depository"
	"github.com/maltedev/uniscrape/internal/ebay"
	"github.com/maltedev/uniscrape/internal/events"
	"github.com/maltedev/uniscrape/internal/fetch"
	"github.com/maltedev/uniscrape/internal/history"
	"github.com/maltedev/uniscrape/internal/metrics"
	"github.com/maltedev/uniscrape/internal/normalize"
	"github.com/maltedev/uniscrape/internal/notify"
	"github.com/maltedev/uniscrape/internal/ratelimit"
	"github.com/maltedev/uniscrape/internal/store"
	"github.com/maltedev/uniscrape/internal/watcher"
	"github.com/maltedev/uniscrape/internal/wishlist"
)

// app holds every long-lived component of one process.
type app struct {
	metrics    *metrics.Metrics
	store      store.Store
	redis      *redis.Client
	pool       *browser.Pool
	normalizer *normalize.Normalizer
	depository *depository.Scraper
	sessions   *depository.SessionManager
	amazon     *amazon.Searcher
	ebay       *ebay.Client
	wishlists  *wishlist.Service
	history    *history.Recorder
	watcher    *watcher.Watcher
}

// newApp connects collaborators. The headless browser is only launched when
// withBrowser is set and the configuration enables it.
func newApp(ctx context.Context, withBrowser bool) (*app, error) {
	a := &app{}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(reg)

	var err error
	a.store, err = store.Open(ctx, store.Config{
		Driver:         cfg.Store.Driver,
		SnapshotFile:   cfg.Store.SnapshotFile,
		PostgresDSN:    cfg.Store.PostgresDSN,
		MaxConns:       int32(cfg.Store.MaxConns),
		MongoURI:       cfg.Store.MongoURI,
		MongoDatabase:  cfg.Store.MongoDatabase,
		ConnectTimeout: cfg.Store.Timeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
	}

	limiter := ratelimit.New(cfg.Scraper.RatePerSecond, cfg.Scraper.RateBurst, cfg.Scraper.MaxJitter)

	fetchOpts := fetch.DefaultOptions()
	if cfg.Scraper.UserAgent != "" {
		fetchOpts.UserAgent = cfg.Scraper.UserAgent
	}
	fetchOpts.Timeout = cfg.Scraper.Timeout
	fetchOpts.Retries = cfg.Scraper.MaxRetries
	fetchOpts.RetryWait = cfg.Scraper.RetryDelay
	fetchOpts.Limiter = limiter
	fetchOpts.CacheTTL = cfg.Scraper.CacheTTL
	fetchOpts.Logger = logger
	if a.redis != nil {
		fetchOpts.Cache = fetch.NewRedisCache(a.redis, cfg.Redis.CachePrefix)
	}

	a.normalizer = normalize.New(cfg.Currency.USDRate)
	a.depository = depository.NewScraper(fetch.New(fetchOpts), cfg.Depository.BaseURL, a.metrics, logger)

	if cfg.Ebay.AppID != "" {
		a.ebay = ebay.New(ebay.Options{
			Endpoint: cfg.Ebay.Endpoint,
			AppID:    cfg.Ebay.AppID,
			Timeout:  cfg.Ebay.Timeout,
			Retries:  cfg.Scraper.MaxRetries,
			Metrics:  a.metrics,
			Logger:   logger,
		})
	} else {
		logger.Warn("EBAY_APP_ID not set, structured search disabled")
	}

	if withBrowser && cfg.Browser.Enabled {
		if err := a.startBrowser(limiter); err != nil {
			a.Close(ctx)
			return nil, err
		}
	}

	a.wishlists = wishlist.NewService(a.store, logger)
	a.history = history.NewRecorder(a.store, logger)

	watcherOpts := watcher.Options{
		Concurrency: cfg.Watcher.Concurrency,
		UserTimeout: cfg.Watcher.UserTimeout,
		Normalizer:  a.normalizer,
		Metrics:     a.metrics,
		Logger:      logger,
	}
	if a.redis != nil {
		watcherOpts.Publisher = events.NewPublisher(a.redis, cfg.Redis.EventStream, logger)
	}
	mailer := notify.NewMailer(notify.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	}, a.metrics, logger)
	a.watcher = watcher.New(a.depository, a.store, a.wishlists, mailer, watcherOpts)

	return a, nil
}

func (a *app) startBrowser(limiter ratelimit.Limiter) error {
	opts := browser.DefaultOptions()
	opts.Headless = cfg.Browser.Headless
	opts.Timeout = cfg.Browser.Timeout
	opts.ViewportWidth = cfg.Browser.ViewportWidth
	opts.ViewportHeight = cfg.Browser.ViewportHeight
	opts.AcceptLanguage = cfg.Browser.AcceptLanguage
	opts.TimezoneID = cfg.Browser.TimezoneID
	opts.Locale = cfg.Browser.Locale
	opts.ProxyServer = cfg.Browser.ProxyServer
	if cfg.Scraper.UserAgent != "" {
		opts.UserAgent = cfg.Scraper.UserAgent
	}

	engine, err := browser.Launch(opts, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize browser: %w", err)
	}

	authDomain, err := regexp.Compile(cfg.Depository.AuthDomain)
	if err != nil {
		_ = engine.Close()
		return fmt.Errorf("invalid DEPOSITORY_AUTH_DOMAIN: %w", err)
	}

	a.pool = browser.NewPool(engine, browser.PoolOptions{
		AcceptLanguage:    cfg.Browser.AcceptLanguage,
		NavigationRetries: cfg.Browser.NavigationRetries,
		RetryBackoff:      cfg.Browser.RetryBackoff,
		OnSessionsChanged: a.metrics.SetActiveSessions,
		Logger:            logger,
	})
	a.sessions = depository.NewSessionManager(a.pool, depository.SessionConfig{
		BaseURL:    cfg.Depository.BaseURL,
		AuthDomain: authDomain,
	}, logger)
	a.amazon = amazon.NewSearcher(a.pool, cfg.Amazon.BaseURL, limiter, a.metrics, logger)
	return nil
}

func (a *app) Close(ctx context.Context) {
	if a.pool != nil {
		a.pool.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			logger.Error("failed to close redis", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(ctx); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	}
}
