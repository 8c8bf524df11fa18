// Package config loads settings from defaults, an optional YAML file named
// by CONFIG_FILE and environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Browser    BrowserConfig    `yaml:"browser"`
	Scraper    ScraperConfig    `yaml:"scraper"`
	Depository DepositoryConfig `yaml:"depository"`
	Amazon     AmazonConfig     `yaml:"amazon"`
	Ebay       EbayConfig       `yaml:"ebay"`
	Currency   CurrencyConfig   `yaml:"currency"`
	Store      StoreConfig      `yaml:"store"`
	Redis      RedisConfig      `yaml:"redis"`
	SMTP       SMTPConfig       `yaml:"smtp"`
	Watcher    WatcherConfig    `yaml:"watcher"`
	Auth       AuthConfig       `yaml:"auth"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type BrowserConfig struct {
	// Enabled controls whether the headless browser is launched at all.
	Enabled           bool          `yaml:"enabled"`
	Headless          bool          `yaml:"headless"`
	Timeout           time.Duration `yaml:"timeout"`
	ViewportWidth     int           `yaml:"viewport_width"`
	ViewportHeight    int           `yaml:"viewport_height"`
	AcceptLanguage    string        `yaml:"accept_language"`
	TimezoneID        string        `yaml:"timezone"`
	Locale            string        `yaml:"locale"`
	ProxyServer       string        `yaml:"proxy_server"`
	NavigationRetries int           `yaml:"navigation_retries"`
	RetryBackoff      time.Duration `yaml:"retry_backoff"`
}

type ScraperConfig struct {
	UserAgent     string        `yaml:"user_agent"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	RateBurst     int           `yaml:"rate_burst"`
	MaxJitter     time.Duration `yaml:"max_jitter"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
}

type DepositoryConfig struct {
	BaseURL    string `yaml:"base_url"`
	AuthDomain string `yaml:"auth_domain"`
}

type AmazonConfig struct {
	BaseURL string `yaml:"base_url"`
}

type EbayConfig struct {
	AppID    string        `yaml:"app_id"`
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

type CurrencyConfig struct {
	USDRate float64 `yaml:"usd_rate"`
}

type StoreConfig struct {
	Driver        string        `yaml:"driver"`
	SnapshotFile  string        `yaml:"snapshot_file"`
	PostgresDSN   string        `yaml:"postgres_dsn"`
	MaxConns      int           `yaml:"max_conns"`
	MongoURI      string        `yaml:"mongo_uri"`
	MongoDatabase string        `yaml:"mongo_database"`
	Timeout       time.Duration `yaml:"connect_timeout"`
}

// RedisConfig enables the page cache and event stream when Addr is set.
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	Password    string `yaml:"password"`
	DB          int    `yaml:"db"`
	CachePrefix string `yaml:"cache_prefix"`
	EventStream string `yaml:"event_stream"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type WatcherConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Schedule    string        `yaml:"schedule"`
	Concurrency int           `yaml:"concurrency"`
	UserTimeout time.Duration `yaml:"user_timeout"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	Issuer    string        `yaml:"issuer"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    90 * time.Second,
			RequestTimeout:  60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Browser: BrowserConfig{
			Enabled:           true,
			Headless:          true,
			Timeout:           30 * time.Second,
			ViewportWidth:     1920,
			ViewportHeight:    1080,
			AcceptLanguage:    "en-US,en;q=0.8",
			TimezoneID:        "Europe/Budapest",
			Locale:            "en-US",
			NavigationRetries: 2,
			RetryBackoff:      time.Second,
		},
		Scraper: ScraperConfig{
			Timeout:       30 * time.Second,
			MaxRetries:    2,
			RetryDelay:    500 * time.Millisecond,
			RatePerSecond: 2,
			RateBurst:     1,
			MaxJitter:     500 * time.Millisecond,
			CacheTTL:      5 * time.Minute,
		},
		Depository: DepositoryConfig{
			BaseURL:    "https://www.bookdepository.com",
			AuthDomain: "(?i)/ap/",
		},
		Amazon: AmazonConfig{
			BaseURL: "https://www.amazon.com",
		},
		Ebay: EbayConfig{
			Endpoint: "http://svcs.ebay.com/services/search/FindingService/v1",
			Timeout:  15 * time.Second,
		},
		Currency: CurrencyConfig{USDRate: 270},
		Store: StoreConfig{
			Driver:        "memory",
			MaxConns:      10,
			MongoDatabase: "uniscrape",
			Timeout:       10 * time.Second,
		},
		Redis: RedisConfig{
			CachePrefix: "page:",
			EventStream: "stream:price_drops",
		},
		SMTP: SMTPConfig{
			Port: 587,
			From: "noreply@uniscrape.com",
		},
		Watcher: WatcherConfig{
			Enabled:     true,
			Schedule:    "0 0 * * * *",
			Concurrency: 4,
			UserTimeout: 10 * time.Minute,
		},
		Auth: AuthConfig{
			Issuer:   "uniscrape",
			TokenTTL: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load applies CONFIG_FILE (if set) and the environment on top of Default
// and validates the result.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnv("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvInt("PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.RequestTimeout = getEnvDuration("SERVER_REQUEST_TIMEOUT", c.Server.RequestTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.CORSOrigins = getEnvSlice("CORS_ORIGINS", c.Server.CORSOrigins)

	c.Browser.Enabled = getEnvBool("BROWSER_ENABLED", c.Browser.Enabled)
	c.Browser.Headless = getEnvBool("BROWSER_HEADLESS", c.Browser.Headless)
	c.Browser.Timeout = getEnvDuration("BROWSER_TIMEOUT", c.Browser.Timeout)
	c.Browser.AcceptLanguage = getEnv("BROWSER_ACCEPT_LANGUAGE", c.Browser.AcceptLanguage)
	c.Browser.TimezoneID = getEnv("BROWSER_TIMEZONE", c.Browser.TimezoneID)
	c.Browser.Locale = getEnv("BROWSER_LOCALE", c.Browser.Locale)
	c.Browser.ProxyServer = getEnv("BROWSER_PROXY", c.Browser.ProxyServer)
	c.Browser.NavigationRetries = getEnvInt("BROWSER_NAVIGATION_RETRIES", c.Browser.NavigationRetries)

	c.Scraper.UserAgent = getEnv("SCRAPER_USER_AGENT", c.Scraper.UserAgent)
	c.Scraper.Timeout = getEnvDuration("SCRAPER_TIMEOUT", c.Scraper.Timeout)
	c.Scraper.MaxRetries = getEnvInt("SCRAPER_MAX_RETRIES", c.Scraper.MaxRetries)
	c.Scraper.RetryDelay = getEnvDuration("SCRAPER_RETRY_DELAY", c.Scraper.RetryDelay)
	c.Scraper.RatePerSecond = getEnvFloat("SCRAPER_RATE_PER_SECOND", c.Scraper.RatePerSecond)
	c.Scraper.RateBurst = getEnvInt("SCRAPER_RATE_BURST", c.Scraper.RateBurst)
	c.Scraper.MaxJitter = getEnvDuration("SCRAPER_MAX_JITTER", c.Scraper.MaxJitter)
	c.Scraper.CacheTTL = getEnvDuration("SCRAPER_CACHE_TTL", c.Scraper.CacheTTL)

	c.Depository.BaseURL = getEnv("DEPOSITORY_BASE_URL", c.Depository.BaseURL)
	c.Depository.AuthDomain = getEnv("DEPOSITORY_AUTH_DOMAIN", c.Depository.AuthDomain)
	c.Amazon.BaseURL = getEnv("AMAZON_BASE_URL", c.Amazon.BaseURL)

	c.Ebay.AppID = getEnv("EBAY_APP_ID", c.Ebay.AppID)
	c.Ebay.Endpoint = getEnv("EBAY_ENDPOINT", c.Ebay.Endpoint)
	c.Ebay.Timeout = getEnvDuration("EBAY_TIMEOUT", c.Ebay.Timeout)

	c.Currency.USDRate = getEnvFloat("USD_TO_HUF", c.Currency.USDRate)

	c.Store.Driver = getEnv("STORE_DRIVER", c.Store.Driver)
	c.Store.SnapshotFile = getEnv("STORE_SNAPSHOT_FILE", c.Store.SnapshotFile)
	c.Store.PostgresDSN = getEnv("DATABASE_URL", c.Store.PostgresDSN)
	c.Store.MaxConns = getEnvInt("DB_MAX_CONNS", c.Store.MaxConns)
	c.Store.MongoURI = getEnv("MONGO_URI", c.Store.MongoURI)
	c.Store.MongoDatabase = getEnv("MONGO_DATABASE", c.Store.MongoDatabase)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)
	c.Redis.EventStream = getEnv("REDIS_EVENT_STREAM", c.Redis.EventStream)

	c.SMTP.Host = getEnv("SMTP_HOST", c.SMTP.Host)
	c.SMTP.Port = getEnvInt("SMTP_PORT", c.SMTP.Port)
	c.SMTP.Username = getEnv("SMTP_USERNAME", c.SMTP.Username)
	c.SMTP.Password = getEnv("SMTP_PASSWORD", c.SMTP.Password)
	c.SMTP.From = getEnv("SMTP_FROM", c.SMTP.From)

	c.Watcher.Enabled = getEnvBool("WATCHER_ENABLED", c.Watcher.Enabled)
	c.Watcher.Schedule = getEnv("WATCHER_SCHEDULE", c.Watcher.Schedule)
	c.Watcher.Concurrency = getEnvInt("WATCHER_CONCURRENCY", c.Watcher.Concurrency)
	c.Watcher.UserTimeout = getEnvDuration("WATCHER_USER_TIMEOUT", c.Watcher.UserTimeout)

	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.Issuer = getEnv("JWT_ISSUER", c.Auth.Issuer)
	c.Auth.TokenTTL = getEnvDuration("JWT_TOKEN_TTL", c.Auth.TokenTTL)

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Scraper.MaxRetries < 0 {
		return fmt.Errorf("SCRAPER_MAX_RETRIES must not be negative")
	}
	if c.Currency.USDRate <= 0 {
		return fmt.Errorf("USD_TO_HUF must be positive")
	}
	if c.Watcher.Concurrency < 1 {
		return fmt.Errorf("WATCHER_CONCURRENCY must be at least 1")
	}

	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	case "mongo":
		if c.Store.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required for the mongo store")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.Logging.Format)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
