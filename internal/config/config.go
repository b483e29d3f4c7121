// Package config loads and validates run configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Dev-pucci/FCW-Targeted/internal/controller"
	"github.com/Dev-pucci/FCW-Targeted/internal/crawler"
	"github.com/Dev-pucci/FCW-Targeted/internal/listing"
)

// Fetcher modes.
const (
	ModeHTTP     = "http"
	ModeHeadless = "headless"
)

// Config captures every knob of a run. Top-level keys follow the JSON
// configuration file format; nested sections are optional.
type Config struct {
	StartURLs         []string      `mapstructure:"startUrls"`
	MaxPages          int           `mapstructure:"maxPages"`
	TargetPage        int           `mapstructure:"targetPage"`
	AgreementType     *string       `mapstructure:"agreementType"`
	Status            *string       `mapstructure:"status"`
	DownloadDocuments bool          `mapstructure:"downloadDocuments"`
	TargetURLs        []string      `mapstructure:"targetUrls"`
	Fetcher           FetcherConfig `mapstructure:"fetcher"`
	Crawl             CrawlConfig   `mapstructure:"crawl"`
	Output            OutputConfig  `mapstructure:"output"`
	Metrics           MetricsConfig `mapstructure:"metrics"`
	Logging           LoggingConfig `mapstructure:"logging"`
}

// FetcherConfig governs listing page transport.
type FetcherConfig struct {
	Mode              string  `mapstructure:"mode"`
	UserAgent         string  `mapstructure:"userAgent"`
	TimeoutSeconds    int     `mapstructure:"timeoutSeconds"`
	MaxRetries        int     `mapstructure:"maxRetries"`
	BackoffInitialMs  int     `mapstructure:"backoffInitialMs"`
	BackoffMaxMs      int     `mapstructure:"backoffMaxMs"`
	RequestsPerSecond float64 `mapstructure:"requestsPerSecond"`
	Burst             int     `mapstructure:"burst"`
}

// CrawlConfig sizes passes.
type CrawlConfig struct {
	Workers          int    `mapstructure:"workers"`
	PagesPerWorker   int    `mapstructure:"pagesPerWorker"`
	Growth           string `mapstructure:"growth"`
	GrowthCap        int    `mapstructure:"growthCap"`
	ReassignAttempts int    `mapstructure:"reassignAttempts"`
}

// OutputConfig selects result sinks. Empty values disable optional sinks.
type OutputConfig struct {
	Dir           string `mapstructure:"dir"`
	GCSBucket     string `mapstructure:"gcsBucket"`
	PostgresDSN   string `mapstructure:"postgresDSN"`
	PostgresTable string `mapstructure:"postgresTable"`
	PubsubProject string `mapstructure:"pubsubProject"`
	PubsubTopic   string `mapstructure:"pubsubTopic"`
}

// MetricsConfig controls the metrics endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
	Debug       bool `mapstructure:"debug"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FCW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("%w: read config: %w", crawler.ErrConfig, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: unmarshal config: %w", crawler.ErrConfig, err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("startUrls", []string{listing.DefaultStartURL})
	v.SetDefault("maxPages", 5)
	v.SetDefault("targetPage", 1)
	v.SetDefault("downloadDocuments", false)
	v.SetDefault("fetcher.mode", ModeHTTP)
	v.SetDefault("fetcher.userAgent", "")
	v.SetDefault("fetcher.timeoutSeconds", 30)
	v.SetDefault("fetcher.maxRetries", 2)
	v.SetDefault("fetcher.backoffInitialMs", 500)
	v.SetDefault("fetcher.backoffMaxMs", 5000)
	v.SetDefault("fetcher.requestsPerSecond", 0.5)
	v.SetDefault("fetcher.burst", 1)
	v.SetDefault("crawl.workers", 4)
	v.SetDefault("crawl.pagesPerWorker", 5)
	v.SetDefault("crawl.growth", string(controller.GrowthFixed))
	v.SetDefault("crawl.growthCap", 64)
	v.SetDefault("crawl.reassignAttempts", 1)
	v.SetDefault("output.dir", "output")
	v.SetDefault("output.gcsBucket", "")
	v.SetDefault("output.postgresDSN", "")
	v.SetDefault("output.postgresTable", "agreement_matches")
	v.SetDefault("output.pubsubProject", "")
	v.SetDefault("output.pubsubTopic", "fcw-run-complete")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.debug", false)
}

// RunOptions carries CLI flag values. Zero values leave the config untouched.
type RunOptions struct {
	Workers        int
	PagesPerWorker int
	Growth         string
	MetricsAddr    string
	Headless       bool
	Debug          bool
}

// ApplyFlags overrides config values with explicitly set flags. It never
// changes MaxPages.
func (c *Config) ApplyFlags(o RunOptions) {
	if o.Workers != 0 {
		c.Crawl.Workers = o.Workers
	}
	if o.PagesPerWorker != 0 {
		c.Crawl.PagesPerWorker = o.PagesPerWorker
	}
	if o.Growth != "" {
		c.Crawl.Growth = o.Growth
	}
	if o.MetricsAddr != "" {
		c.Metrics.Addr = o.MetricsAddr
	}
	if o.Headless {
		c.Fetcher.Mode = ModeHeadless
	}
	if o.Debug {
		c.Logging.Debug = true
		c.Logging.Development = true
	}
}

// Validate enforces required values and reasonable limits. Every failure
// wraps crawler.ErrConfig.
func (c Config) Validate() error {
	if len(c.TargetURLs) == 0 {
		return fmt.Errorf("%w: targetUrls must not be empty", crawler.ErrConfig)
	}
	if _, err := listing.CanonicalizeAll(c.TargetURLs); err != nil {
		return err
	}
	if len(c.StartURLs) == 0 {
		return fmt.Errorf("%w: startUrls must not be empty", crawler.ErrConfig)
	}
	for _, u := range c.StartURLs {
		if _, err := listing.NewBuilder(u, c.Filters()); err != nil {
			return err
		}
	}
	if c.MaxPages <= 0 {
		return fmt.Errorf("%w: maxPages must be > 0", crawler.ErrConfig)
	}
	if c.TargetPage < 1 {
		return fmt.Errorf("%w: targetPage must be >= 1", crawler.ErrConfig)
	}
	if c.Crawl.Workers <= 0 {
		return fmt.Errorf("%w: workers must be > 0", crawler.ErrConfig)
	}
	if c.Crawl.PagesPerWorker <= 0 {
		return fmt.Errorf("%w: pagesPerWorker must be > 0", crawler.ErrConfig)
	}
	if _, err := controller.ParseGrowth(c.Crawl.Growth); err != nil {
		return err
	}
	if c.Crawl.GrowthCap < 0 || c.Crawl.ReassignAttempts < 0 {
		return fmt.Errorf("%w: growthCap and reassignAttempts must be >= 0", crawler.ErrConfig)
	}
	switch c.Fetcher.Mode {
	case ModeHTTP, ModeHeadless:
	default:
		return fmt.Errorf("%w: unknown fetcher mode %q", crawler.ErrConfig, c.Fetcher.Mode)
	}
	if c.Fetcher.TimeoutSeconds <= 0 {
		return fmt.Errorf("%w: fetcher.timeoutSeconds must be > 0", crawler.ErrConfig)
	}
	if c.Fetcher.MaxRetries < 0 {
		return fmt.Errorf("%w: fetcher.maxRetries must be >= 0", crawler.ErrConfig)
	}
	if c.Output.PubsubProject != "" && c.Output.PubsubTopic == "" {
		return fmt.Errorf("%w: output.pubsubTopic must be set with output.pubsubProject", crawler.ErrConfig)
	}
	return nil
}

// TargetIDs returns the canonical target ids.
func (c Config) TargetIDs() ([]string, error) {
	return listing.CanonicalizeAll(c.TargetURLs)
}

// Filters returns the listing filters configured for the run.
func (c Config) Filters() listing.Filters {
	var f listing.Filters
	if c.AgreementType != nil {
		f.AgreementType = *c.AgreementType
	}
	if c.Status != nil {
		f.Status = *c.Status
	}
	return f
}

// ControllerConfig maps the crawl settings onto the retry controller.
func (c Config) ControllerConfig() controller.Config {
	growth, _ := controller.ParseGrowth(c.Crawl.Growth)
	return controller.Config{
		MaxPages:       c.MaxPages,
		TargetPage:     c.TargetPage,
		Workers:        c.Crawl.Workers,
		PagesPerWorker: c.Crawl.PagesPerWorker,
		Growth:         growth,
		GrowthCap:      c.Crawl.GrowthCap,
	}
}

// FetchTimeout returns the per-page fetch timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetcher.TimeoutSeconds) * time.Second
}

// Backoff returns the initial and maximum retry backoff.
func (c Config) Backoff() (time.Duration, time.Duration) {
	return time.Duration(c.Fetcher.BackoffInitialMs) * time.Millisecond,
		time.Duration(c.Fetcher.BackoffMaxMs) * time.Millisecond
}
