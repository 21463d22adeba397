package config

import (
	"fmt"
	"strings"
)

const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"
	defaultAppHTTPAddr = ":9880"

	defaultMarketBaseURL    = "https://api.warframe.market/v1"
	defaultMarketPlatform   = "pc"
	defaultMarketRate       = 2.0
	defaultMarketRetries    = 3
	defaultMarketRetryDelay = 1.0
	defaultMarketTimeout    = 15

	defaultCatalogSetKeyword = "set"
	defaultCatalogItemTag    = "warframe"

	defaultStoreDBPath     = "data/platmarket.db"
	defaultStoreRollupPath = "data/price_stats.db"

	defaultPipelineInterval    = "1h"
	defaultPipelineStaleDays   = 30
	defaultPipelinePurgeMonths = 12
	defaultPipelineConcurrency = 4
)

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.App.Env) == "" {
		c.App.Env = defaultAppEnv
	}
	if strings.TrimSpace(c.App.LogLevel) == "" {
		c.App.LogLevel = defaultAppLogLevel
	}
	if strings.TrimSpace(c.App.HTTPAddr) == "" {
		c.App.HTTPAddr = defaultAppHTTPAddr
	}
	if strings.TrimSpace(c.Market.BaseURL) == "" {
		c.Market.BaseURL = defaultMarketBaseURL
	}
	if strings.TrimSpace(c.Market.Platform) == "" {
		c.Market.Platform = defaultMarketPlatform
	}
	if c.Market.RatePerSecond <= 0 {
		c.Market.RatePerSecond = defaultMarketRate
	}
	if c.Market.MaxRetries <= 0 {
		c.Market.MaxRetries = defaultMarketRetries
	}
	if c.Market.RetryDelaySeconds <= 0 {
		c.Market.RetryDelaySeconds = defaultMarketRetryDelay
	}
	if c.Market.TimeoutSeconds <= 0 {
		c.Market.TimeoutSeconds = defaultMarketTimeout
	}
	if strings.TrimSpace(c.Catalog.SetKeyword) == "" {
		c.Catalog.SetKeyword = defaultCatalogSetKeyword
	}
	if strings.TrimSpace(c.Catalog.ItemTag) == "" {
		c.Catalog.ItemTag = defaultCatalogItemTag
	}
	if strings.TrimSpace(c.Store.DBPath) == "" {
		c.Store.DBPath = defaultStoreDBPath
	}
	if strings.TrimSpace(c.Store.RollupDBPath) == "" {
		c.Store.RollupDBPath = defaultStoreRollupPath
	}
	if strings.TrimSpace(c.Pipeline.CycleInterval) == "" {
		c.Pipeline.CycleInterval = defaultPipelineInterval
	}
	if c.Pipeline.StaleDays <= 0 {
		c.Pipeline.StaleDays = defaultPipelineStaleDays
	}
	if c.Pipeline.PurgeMonths <= 0 {
		c.Pipeline.PurgeMonths = defaultPipelinePurgeMonths
	}
	if c.Pipeline.Concurrency <= 0 {
		c.Pipeline.Concurrency = defaultPipelineConcurrency
	}
}

func validate(c *Config) error {
	if !strings.HasPrefix(c.Market.BaseURL, "http://") && !strings.HasPrefix(c.Market.BaseURL, "https://") {
		return fmt.Errorf("market.base_url must be an http(s) URL, got %q", c.Market.BaseURL)
	}
	if c.Market.RatePerSecond > 10 {
		return fmt.Errorf("market.rate_per_second %.1f exceeds the upstream limit", c.Market.RatePerSecond)
	}
	switch strings.ToLower(strings.TrimSpace(c.App.LogLevel)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("app.log_level %q is not one of debug/info/warn/error", c.App.LogLevel)
	}
	return nil
}
