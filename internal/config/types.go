package config

import (
	"time"
)

// Config is the root configuration carrier for the platmarket service.
type Config struct {
	App      AppConfig      `yaml:"app"`
	Market   MarketConfig   `yaml:"market"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Store    StoreConfig    `yaml:"store"`
	Pipeline PipelineConfig `yaml:"pipeline"`
}

type AppConfig struct {
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level"`
	HTTPAddr string `yaml:"http_addr"`
	LogPath  string `yaml:"log_path"`
}

// MarketConfig describes the upstream catalog service and the client's
// self-throttling policy.
type MarketConfig struct {
	BaseURL           string  `yaml:"base_url"`
	Platform          string  `yaml:"platform"`
	RatePerSecond     float64 `yaml:"rate_per_second"`
	MaxRetries        int     `yaml:"max_retries"`
	RetryDelaySeconds float64 `yaml:"retry_delay_seconds"`
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
}

func (m MarketConfig) RetryDelay() time.Duration {
	return time.Duration(m.RetryDelaySeconds * float64(time.Second))
}

func (m MarketConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutSeconds) * time.Second
}

// CatalogConfig controls which catalog entries count as tradable sets.
type CatalogConfig struct {
	SetKeyword string `yaml:"set_keyword"`
	ItemTag    string `yaml:"item_tag"`
}

type StoreConfig struct {
	DBPath       string `yaml:"db_path"`
	RollupDBPath string `yaml:"rollup_db_path"`
}

// PipelineConfig drives the orchestrator's cycle cadence and retention.
type PipelineConfig struct {
	CycleInterval string `yaml:"cycle_interval"`
	StaleDays     int    `yaml:"stale_days"`
	PurgeMonths   int    `yaml:"purge_months"`
	Concurrency   int    `yaml:"concurrency"`
}

func (p PipelineConfig) StaleCutoff(now time.Time) time.Time {
	days := p.StaleDays
	if days <= 0 {
		days = defaultPipelineStaleDays
	}
	return now.AddDate(0, 0, -days)
}
