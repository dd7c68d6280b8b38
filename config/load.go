package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"quote-board-go/infrastructure/logger"
	"quote-board-go/quote"
)

const (
	ModeHTTP = "http"
	ModeSim  = "sim"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env         string            `yaml:"env"`
	Mode        string            `yaml:"mode"`
	Source      SourceConfig      `yaml:"source"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Instruments InstrumentsConfig `yaml:"instruments"`
	Cross       CrossConfig       `yaml:"cross"`
	Initial     quote.Snapshot    `yaml:"initial"`
	Sim         SimConfig         `yaml:"sim"`
	Server      ServerConfig      `yaml:"server"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Log         logger.Config     `yaml:"log"`
	Alert       AlertConfig       `yaml:"alert"`
	HotReload   HotReloadConfig   `yaml:"hotReload"`
}

// SourceConfig describes the exchange-house page to scrape.
type SourceConfig struct {
	URL        string  `yaml:"url"`
	Proxy      string  `yaml:"proxy"` // 代理前缀，目标 URL 会被转义后拼接在后面
	UserAgent  string  `yaml:"userAgent"`
	TimeoutMs  int     `yaml:"timeoutMs"`
	Retries    int     `yaml:"retries"`
	RatePerSec float64 `yaml:"ratePerSec"`
	Burst      int     `yaml:"burst"`
}

type ScheduleConfig struct {
	IntervalSec      int `yaml:"intervalSec"`      // 自动刷新周期
	ManualCooldownMs int `yaml:"manualCooldownMs"` // 手动刷新后的最短间隔
}

type InstrumentsConfig struct {
	Dollar InstrumentConfig `yaml:"dollar"`
	Real   InstrumentConfig `yaml:"real"`
}

// InstrumentConfig lists the aliases and pattern templates of one primary.
// Templates may use {alias} and {num} placeholders.
type InstrumentConfig struct {
	Aliases   []string `yaml:"aliases"`
	Patterns  []string `yaml:"patterns"`
	MinSpread float64  `yaml:"minSpread"`
}

type CrossConfig struct {
	MinSpread float64 `yaml:"minSpread"`
}

// SimConfig drives the in-memory random walk used when mode is sim.
type SimConfig struct {
	Seed       int64 `yaml:"seed"`
	DollarStep int   `yaml:"dollarStep"`
	RealStep   int   `yaml:"realStep"`
}

type ServerConfig struct {
	Addr       string  `yaml:"addr"`
	RatePerSec float64 `yaml:"ratePerSec"` // /api 与 /ws 的全局限流，0 关闭
	Burst      int     `yaml:"burst"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type AlertConfig struct {
	StaleAfterSec    int `yaml:"staleAfterSec"`
	FailureThreshold int `yaml:"failureThreshold"`
	ThrottleSec      int `yaml:"throttleSec"`
}

type HotReloadConfig struct {
	Enabled    bool `yaml:"enabled"`
	CooldownMs int  `yaml:"cooldownMs"`
}

// Default returns the built-in settings. source.url still has to be set in http mode.
func Default() AppConfig {
	spec := quote.DefaultSpec()
	return AppConfig{
		Env:  "dev",
		Mode: ModeHTTP,
		Source: SourceConfig{
			UserAgent:  "quote-board-go/1.0",
			TimeoutMs:  10000,
			Retries:    3,
			RatePerSec: 1,
			Burst:      2,
		},
		Schedule: ScheduleConfig{
			IntervalSec:      30,
			ManualCooldownMs: 1500,
		},
		Instruments: InstrumentsConfig{
			Dollar: InstrumentConfig{
				Aliases:   append([]string(nil), spec.Dollar.Aliases...),
				Patterns:  append([]string(nil), spec.Dollar.Templates...),
				MinSpread: spec.Dollar.MinSpread,
			},
			Real: InstrumentConfig{
				Aliases:   append([]string(nil), spec.Real.Aliases...),
				Patterns:  append([]string(nil), spec.Real.Templates...),
				MinSpread: spec.Real.MinSpread,
			},
		},
		Cross: CrossConfig{MinSpread: spec.RealDollarSpread},
		Initial: quote.Snapshot{
			Dollar:     quote.Quote{Buy: 6480, Sell: 6680},
			Real:       quote.Quote{Buy: 1175, Sell: 1230},
			RealDollar: quote.Quote{Buy: 5.42, Sell: 5.50},
		},
		Sim: SimConfig{
			DollarStep: 10,
			RealStep:   5,
		},
		Server:  ServerConfig{Addr: ":8080", RatePerSec: 20, Burst: 40},
		Metrics: MetricsConfig{Addr: ":9100"},
		Log:     logger.DefaultConfig(),
		Alert: AlertConfig{
			StaleAfterSec:    300,
			FailureThreshold: 3,
			ThrottleSec:      600,
		},
		HotReload: HotReloadConfig{
			Enabled:    true,
			CooldownMs: 2000,
		},
	}
}

// Load reads YAML config from path on top of Default and validates it.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides deployment fields from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	applyEnv(&cfg)
	return cfg, Validate(cfg)
}

func applyEnv(cfg *AppConfig) {
	if v := os.Getenv("QB_SOURCE_URL"); v != "" {
		cfg.Source.URL = v
	}
	if v := os.Getenv("QB_SOURCE_PROXY"); v != "" {
		cfg.Source.Proxy = v
	}
	if v := os.Getenv("QB_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
}

// Spec converts the instrument section into a pipeline spec.
func (c AppConfig) Spec() quote.Spec {
	return quote.Spec{
		Dollar: quote.InstrumentSpec{
			Aliases:   c.Instruments.Dollar.Aliases,
			Templates: c.Instruments.Dollar.Patterns,
			MinSpread: c.Instruments.Dollar.MinSpread,
		},
		Real: quote.InstrumentSpec{
			Aliases:   c.Instruments.Real.Aliases,
			Templates: c.Instruments.Real.Patterns,
			MinSpread: c.Instruments.Real.MinSpread,
		},
		RealDollarSpread: c.Cross.MinSpread,
	}
}

func (s ScheduleConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSec) * time.Second
}

func (s ScheduleConfig) ManualCooldown() time.Duration {
	return time.Duration(s.ManualCooldownMs) * time.Millisecond
}

func (s SourceConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMs) * time.Millisecond
}
