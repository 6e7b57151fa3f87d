package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// MeteringConfig controls credit pricing and connector budgets. It is loaded
// from metering.yml and hot-reloaded on change so cost tweaks do not require
// a restart.
type MeteringConfig struct {
	// CreditCosts maps a resource type to its default per-unit credit cost.
	CreditCosts map[string]int64 `mapstructure:"creditCosts"`

	// QueryLatencyWindowMillis is the latency slice billed at one credit for
	// data-source queries.
	QueryLatencyWindowMillis int64 `mapstructure:"queryLatencyWindowMillis"`
	// QueryBaseCost is the flat per-query cost added on top of latency cost.
	QueryBaseCost int64 `mapstructure:"queryBaseCost"`

	ConnectorTestTimeoutSeconds  int `mapstructure:"connectorTestTimeoutSeconds"`
	ConnectorQueryTimeoutSeconds int `mapstructure:"connectorQueryTimeoutSeconds"`

	// LedgerRetryAttempts bounds transparent retries on write conflicts before
	// surfacing ledger_unavailable.
	LedgerRetryAttempts int `mapstructure:"ledgerRetryAttempts"`
}

func DefaultMeteringConfig() MeteringConfig {
	return MeteringConfig{
		CreditCosts: map[string]int64{
			"llm_tokens":        1,
			"api_call":          1,
			"storage":           1,
			"deployment":        10,
			"data_source_query": 1,
		},
		QueryLatencyWindowMillis:     100,
		QueryBaseCost:                1,
		ConnectorTestTimeoutSeconds:  10,
		ConnectorQueryTimeoutSeconds: 30,
		LedgerRetryAttempts:          3,
	}
}

func (c MeteringConfig) ConnectorTestTimeout() time.Duration {
	return time.Duration(c.ConnectorTestTimeoutSeconds) * time.Second
}

func (c MeteringConfig) ConnectorQueryTimeout() time.Duration {
	return time.Duration(c.ConnectorQueryTimeoutSeconds) * time.Second
}

// MeteringConfigHolder exposes the current config behind an atomic swap so
// readers never observe a partially reloaded value.
type MeteringConfigHolder struct {
	current atomic.Value // holds MeteringConfig
}

func NewMeteringConfigHolder() (*MeteringConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("metering")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/metering")
	v.AddConfigPath(".")

	v.SetEnvPrefix("METERING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultMeteringConfig()
	v.SetDefault("metering", defaults)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := defaults
	if err := v.UnmarshalKey("metering", &cfg); err != nil {
		return nil, err
	}
	if err := validateMeteringConfig(cfg); err != nil {
		return nil, err
	}

	holder := &MeteringConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated := DefaultMeteringConfig()
		if err := v.UnmarshalKey("metering", &updated); err != nil {
			log.Printf("[metering-config] reload failed: %v", err)
			return
		}
		if err := validateMeteringConfig(updated); err != nil {
			log.Printf("[metering-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[metering-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticMeteringConfigHolder wraps a fixed config with no file watching.
func NewStaticMeteringConfigHolder(cfg MeteringConfig) *MeteringConfigHolder {
	holder := &MeteringConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *MeteringConfigHolder) Get() MeteringConfig {
	return h.current.Load().(MeteringConfig)
}

func validateMeteringConfig(cfg MeteringConfig) error {
	if cfg.QueryLatencyWindowMillis <= 0 {
		return errors.New("metering.queryLatencyWindowMillis must be positive")
	}
	if cfg.QueryBaseCost < 0 {
		return errors.New("metering.queryBaseCost cannot be negative")
	}
	if cfg.ConnectorTestTimeoutSeconds <= 0 || cfg.ConnectorQueryTimeoutSeconds <= 0 {
		return errors.New("metering connector timeouts must be positive")
	}
	if cfg.LedgerRetryAttempts <= 0 {
		return errors.New("metering.ledgerRetryAttempts must be positive")
	}
	return nil
}
