package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// RatesConfig is the per-unit pricing applied to billing lines.
type RatesConfig struct {
	Default RateEntry   `mapstructure:"default"`
	Lines   []RateEntry `mapstructure:"lines"`
}

// RateEntry prices one billing line. UnitAmount is a decimal string so no
// precision is lost in YAML.
type RateEntry struct {
	BillingLineID string `mapstructure:"billingLineId"`
	UnitAmount    string `mapstructure:"unitAmount"`
	Currency      string `mapstructure:"currency"`
}

func DefaultRatesConfig() RatesConfig {
	return RatesConfig{
		Default: RateEntry{UnitAmount: "0.84", Currency: "AUD"},
	}
}

type RatesHolder struct {
	current atomic.Value // holds RatesConfig
}

// NewStaticRatesHolder returns a holder that never reloads.
func NewStaticRatesHolder(cfg RatesConfig) (*RatesHolder, error) {
	if err := validateRatesConfig(cfg); err != nil {
		return nil, err
	}
	holder := &RatesHolder{}
	holder.current.Store(cfg)
	return holder, nil
}

func NewRatesHolder(appCfg Config) (*RatesHolder, error) {
	v := viper.New()

	if path := strings.TrimSpace(appCfg.RatesConfigPath); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("rates")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/timesync")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("TIMESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultRatesConfig()
	v.SetDefault("rates.default.unitAmount", defaults.Default.UnitAmount)
	v.SetDefault("rates.default.currency", defaults.Default.Currency)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg RatesConfig
	if err := v.UnmarshalKey("rates", &cfg); err != nil {
		return nil, err
	}

	holder, err := NewStaticRatesHolder(cfg)
	if err != nil {
		return nil, err
	}

	if fileLoaded {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated RatesConfig
			if err := v.UnmarshalKey("rates", &updated); err != nil {
				log.Printf("[rates-config] reload failed: %v", err)
				return
			}
			if err := validateRatesConfig(updated); err != nil {
				log.Printf("[rates-config] invalid config ignored: %v", err)
				return
			}
			holder.current.Store(updated)
			log.Printf("[rates-config] reloaded from %s", e.Name)
		})
	}

	return holder, nil
}

func (h *RatesHolder) Get() RatesConfig {
	return h.current.Load().(RatesConfig)
}

// Lookup returns the entry for billingLineID, falling back to the default.
func (h *RatesHolder) Lookup(billingLineID string) RateEntry {
	cfg := h.Get()
	billingLineID = strings.TrimSpace(billingLineID)
	for _, line := range cfg.Lines {
		if strings.TrimSpace(line.BillingLineID) != billingLineID {
			continue
		}
		if strings.TrimSpace(line.Currency) == "" {
			line.Currency = cfg.Default.Currency
		}
		return line
	}
	entry := cfg.Default
	entry.BillingLineID = billingLineID
	return entry
}

func validateRatesConfig(cfg RatesConfig) error {
	if err := validateRateEntry(cfg.Default); err != nil {
		return fmt.Errorf("rates.default: %w", err)
	}
	for i, line := range cfg.Lines {
		if strings.TrimSpace(line.BillingLineID) == "" {
			return fmt.Errorf("rates.lines[%d]: billingLineId cannot be empty", i)
		}
		if strings.TrimSpace(line.Currency) == "" {
			line.Currency = cfg.Default.Currency
		}
		if err := validateRateEntry(line); err != nil {
			return fmt.Errorf("rates.lines[%d]: %w", i, err)
		}
	}
	return nil
}

func validateRateEntry(entry RateEntry) error {
	amount, err := decimal.NewFromString(strings.TrimSpace(entry.UnitAmount))
	if err != nil {
		return fmt.Errorf("unitAmount %q is not a decimal", entry.UnitAmount)
	}
	if amount.IsNegative() {
		return errors.New("unitAmount cannot be negative")
	}
	if strings.TrimSpace(entry.Currency) == "" {
		return errors.New("currency cannot be empty")
	}
	return nil
}
