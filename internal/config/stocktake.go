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

// StockTakeConfig holds reviewer-facing tunables that operators may adjust at runtime.
type StockTakeConfig struct {
	Duplicate DuplicateConfig `mapstructure:"duplicate"`
	Review    ReviewConfig    `mapstructure:"review"`
	Rerun     RerunConfig     `mapstructure:"rerun"`
}

type DuplicateConfig struct {
	// MetersTolerance is the absolute meters difference still treated as the same roll.
	MetersTolerance float64 `mapstructure:"metersTolerance"`
}

type ReviewConfig struct {
	DefaultPageSize int `mapstructure:"defaultPageSize"`
	MaxPageSize     int `mapstructure:"maxPageSize"`
}

type RerunConfig struct {
	PollInterval time.Duration `mapstructure:"pollInterval"`
	ItemTimeout  time.Duration `mapstructure:"itemTimeout"`
	LockTTL      time.Duration `mapstructure:"lockTTL"`
	Preprocess   bool          `mapstructure:"preprocess"`
}

func DefaultStockTakeConfig() StockTakeConfig {
	return StockTakeConfig{
		Duplicate: DuplicateConfig{MetersTolerance: 0.5},
		Review:    ReviewConfig{DefaultPageSize: 50, MaxPageSize: 250},
		Rerun: RerunConfig{
			PollInterval: 2 * time.Second,
			ItemTimeout:  90 * time.Second,
			LockTTL:      30 * time.Minute,
			Preprocess:   true,
		},
	}
}

type StockTakeConfigHolder struct {
	current atomic.Value // holds StockTakeConfig
}

// NewStaticStockTakeConfigHolder returns a holder that never reloads.
func NewStaticStockTakeConfigHolder(cfg StockTakeConfig) *StockTakeConfigHolder {
	holder := &StockTakeConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewStockTakeConfigHolder() (*StockTakeConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("stocktake")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/stocktake")
	v.AddConfigPath(".")

	v.SetEnvPrefix("STOCKTAKE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultStockTakeConfig()
	v.SetDefault("stocktake.duplicate.metersTolerance", defaults.Duplicate.MetersTolerance)
	v.SetDefault("stocktake.review.defaultPageSize", defaults.Review.DefaultPageSize)
	v.SetDefault("stocktake.review.maxPageSize", defaults.Review.MaxPageSize)
	v.SetDefault("stocktake.rerun.pollInterval", defaults.Rerun.PollInterval)
	v.SetDefault("stocktake.rerun.itemTimeout", defaults.Rerun.ItemTimeout)
	v.SetDefault("stocktake.rerun.lockTTL", defaults.Rerun.LockTTL)
	v.SetDefault("stocktake.rerun.preprocess", defaults.Rerun.Preprocess)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg StockTakeConfig
	if err := v.UnmarshalKey("stocktake", &cfg); err != nil {
		return nil, err
	}
	if err := validateStockTakeConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticStockTakeConfigHolder(cfg)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated StockTakeConfig
		if err := v.UnmarshalKey("stocktake", &updated); err != nil {
			log.Printf("[stocktake-config] reload failed: %v", err)
			return
		}
		if err := validateStockTakeConfig(updated); err != nil {
			log.Printf("[stocktake-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[stocktake-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *StockTakeConfigHolder) Get() StockTakeConfig {
	if h == nil {
		return DefaultStockTakeConfig()
	}
	return h.current.Load().(StockTakeConfig)
}

func validateStockTakeConfig(cfg StockTakeConfig) error {
	if cfg.Duplicate.MetersTolerance < 0 {
		return errors.New("stocktake.duplicate.metersTolerance cannot be negative")
	}
	if cfg.Review.DefaultPageSize <= 0 || cfg.Review.MaxPageSize <= 0 {
		return errors.New("stocktake.review page sizes must be positive")
	}
	if cfg.Review.DefaultPageSize > cfg.Review.MaxPageSize {
		return errors.New("stocktake.review.defaultPageSize exceeds maxPageSize")
	}
	if cfg.Rerun.PollInterval <= 0 {
		return errors.New("stocktake.rerun.pollInterval must be positive")
	}
	if cfg.Rerun.ItemTimeout <= 0 {
		return errors.New("stocktake.rerun.itemTimeout must be positive")
	}
	if cfg.Rerun.LockTTL <= 0 {
		return errors.New("stocktake.rerun.lockTTL must be positive")
	}
	return nil
}
