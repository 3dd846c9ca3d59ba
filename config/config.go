package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/alexandrut83/sentinel/sentinel"
)

// EnvPrefix prefixes every environment override, e.g. SENTINEL_REWARDS_BONUS_CAP
const EnvPrefix = "SENTINEL"

// Config is the daemon configuration
type Config struct {
	Filter       FilterConfig       `mapstructure:"filter"`
	Rewards      RewardsConfig      `mapstructure:"rewards"`
	Verification VerificationConfig `mapstructure:"verification"`
	Scan         ScanConfig         `mapstructure:"scan"`
	HotList      HotListConfig      `mapstructure:"hotlist"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	Log          LogConfig          `mapstructure:"log"`
	Authority    AuthorityConfig    `mapstructure:"authority"`
}

// FilterConfig sizes the membership index. When ExpectedItems is set the
// index is sized from it and FalsePositiveRate instead of BitCount/HashRounds.
type FilterConfig struct {
	BitCount          int     `mapstructure:"bit_count"`
	HashRounds        int     `mapstructure:"hash_rounds"`
	ExpectedItems     int     `mapstructure:"expected_items"`
	FalsePositiveRate float64 `mapstructure:"false_positive_rate"`
}

// RewardsConfig holds the accrual tuning values in major currency units
type RewardsConfig struct {
	Base            float64 `mapstructure:"base"`
	InitialBonus    float64 `mapstructure:"initial_bonus"`
	BonusCap        float64 `mapstructure:"bonus_cap"`
	PassiveReward   float64 `mapstructure:"passive_reward"`
	PassiveInterval int     `mapstructure:"passive_interval"`
	ConfirmReward   float64 `mapstructure:"confirm_reward"`
}

// VerificationConfig configures calls to the remote authority
type VerificationConfig struct {
	AuthorityURL  string        `mapstructure:"authority_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RateLimit     float64       `mapstructure:"rate_limit"`
	Burst         int           `mapstructure:"burst"`
	DedupInFlight bool          `mapstructure:"dedup_in_flight"`
	DeviceToken   string        `mapstructure:"device_token"`
}

// ScanConfig selects the scan source
type ScanConfig struct {
	Source   string `mapstructure:"source"`
	Listen   string `mapstructure:"listen"`
	TailPath string `mapstructure:"tail_path"`
	SelfID   string `mapstructure:"self_id"`
}

// HotListConfig locates the hot list file
type HotListConfig struct {
	Path     string        `mapstructure:"path"`
	Watch    bool          `mapstructure:"watch"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// HTTPConfig configures the control API
type HTTPConfig struct {
	Listen string `mapstructure:"listen"`
	Token  string `mapstructure:"token"`
}

// LogConfig configures logging
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AuthorityConfig configures the reference verification authority
type AuthorityConfig struct {
	Listen      string        `mapstructure:"listen"`
	HotListPath string        `mapstructure:"hotlist_path"`
	RefillRate  int           `mapstructure:"refill_rate"`
	Interval    time.Duration `mapstructure:"interval"`
	Capacity    int           `mapstructure:"capacity"`
}

// Scan source kinds
const (
	SourceTCP  = "tcp"
	SourceTail = "tail"
	SourceNone = "none"
)

// SetDefaults registers the default values on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("filter.bit_count", sentinel.DefaultBitCount)
	v.SetDefault("filter.hash_rounds", sentinel.DefaultHashRounds)
	v.SetDefault("filter.expected_items", 0)
	v.SetDefault("filter.false_positive_rate", 0.01)

	v.SetDefault("rewards.base", sentinel.DefaultBase.Float())
	v.SetDefault("rewards.initial_bonus", sentinel.DefaultInitialBonus.Float())
	v.SetDefault("rewards.bonus_cap", sentinel.DefaultBonusCap.Float())
	v.SetDefault("rewards.passive_reward", sentinel.DefaultPassiveReward.Float())
	v.SetDefault("rewards.passive_interval", sentinel.DefaultPassiveInterval)
	v.SetDefault("rewards.confirm_reward", sentinel.DefaultConfirmReward.Float())

	v.SetDefault("verification.authority_url", "http://localhost:3000")
	v.SetDefault("verification.timeout", sentinel.DefaultVerifyTimeout)
	v.SetDefault("verification.rate_limit", 10.0)
	v.SetDefault("verification.burst", 5)
	v.SetDefault("verification.dedup_in_flight", true)
	v.SetDefault("verification.device_token", "")

	v.SetDefault("scan.source", SourceTCP)
	v.SetDefault("scan.listen", ":7070")
	v.SetDefault("scan.tail_path", "")
	v.SetDefault("scan.self_id", "")

	v.SetDefault("hotlist.path", "hotlist.yaml")
	v.SetDefault("hotlist.watch", true)
	v.SetDefault("hotlist.debounce", 250*time.Millisecond)

	v.SetDefault("http.listen", ":8545")
	v.SetDefault("http.token", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")

	v.SetDefault("authority.listen", ":3000")
	v.SetDefault("authority.hotlist_path", "hotlist.yaml")
	v.SetDefault("authority.refill_rate", 1000)
	v.SetDefault("authority.interval", time.Minute)
	v.SetDefault("authority.capacity", 5000)
}

// New returns a viper instance with defaults and environment overrides bound
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file at path and decodes the result.
// An empty path searches for sentinel.yaml in the working directory.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("sentinel")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return Decode(v)
}

// Decode unmarshals and validates the settings held by v
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, sentinel.InvalidConfiguration("failed to decode config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration; every failure is an InvalidConfiguration error.
func (c *Config) Validate() error {
	if c.Filter.ExpectedItems < 0 {
		return sentinel.InvalidConfiguration("filter.expected_items must not be negative")
	}
	if c.Filter.ExpectedItems == 0 {
		if c.Filter.BitCount <= 0 || c.Filter.HashRounds <= 0 {
			return sentinel.InvalidConfiguration("filter.bit_count and filter.hash_rounds must be positive")
		}
	} else if c.Filter.FalsePositiveRate <= 0 || c.Filter.FalsePositiveRate >= 1 {
		return sentinel.InvalidConfiguration("filter.false_positive_rate must be in (0, 1)")
	}

	if err := c.RewardPolicy().Validate(); err != nil {
		return err
	}

	if c.Verification.Timeout <= 0 {
		return sentinel.InvalidConfiguration("verification.timeout must be positive")
	}
	if c.Verification.RateLimit < 0 || c.Verification.Burst < 0 {
		return sentinel.InvalidConfiguration("verification.rate_limit and verification.burst must not be negative")
	}
	if u, err := url.Parse(c.Verification.AuthorityURL); err != nil || u.Scheme == "" || u.Host == "" {
		return sentinel.InvalidConfiguration("verification.authority_url %q is not an absolute URL", c.Verification.AuthorityURL)
	}

	switch c.Scan.Source {
	case SourceTCP:
		if c.Scan.Listen == "" {
			return sentinel.InvalidConfiguration("scan.listen is required for the tcp source")
		}
	case SourceTail:
		if c.Scan.TailPath == "" {
			return sentinel.InvalidConfiguration("scan.tail_path is required for the tail source")
		}
	case SourceNone:
	default:
		return sentinel.InvalidConfiguration("unknown scan.source %q", c.Scan.Source)
	}

	switch c.Log.Format {
	case "auto", "json", "console":
	default:
		return sentinel.InvalidConfiguration("unknown log.format %q", c.Log.Format)
	}
	return nil
}

// RewardPolicy converts the rewards section into engine units
func (c *Config) RewardPolicy() sentinel.RewardPolicy {
	return sentinel.RewardPolicy{
		Base:            sentinel.FromFloat(c.Rewards.Base),
		InitialBonus:    sentinel.FromFloat(c.Rewards.InitialBonus),
		BonusCap:        sentinel.FromFloat(c.Rewards.BonusCap),
		PassiveReward:   sentinel.FromFloat(c.Rewards.PassiveReward),
		PassiveInterval: c.Rewards.PassiveInterval,
		ConfirmReward:   sentinel.FromFloat(c.Rewards.ConfirmReward),
	}
}

// NewIndex builds the membership index described by the filter section
func (c *Config) NewIndex() (*sentinel.MembershipIndex, error) {
	if c.Filter.ExpectedItems > 0 {
		return sentinel.NewMembershipIndexForCapacity(c.Filter.ExpectedItems, c.Filter.FalsePositiveRate)
	}
	return sentinel.NewMembershipIndex(c.Filter.BitCount, c.Filter.HashRounds)
}
