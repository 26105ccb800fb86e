/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package keeper

import (
	"fmt"
	"time"

	"github.com/acronis/go-appkit/config"
)

const cfgDefaultKeyPrefix = "storekeeper"

const (
	cfgKeyMaxStorageSize           = "maxStorageSize"
	cfgKeyCleanupThreshold         = "cleanupThreshold"
	cfgKeyMaxLedgerEntries         = "maxLedgerEntries"
	cfgKeyMaxAccessAge             = "maxAccessAge"
	cfgKeyPersistDebounce          = "persistDebounce"
	cfgKeyExcludeKeys              = "excludeKeys"
	cfgKeyUnimportantKeys          = "unimportantKeys"
	cfgKeyTimeCleanupEnabled       = "timeCleanup.enabled"
	cfgKeyTimeCleanupMaxAgeDays    = "timeCleanup.maxAgeDays"
	cfgKeyTimeCleanupSweepOnInsert = "timeCleanup.sweepOnInsert"
	cfgKeyDebug                    = "debug"
)

// Default and restriction values.
const (
	DefaultMaxStorageSize        = 5 * 1024 * 1024
	DefaultCleanupThreshold      = 0.8
	DefaultMaxLedgerEntries      = 500
	DefaultTimeCleanupMaxAgeDays = 7
	DefaultPersistDebounce       = time.Second
)

// Config represents a set of configuration parameters for the keeper engine.
// Configuration can be loaded in different formats (YAML, JSON) using config.Loader, viper,
// or with json.Unmarshal/yaml.Unmarshal functions directly.
type Config struct {
	// MaxStorageSize is the capacity of the managed storage medium in bytes.
	MaxStorageSize config.ByteSize `mapstructure:"maxStorageSize" yaml:"maxStorageSize" json:"maxStorageSize"`

	// CleanupThreshold is the usage ratio (0..1] above which low-value insertions are rejected.
	CleanupThreshold float64 `mapstructure:"cleanupThreshold" yaml:"cleanupThreshold" json:"cleanupThreshold"`

	// MaxLedgerEntries caps how many access records survive snapshot persistence.
	MaxLedgerEntries int `mapstructure:"maxLedgerEntries" yaml:"maxLedgerEntries" json:"maxLedgerEntries"`

	// MaxAccessAge, when non-zero, drops records older than this age from persisted snapshots.
	MaxAccessAge config.TimeDuration `mapstructure:"maxAccessAge" yaml:"maxAccessAge" json:"maxAccessAge"`

	// PersistDebounce is the coalescing window for snapshot persistence after a mutation.
	PersistDebounce config.TimeDuration `mapstructure:"persistDebounce" yaml:"persistDebounce" json:"persistDebounce"`

	// ExcludeKeys lists glob patterns (e.g. "session:*") for keys
	// that are never tracked and never evicted.
	ExcludeKeys []string `mapstructure:"excludeKeys" yaml:"excludeKeys" json:"excludeKeys"`

	// UnimportantKeys lists substrings marking low-value keys
	// that are evicted first and may be rejected on insert under pressure.
	UnimportantKeys []string `mapstructure:"unimportantKeys" yaml:"unimportantKeys" json:"unimportantKeys"`

	TimeCleanup TimeCleanupConfig `mapstructure:"timeCleanup" yaml:"timeCleanup" json:"timeCleanup"`

	// Debug enables verbose logging of eviction selection and persistence.
	Debug bool `mapstructure:"debug" yaml:"debug" json:"debug"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// TimeCleanupConfig represents configuration parameters for time-based (absolute age) eviction.
type TimeCleanupConfig struct {
	// Enabled turns time-based eviction on.
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// MaxAgeDays is the age in days after which a key is considered expired.
	MaxAgeDays int `mapstructure:"maxAgeDays" yaml:"maxAgeDays" json:"maxAgeDays"`

	// SweepOnInsert runs an expiry sweep when a key is tracked for the first time.
	SweepOnInsert bool `mapstructure:"sweepOnInsert" yaml:"sweepOnInsert" json:"sweepOnInsert"`
}

// MaxAge returns the expiry age as a duration.
func (t *TimeCleanupConfig) MaxAge() time.Duration {
	return time.Duration(t.MaxAgeDays) * 24 * time.Hour
}

// ConfigOption is a type for functional options for the Config.
type ConfigOption func(*configOptions)

type configOptions struct {
	keyPrefix string
}

// WithKeyPrefix returns a ConfigOption that sets a key prefix for parsing configuration parameters.
// This prefix will be used by config.Loader.
func WithKeyPrefix(keyPrefix string) ConfigOption {
	return func(o *configOptions) {
		o.keyPrefix = keyPrefix
	}
}

// NewConfig creates a new instance of the Config.
func NewConfig(options ...ConfigOption) *Config {
	opts := configOptions{keyPrefix: cfgDefaultKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return &Config{keyPrefix: opts.keyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig(options ...ConfigOption) *Config {
	opts := configOptions{keyPrefix: cfgDefaultKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return &Config{
		keyPrefix:        opts.keyPrefix,
		MaxStorageSize:   DefaultMaxStorageSize,
		CleanupThreshold: DefaultCleanupThreshold,
		MaxLedgerEntries: DefaultMaxLedgerEntries,
		PersistDebounce:  config.TimeDuration(DefaultPersistDebounce),
		TimeCleanup: TimeCleanupConfig{
			MaxAgeDays: DefaultTimeCleanupMaxAgeDays,
		},
	}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
// Implements config.KeyPrefixProvider interface.
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values for the keeper engine in config.DataProvider.
// Implements config.Config interface.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyMaxStorageSize, DefaultMaxStorageSize)
	dp.SetDefault(cfgKeyCleanupThreshold, DefaultCleanupThreshold)
	dp.SetDefault(cfgKeyMaxLedgerEntries, DefaultMaxLedgerEntries)
	dp.SetDefault(cfgKeyPersistDebounce, DefaultPersistDebounce)
	dp.SetDefault(cfgKeyTimeCleanupMaxAgeDays, DefaultTimeCleanupMaxAgeDays)
}

// Set sets keeper engine configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if c.MaxStorageSize, err = dp.GetSizeInBytes(cfgKeyMaxStorageSize); err != nil {
		return dp.WrapKeyErr(cfgKeyMaxStorageSize, err)
	}
	if c.MaxStorageSize == 0 {
		return dp.WrapKeyErr(cfgKeyMaxStorageSize, fmt.Errorf("must be greater than 0"))
	}

	if c.CleanupThreshold, err = dp.GetFloat64(cfgKeyCleanupThreshold); err != nil {
		return err
	}
	if c.CleanupThreshold <= 0 || c.CleanupThreshold > 1 {
		return dp.WrapKeyErr(cfgKeyCleanupThreshold, fmt.Errorf("must be in range (0, 1]"))
	}

	if c.MaxLedgerEntries, err = dp.GetInt(cfgKeyMaxLedgerEntries); err != nil {
		return err
	}
	if c.MaxLedgerEntries <= 0 {
		return dp.WrapKeyErr(cfgKeyMaxLedgerEntries, fmt.Errorf("must be greater than 0"))
	}

	var dur time.Duration
	if dur, err = dp.GetDuration(cfgKeyMaxAccessAge); err != nil {
		return err
	}
	c.MaxAccessAge = config.TimeDuration(dur)

	if dur, err = dp.GetDuration(cfgKeyPersistDebounce); err != nil {
		return err
	}
	c.PersistDebounce = config.TimeDuration(dur)

	if c.ExcludeKeys, err = dp.GetStringSlice(cfgKeyExcludeKeys); err != nil {
		return err
	}
	if c.UnimportantKeys, err = dp.GetStringSlice(cfgKeyUnimportantKeys); err != nil {
		return err
	}

	if err = c.TimeCleanup.Set(dp); err != nil {
		return err
	}

	if c.Debug, err = dp.GetBool(cfgKeyDebug); err != nil {
		return err
	}

	return nil
}

// Set sets time-based cleanup configuration values from config.DataProvider.
func (t *TimeCleanupConfig) Set(dp config.DataProvider) error {
	var err error

	if t.Enabled, err = dp.GetBool(cfgKeyTimeCleanupEnabled); err != nil {
		return err
	}
	if t.MaxAgeDays, err = dp.GetInt(cfgKeyTimeCleanupMaxAgeDays); err != nil {
		return err
	}
	if t.MaxAgeDays <= 0 {
		return dp.WrapKeyErr(cfgKeyTimeCleanupMaxAgeDays, fmt.Errorf("must be greater than 0"))
	}
	if t.SweepOnInsert, err = dp.GetBool(cfgKeyTimeCleanupSweepOnInsert); err != nil {
		return err
	}

	return nil
}
