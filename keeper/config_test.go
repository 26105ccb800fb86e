/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package keeper

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/acronis/go-appkit/config"
)

type AppConfig struct {
	Keeper *Config `mapstructure:"storekeeper" json:"storekeeper" yaml:"storekeeper"`
}

func TestConfig(t *testing.T) {
	tests := []struct {
		name        string
		cfgDataType config.DataType
		cfgData     string
		expectedCfg func() *Config
	}{
		{
			name:        "yaml config",
			cfgDataType: config.DataTypeYAML,
			cfgData: `
storekeeper:
  maxStorageSize: 10M
  cleanupThreshold: 0.9
  maxLedgerEntries: 100
  maxAccessAge: 72h
  persistDebounce: 500ms
  excludeKeys: ["session:*", "auth:*"]
  unimportantKeys: ["tmp", "cache"]
  timeCleanup:
    enabled: true
    maxAgeDays: 14
    sweepOnInsert: true
  debug: true
`,
			expectedCfg: func() *Config {
				cfg := NewDefaultConfig()
				cfg.MaxStorageSize = 10 * 1024 * 1024
				cfg.CleanupThreshold = 0.9
				cfg.MaxLedgerEntries = 100
				cfg.MaxAccessAge = config.TimeDuration(72 * time.Hour)
				cfg.PersistDebounce = config.TimeDuration(500 * time.Millisecond)
				cfg.ExcludeKeys = []string{"session:*", "auth:*"}
				cfg.UnimportantKeys = []string{"tmp", "cache"}
				cfg.TimeCleanup.Enabled = true
				cfg.TimeCleanup.MaxAgeDays = 14
				cfg.TimeCleanup.SweepOnInsert = true
				cfg.Debug = true
				return cfg
			},
		},
		{
			name:        "json config",
			cfgDataType: config.DataTypeJSON,
			cfgData: `
{
	"storekeeper": {
		"maxStorageSize": "10M",
		"cleanupThreshold": 0.9,
		"maxLedgerEntries": 100,
		"maxAccessAge": "72h",
		"persistDebounce": "500ms",
		"excludeKeys": ["session:*", "auth:*"],
		"unimportantKeys": ["tmp", "cache"],
		"timeCleanup": {
			"enabled": true,
			"maxAgeDays": 14,
			"sweepOnInsert": true
		},
		"debug": true
	}
}`,
			expectedCfg: func() *Config {
				cfg := NewDefaultConfig()
				cfg.MaxStorageSize = 10 * 1024 * 1024
				cfg.CleanupThreshold = 0.9
				cfg.MaxLedgerEntries = 100
				cfg.MaxAccessAge = config.TimeDuration(72 * time.Hour)
				cfg.PersistDebounce = config.TimeDuration(500 * time.Millisecond)
				cfg.ExcludeKeys = []string{"session:*", "auth:*"}
				cfg.UnimportantKeys = []string{"tmp", "cache"}
				cfg.TimeCleanup.Enabled = true
				cfg.TimeCleanup.MaxAgeDays = 14
				cfg.TimeCleanup.SweepOnInsert = true
				cfg.Debug = true
				return cfg
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Load config using config.Loader.
			appCfg := AppConfig{Keeper: NewDefaultConfig()}
			expectedAppCfg := AppConfig{Keeper: tt.expectedCfg()}
			cfgLoader := config.NewLoader(config.NewViperAdapter())
			err := cfgLoader.LoadFromReader(bytes.NewBuffer([]byte(tt.cfgData)), tt.cfgDataType, appCfg.Keeper)
			require.NoError(t, err)
			require.Equal(t, expectedAppCfg, appCfg)

			// Load config using viper unmarshal.
			appCfg = AppConfig{Keeper: NewDefaultConfig()}
			expectedAppCfg = AppConfig{Keeper: tt.expectedCfg()}
			vpr := viper.New()
			vpr.SetConfigType(string(tt.cfgDataType))
			require.NoError(t, vpr.ReadConfig(bytes.NewBuffer([]byte(tt.cfgData))))
			require.NoError(t, vpr.Unmarshal(&appCfg, func(c *mapstructure.DecoderConfig) {
				c.DecodeHook = mapstructure.TextUnmarshallerHookFunc()
			}))
			require.Equal(t, expectedAppCfg, appCfg)

			// Load config using yaml/json unmarshal.
			appCfg = AppConfig{Keeper: NewDefaultConfig()}
			expectedAppCfg = AppConfig{Keeper: tt.expectedCfg()}
			switch tt.cfgDataType {
			case config.DataTypeYAML:
				require.NoError(t, yaml.Unmarshal([]byte(tt.cfgData), &appCfg))
				require.Equal(t, expectedAppCfg, appCfg)
			case config.DataTypeJSON:
				require.NoError(t, json.Unmarshal([]byte(tt.cfgData), &appCfg))
				require.Equal(t, expectedAppCfg, appCfg)
			default:
				t.Fatalf("unsupported config data type: %s", tt.cfgDataType)
			}
		})
	}
}

func TestNewDefaultConfig(t *testing.T) {
	var cfg *Config

	// Empty config, all defaults for the data provider should be used
	cfg = NewConfig()
	require.NoError(t, config.NewDefaultLoader("").LoadFromReader(bytes.NewBuffer(nil), config.DataTypeYAML, cfg))
	require.Equal(t, NewDefaultConfig(), cfg)

	// viper.Unmarshal
	cfg = NewDefaultConfig()
	vpr := viper.New()
	vpr.SetConfigType("yaml")
	require.NoError(t, vpr.Unmarshal(&cfg))
	require.Equal(t, NewDefaultConfig(), cfg)

	// yaml.Unmarshal
	cfg = NewDefaultConfig()
	require.NoError(t, yaml.Unmarshal([]byte(""), &cfg))
	require.Equal(t, NewDefaultConfig(), cfg)

	// json.Unmarshal
	cfg = NewDefaultConfig()
	require.NoError(t, json.Unmarshal([]byte("{}"), &cfg))
	require.Equal(t, NewDefaultConfig(), cfg)
}

func TestWithKeyPrefix(t *testing.T) {
	t.Run("custom key prefix", func(t *testing.T) {
		cfgData := `
customKeeper:
  maxLedgerEntries: 42
`
		expectedCfg := NewDefaultConfig(WithKeyPrefix("customKeeper"))
		expectedCfg.MaxLedgerEntries = 42

		cfg := NewConfig(WithKeyPrefix("customKeeper"))
		err := config.NewLoader(config.NewViperAdapter()).LoadFromReader(bytes.NewBuffer([]byte(cfgData)), config.DataTypeYAML, cfg)
		require.NoError(t, err)
		require.Equal(t, expectedCfg, cfg)
	})

	t.Run("default key prefix, empty struct initialization", func(t *testing.T) {
		cfgData := `
storekeeper:
  maxLedgerEntries: 42
`
		cfg := &Config{}
		err := config.NewLoader(config.NewViperAdapter()).LoadFromReader(bytes.NewBuffer([]byte(cfgData)), config.DataTypeYAML, cfg)
		require.NoError(t, err)
		require.Equal(t, 42, cfg.MaxLedgerEntries)
	})
}

func TestConfigValidationErrors(t *testing.T) {
	tests := []struct {
		name           string
		yamlData       string
		expectedErrMsg string
	}{
		{
			name: "error, zero max storage size",
			yamlData: `
storekeeper:
  maxStorageSize: 0
`,
			expectedErrMsg: `storekeeper.maxStorageSize: must be greater than 0`,
		},
		{
			name: "error, cleanup threshold out of range",
			yamlData: `
storekeeper:
  cleanupThreshold: 1.5
`,
			expectedErrMsg: `storekeeper.cleanupThreshold: must be in range (0, 1]`,
		},
		{
			name: "error, negative max ledger entries",
			yamlData: `
storekeeper:
  maxLedgerEntries: -1
`,
			expectedErrMsg: `storekeeper.maxLedgerEntries: must be greater than 0`,
		},
		{
			name: "error, zero time cleanup max age",
			yamlData: `
storekeeper:
  timeCleanup:
    maxAgeDays: 0
`,
			expectedErrMsg: `storekeeper.timeCleanup.maxAgeDays: must be greater than 0`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			err := config.NewLoader(config.NewViperAdapter()).LoadFromReader(bytes.NewBuffer([]byte(tt.yamlData)), config.DataTypeYAML, cfg)
			require.ErrorContains(t, err, tt.expectedErrMsg)
		})
	}
}
