// Package config provides a reusable loader for the bridge's
// configuration files and environment variables.
//
// Version: v0.1.0
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"ntt-bridge/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// PeerConfig seeds one remote Manager registration at startup.
type PeerConfig struct {
	ChainID      uint16 `mapstructure:"chain_id" json:"chain_id"`
	PeerContract string `mapstructure:"peer_contract" json:"peer_contract"`
	PeerDecimals uint8  `mapstructure:"peer_decimals" json:"peer_decimals"`
}

// BucketConfig seeds one rate-limit bucket at startup. Direction is
// either "outbound" or "inbound"; Chain is only meaningful for inbound
// buckets, one per peer chain.
type BucketConfig struct {
	Direction        string `mapstructure:"direction" json:"direction"`
	Chain            uint16 `mapstructure:"chain" json:"chain"`
	RateLimit        string `mapstructure:"rate_limit" json:"rate_limit"`
	RateDurationSecs int64  `mapstructure:"rate_duration_secs" json:"rate_duration_secs"`
}

// Config is the unified configuration for an ntt-bridge deployment. Load
// reads it from a default.yaml (plus an optional environment-named file)
// found under cmd/config or config.
type Config struct {
	Manager struct {
		LocalChainID         uint16   `mapstructure:"local_chain_id" json:"local_chain_id"`
		ManagerID            string   `mapstructure:"manager_id" json:"manager_id"`
		Admin                string   `mapstructure:"admin" json:"admin"`
		CustodyAccount       string   `mapstructure:"custody_account" json:"custody_account"`
		AssetID              string   `mapstructure:"asset_id" json:"asset_id"`
		OutboundRateDuration int64    `mapstructure:"outbound_rate_duration_secs" json:"outbound_rate_duration_secs"`
		InboundRateDuration  int64    `mapstructure:"inbound_rate_duration_secs" json:"inbound_rate_duration_secs"`
		MinBalanceDeposit    uint64   `mapstructure:"min_balance_deposit" json:"min_balance_deposit"`
		Peers                []PeerConfig   `mapstructure:"peers" json:"peers"`
		Buckets              []BucketConfig `mapstructure:"buckets" json:"buckets"`
	} `mapstructure:"manager" json:"manager"`

	Storage struct {
		DBPath string `mapstructure:"db_path" json:"db_path"`
	} `mapstructure:"storage" json:"storage"`

	HTTP struct {
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	} `mapstructure:"http" json:"http"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and
// returned.
//
// The function uses the provided environment name to merge additional
// config files. If env is empty, only the default configuration is
// loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the NTT_ENV environment
// variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("NTT_ENV", ""))
}
