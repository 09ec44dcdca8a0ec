package config

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const EnvPrefix = "AGRISENSE"

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	Chain  ChainConfig  `mapstructure:"chain"`
	Sync   SyncConfig   `mapstructure:"sync"`
	Watch  WatchConfig  `mapstructure:"watch"`
	IPFS   IPFSConfig   `mapstructure:"ipfs"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type LogConfig struct {
	AppLogFile string `mapstructure:"app_log_file"`
	Level      string `mapstructure:"level"`
}

type ChainConfig struct {
	RPCURLs                   []string `mapstructure:"rpc_urls"`
	RegistryAddress           string   `mapstructure:"registry_address"`
	PredictionRegistryAddress string   `mapstructure:"prediction_registry_address"`
	DeployBlock               uint64   `mapstructure:"deploy_block"`
}

type SyncConfig struct {
	BatchSize      uint64        `mapstructure:"batch_size"`
	MinBatchSize   uint64        `mapstructure:"min_batch_size"`
	BatchDelay     time.Duration `mapstructure:"batch_delay"`
	FallbackWindow uint64        `mapstructure:"fallback_window"`
	Interval       time.Duration `mapstructure:"interval"`
}

type WatchConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type IPFSConfig struct {
	Gateway string `mapstructure:"gateway"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.app_log_file", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("chain.rpc_urls", []string{"https://rpc1testnet.qie.digital", "https://testnetqierpc1.digital/"})
	v.SetDefault("chain.registry_address", "0xFc947Cdde836ffE202d6166d4b58891F789a01D3")
	v.SetDefault("chain.prediction_registry_address", "0x30Ffb2b780bA89A82eCF58419A7987c754E15420")
	v.SetDefault("chain.deploy_block", 0)
	v.SetDefault("sync.batch_size", 5000)
	v.SetDefault("sync.min_batch_size", 500)
	v.SetDefault("sync.batch_delay", "150ms")
	v.SetDefault("sync.fallback_window", 100000)
	v.SetDefault("sync.interval", "30s")
	v.SetDefault("watch.enabled", true)
	v.SetDefault("watch.poll_interval", "5s")
	v.SetDefault("ipfs.gateway", "https://gateway.pinata.cloud/ipfs/")
}

// Load reads path, or config/config.yaml when path is empty, on top of the
// defaults. AGRISENSE_* environment variables override both, e.g.
// AGRISENSE_CHAIN_DEPLOY_BLOCK.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, errors.Wrap(err, "read config")
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Chain.RPCURLs) == 0 {
		return errors.New("chain.rpc_urls must list at least one endpoint")
	}
	if !common.IsHexAddress(c.Chain.RegistryAddress) {
		return errors.Errorf("chain.registry_address %q is not an address", c.Chain.RegistryAddress)
	}
	if c.Chain.PredictionRegistryAddress != "" && !common.IsHexAddress(c.Chain.PredictionRegistryAddress) {
		return errors.Errorf("chain.prediction_registry_address %q is not an address", c.Chain.PredictionRegistryAddress)
	}
	if c.Sync.MinBatchSize == 0 || c.Sync.BatchSize < c.Sync.MinBatchSize {
		return errors.Errorf("sync.batch_size %d must be at least sync.min_batch_size %d", c.Sync.BatchSize, c.Sync.MinBatchSize)
	}
	return nil
}
