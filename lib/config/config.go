package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/go-i2p/go-stanzarouter/lib/util"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"github.com/spf13/viper"
)

var (
	CfgFile string
	log     = logger.GetGoI2PLogger()
)

const STANZAROUTER_BASE_DIR = ".go-stanzarouter"

// InitConfig loads defaults and the config file into viper. Without
// CfgFile, $HOME/.go-stanzarouter/config.yaml is used and created from the
// defaults when missing.
func InitConfig() error {
	if CfgFile != "" {
		viper.SetConfigFile(CfgFile)
	} else {
		viper.AddConfigPath(BuildDirPath())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	setDefaults()

	return handleConfigFile()
}

func setDefaults() {
	d := Defaults()

	viper.SetDefault("router.local_domains", d.LocalDomains)
	viper.SetDefault("router.store_offline", d.StoreOffline)

	viper.SetDefault("retry.budget", d.Retry.Budget)
	viper.SetDefault("retry.attempt_timeout", d.Retry.AttemptTimeout)
	viper.SetDefault("retry.workers", d.Retry.Workers)
	viper.SetDefault("retry.queue_size", d.Retry.QueueSize)
	viper.SetDefault("retry.rate", d.Retry.Rate)

	viper.SetDefault("dispatch.concurrency", d.Dispatch.Concurrency)

	viper.SetDefault("offline.backend", d.Offline.Backend)
	viper.SetDefault("offline.path", d.Offline.Path)
	viper.SetDefault("offline.max_per_owner", d.Offline.MaxPerOwner)
	viper.SetDefault("offline.retention", d.Offline.Retention)
	viper.SetDefault("offline.purge_interval", d.Offline.PurgeInterval)

	viper.SetDefault("accounts.cache_size", d.Accounts.CacheSize)

	viper.SetDefault("metrics.address", d.Metrics.Address)
}

// NewRouterConfigFromViper creates a new RouterConfig from current viper settings
func NewRouterConfigFromViper() *RouterConfig {
	return &RouterConfig{
		LocalDomains: viper.GetStringSlice("router.local_domains"),
		StoreOffline: viper.GetBool("router.store_offline"),
		Retry: RetryConfig{
			Budget:         viper.GetInt("retry.budget"),
			AttemptTimeout: viper.GetDuration("retry.attempt_timeout"),
			Workers:        viper.GetInt("retry.workers"),
			QueueSize:      viper.GetInt("retry.queue_size"),
			Rate:           viper.GetFloat64("retry.rate"),
		},
		Dispatch: DispatchConfig{
			Concurrency: viper.GetInt("dispatch.concurrency"),
		},
		Offline: OfflineConfig{
			Backend:       viper.GetString("offline.backend"),
			Path:          viper.GetString("offline.path"),
			MaxPerOwner:   viper.GetInt("offline.max_per_owner"),
			Retention:     viper.GetDuration("offline.retention"),
			PurgeInterval: viper.GetDuration("offline.purge_interval"),
		},
		Accounts: AccountsConfig{
			CacheSize: viper.GetInt("accounts.cache_size"),
		},
		Metrics: MetricsConfig{
			Address: viper.GetString("metrics.address"),
		},
	}
}

func createDefaultConfig(defaultConfigDir string) error {
	defaultConfigFile := filepath.Join(defaultConfigDir, "config.yaml")
	if err := os.MkdirAll(defaultConfigDir, 0o755); err != nil {
		return oops.Wrapf(err, "could not create config directory %s", defaultConfigDir)
	}

	if err := viper.SafeWriteConfigAs(defaultConfigFile); err != nil {
		return oops.Wrapf(err, "could not write default config file %s", defaultConfigFile)
	}

	log.Debugf("Created default configuration at: %s", defaultConfigFile)
	return nil
}

func handleConfigFile() error {
	err := viper.ReadInConfig()
	if err == nil {
		log.Debugf("Using config file: %s", viper.ConfigFileUsed())
		return nil
	}

	var notFound viper.ConfigFileNotFoundError
	if !errors.As(err, &notFound) {
		return oops.Wrapf(err, "error reading config file")
	}
	if CfgFile != "" {
		return oops.Wrapf(err, "config file %s is not found", CfgFile)
	}
	return createDefaultConfig(BuildDirPath())
}

// BuildDirPath returns the directory holding the config file and, by
// default, the offline database.
func BuildDirPath() string {
	return filepath.Join(util.UserHome(), STANZAROUTER_BASE_DIR)
}
