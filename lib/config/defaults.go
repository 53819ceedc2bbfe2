package config

import (
	"path/filepath"
	"time"

	"github.com/go-i2p/logger"
)

// Defaults returns the default router configuration. It is the single
// source of default values: setDefaults registers exactly these with viper.
func Defaults() RouterConfig {
	return RouterConfig{
		LocalDomains: []string{"localhost"},
		StoreOffline: false,
		Retry:        buildRetryDefaults(),
		Dispatch: DispatchConfig{
			Concurrency: 16,
		},
		Offline: buildOfflineDefaults(),
		Accounts: AccountsConfig{
			CacheSize: 1024,
		},
		Metrics: MetricsConfig{
			Address: "localhost:9464",
		},
	}
}

func buildRetryDefaults() RetryConfig {
	return RetryConfig{
		Budget:         2,
		AttemptTimeout: 10 * time.Second,
		Workers:        4,
		QueueSize:      256,
		Rate:           0,
	}
}

func buildOfflineDefaults() OfflineConfig {
	return OfflineConfig{
		Backend:       BackendSQLite,
		Path:          filepath.Join(BuildDirPath(), "offline.db"),
		MaxPerOwner:   1000,
		Retention:     7 * 24 * time.Hour,
		PurgeInterval: time.Hour,
	}
}

// Validate checks if the provided configuration values are reasonable.
// Returns an error describing the first invalid value found.
func Validate(cfg *RouterConfig) error {
	log.WithFields(logger.Fields{
		"at":     "Validate",
		"reason": "verification_requested",
	}).Debug("validating router configuration")

	validators := []func() error{
		func() error { return validateRouter(cfg) },
		func() error { return validateRetry(cfg.Retry) },
		func() error { return validateDispatch(cfg.Dispatch) },
		func() error { return validateOffline(cfg.Offline, cfg.StoreOffline) },
		func() error { return validateAccounts(cfg.Accounts) },
	}
	for _, validator := range validators {
		if err := validator(); err != nil {
			log.WithError(err).Error("Configuration validation failed")
			return err
		}
	}

	log.WithFields(logger.Fields{
		"at":     "Validate",
		"reason": "all_validators_passed",
	}).Debug("router configuration is valid")
	return nil
}

func validateRouter(cfg *RouterConfig) error {
	for _, d := range cfg.LocalDomains {
		if d == "" {
			return newValidationError("Router.LocalDomains must not contain empty domains")
		}
	}
	return nil
}

func validateRetry(retry RetryConfig) error {
	if retry.Budget < 1 {
		log.WithField("budget", retry.Budget).Error("Invalid retry configuration")
		return newValidationError("Retry.Budget must be at least 1")
	}
	if retry.AttemptTimeout < 0 {
		return newValidationError("Retry.AttemptTimeout must not be negative")
	}
	if retry.Workers < 0 || retry.QueueSize < 0 {
		log.WithFields(logger.Fields{
			"workers":    retry.Workers,
			"queue_size": retry.QueueSize,
		}).Error("Invalid retry configuration")
		return newValidationError("Retry.Workers and Retry.QueueSize must not be negative")
	}
	if retry.Rate < 0 {
		return newValidationError("Retry.Rate must not be negative")
	}
	return nil
}

func validateDispatch(dispatch DispatchConfig) error {
	if dispatch.Concurrency < 0 {
		return newValidationError("Dispatch.Concurrency must not be negative")
	}
	return nil
}

func validateOffline(offline OfflineConfig, storeOffline bool) error {
	switch offline.Backend {
	case BackendMemory:
	case BackendSQLite:
		if offline.Path == "" {
			return newValidationError("Offline.Path must be set for the sqlite backend")
		}
	default:
		log.WithField("backend", offline.Backend).Error("Invalid offline configuration")
		return newValidationError("Offline.Backend must be memory or sqlite")
	}
	if offline.MaxPerOwner < 0 {
		return newValidationError("Offline.MaxPerOwner must not be negative")
	}
	if offline.Retention < 0 {
		return newValidationError("Offline.Retention must not be negative")
	}
	if offline.Retention > 0 && offline.PurgeInterval <= 0 {
		return newValidationError("Offline.PurgeInterval must be positive when Offline.Retention is set")
	}
	if storeOffline && offline.MaxPerOwner == 0 {
		log.Warn("store-and-forward enabled with unbounded offline queues")
	}
	return nil
}

func validateAccounts(accounts AccountsConfig) error {
	if accounts.CacheSize < 0 {
		return newValidationError("Accounts.CacheSize must not be negative")
	}
	return nil
}

// validationError is returned when configuration validation fails
type validationError struct {
	message string
}

func newValidationError(message string) error {
	return &validationError{message: message}
}

func (e *validationError) Error() string {
	return "configuration validation failed: " + e.message
}
