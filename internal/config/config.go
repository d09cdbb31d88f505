package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"chatledger/internal/constants"
	"chatledger/internal/models"
	"chatledger/internal/security"
)

var (
	ErrMissingDBPath = models.ConfigError{Message: "missing database path"}
)

// LoadConfig reads, validates and environment-overrides a JSON config file.
func LoadConfig(path string) (*models.Config, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)
	applyDefaults(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}
	if err := security.ValidateFilePath(c.Database.Path); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid database path: %v", err)}
	}
	if c.Retry.Multiplier != 0 && c.Retry.Multiplier < 1 {
		return models.ConfigError{Message: "retry multiplier must be >= 1"}
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return models.ConfigError{Message: "tracing sample rate must be between 0 and 1"}
	}
	if c.Inspect.Port < 0 || c.Inspect.Port > 65535 {
		return models.ConfigError{Message: "inspect port out of range"}
	}
	return nil
}

func applyDefaults(c *models.Config) {
	if c.Retry.InitialBackoffMs == 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs == 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = constants.DefaultMaxAttempts
	}
	if c.RetryDriver.PollIntervalSec == 0 {
		c.RetryDriver.PollIntervalSec = constants.DefaultRetryDriverPollSec
	}
	if c.RetryDriver.BatchSize == 0 {
		c.RetryDriver.BatchSize = constants.DefaultRetryDriverBatchSize
	}
	if c.Monitor.CheckIntervalSec == 0 {
		c.Monitor.CheckIntervalSec = constants.DefaultMonitorIntervalSec
	}
	if c.Monitor.StaleThresholdSec == 0 {
		c.Monitor.StaleThresholdSec = constants.DefaultStaleThresholdSec
	}
	if c.Inspect.Port == 0 {
		c.Inspect.Port = constants.DefaultInspectPort
	}
	if c.Database.MaxBusyRetries == 0 {
		c.Database.MaxBusyRetries = constants.DefaultDatabaseRetryAttempts
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "chatledger"
	}
}

func applyEnvironmentOverrides(c *models.Config) {
	if v := os.Getenv("CHATLEDGER_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("CHATLEDGER_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("CHATLEDGER_INSPECT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Inspect.Port = port
		}
	}
	if v := os.Getenv("CHATLEDGER_TRACING_ENABLED"); v != "" {
		c.Tracing.Enabled = v == "true"
	}
	if v := os.Getenv("CHATLEDGER_OTLP_ENDPOINT"); v != "" {
		c.Tracing.OTLPEndpoint = v
	}
}
