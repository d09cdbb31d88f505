package models

import "fmt"

// ConfigError indicates an invalid or incomplete configuration.
type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("config error: %s", e.Message)
}

type DatabaseConfig struct {
	Path string `json:"path"`
	// MaxBusyRetries bounds retries of transient sqlite busy/locked errors.
	MaxBusyRetries int `json:"maxBusyRetries,omitempty"`
}

type RetryConfig struct {
	InitialBackoffMs int     `json:"initialBackoffMs"`
	MaxBackoffMs     int     `json:"maxBackoffMs"`
	Multiplier       float64 `json:"multiplier"`
	MaxAttempts      int     `json:"maxAttempts"`
	Jitter           bool    `json:"jitter"`
}

// RetryDriverConfig controls the loop that resends pending seen receipts,
// rerequests and retract confirmations.
type RetryDriverConfig struct {
	Enabled         bool `json:"enabled"`
	PollIntervalSec int  `json:"pollIntervalSec"`
	BatchSize       int  `json:"batchSize"`
}

// MonitorConfig controls the staleness monitor for messages stuck in
// retracting or with old pending sends.
type MonitorConfig struct {
	CheckIntervalSec  int `json:"checkIntervalSec"`
	StaleThresholdSec int `json:"staleThresholdSec"`
}

type TracingConfig struct {
	ServiceName  string  `json:"serviceName"`
	Environment  string  `json:"environment"`
	OTLPEndpoint string  `json:"otlpEndpoint"`
	SampleRate   float64 `json:"sampleRate"`
	Enabled      bool    `json:"enabled"`
	UseStdout    bool    `json:"useStdout"`
}

// InspectConfig controls the read-only operational endpoint.
type InspectConfig struct {
	Port int `json:"port"`
}

type Config struct {
	Database    DatabaseConfig    `json:"database"`
	Retry       RetryConfig       `json:"retry"`
	RetryDriver RetryDriverConfig `json:"retryDriver"`
	Monitor     MonitorConfig     `json:"monitor"`
	Tracing     TracingConfig     `json:"tracing"`
	Inspect     InspectConfig     `json:"inspect"`
	LogLevel    string            `json:"logLevel,omitempty"`
}
