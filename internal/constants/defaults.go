package constants

// Default retry configuration values
const (
	DefaultRetryBackoffMs = 1000
	DefaultMaxBackoffMs   = 60000
	DefaultMaxAttempts    = 5
)

// Default retry-driver and monitor values
const (
	DefaultRetryDriverPollSec   = 15
	DefaultRetryDriverBatchSize = 50
	DefaultMonitorIntervalSec   = 60
	DefaultStaleThresholdSec    = 600
)

// Default database values
const (
	DefaultDatabaseRetryAttempts = 3
	DefaultDatabaseBackoffMs     = 100
	DefaultDatabaseMaxBackoffMs  = 2000
)

// Default inspect endpoint values
const (
	DefaultInspectPort           = 8082
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 10
)

// Input bounds
const (
	MaxMessageIDLength = 256
	MaxThreadKeyLength = 256
	MaxRecipientLength = 128
)

// Privacy settings
const (
	DefaultIDMaskVisible = 4
)

// Encryption salts. Key material itself comes from the environment.
const (
	EncryptionSalt       = "chatledger-store-v1"
	EncryptionLookupSalt = "chatledger-lookup-v1"
)
