package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	CacheKeyPrefixLookup = "lookup:"
)

const (
	DefaultTransactionsTopic = "transaction_events"
	DefaultNotificationTopic = "rule_notifications"
	DefaultRuleChangeTopic   = "rule_changes"
)

const (
	DefaultMongoDBName = "spendly"
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultLimit       = 100
	MaxLimit           = 1000
	DefaultTruncateLen = 100
)

const (
	DefaultCacheTTLSeconds = 3600
)

const (
	DefaultEngineWorkers   = 4
	DefaultEngineBatchSize = 500
)

const (
	TriggerManual    = "manual"
	TriggerDateRange = "date_range"
	TriggerEvent     = "event"
	TriggerTest      = "test"
)
