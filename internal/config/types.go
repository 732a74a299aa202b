package config

// Config is the process-wide configuration, built once at startup and passed
// by reference into each component. There is deliberately no module-level
// global config state.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Feed lists the upstream operational-status endpoints. Every endpoint
	// must answer for a run to proceed; see internal/feed.
	Feed FeedConfig `json:"feed"`

	Storage StorageConfig `json:"storage"`

	// Notifier controls the per-subscriber push fan-out.
	// If omitted, the notify package defaults apply.
	Notifier *NotifierConfig `json:"notifier,omitempty"`

	Reconcile ReconcileConfig `json:"reconcile"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// SendTimeout is a Go duration string (e.g. "10s"). Applied per send call.
	SendTimeout string `json:"send_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type FeedConfig struct {
	Endpoints []FeedEndpoint `json:"endpoints"`
	// Timeout is a Go duration string applied to each endpoint request.
	Timeout string `json:"timeout,omitempty"`
}

// FeedEndpoint is one upstream status source. Token is sent as the
// acl:consumerKey query parameter (ODPT-style bearer credential).
type FeedEndpoint struct {
	Name  string `json:"name,omitempty"`
	URL   string `json:"url"`
	Token string `json:"token"`
}

// StorageConfig selects the persistence backends.
//
// Object drivers: "file" (local directory) or "s3".
// Subscription drivers: "sqlite" (local file) or "dynamo".
type StorageConfig struct {
	Object        ObjectStoreConfig       `json:"object"`
	Subscriptions SubscriptionStoreConfig `json:"subscriptions"`
}

type ObjectStoreConfig struct {
	Driver string `json:"driver"`
	// Path is the root directory for the file driver.
	Path string `json:"path,omitempty"`
	// Bucket/Region/Prefix apply to the s3 driver.
	Bucket string `json:"bucket,omitempty"`
	Region string `json:"region,omitempty"`
	Prefix string `json:"prefix,omitempty"`
	// Timeout is a Go duration string applied per store call.
	Timeout string `json:"timeout,omitempty"`
}

type SubscriptionStoreConfig struct {
	Driver string `json:"driver"`
	// Path is the sqlite database file.
	Path string `json:"path,omitempty"`
	// BusyTimeout is a Go duration string (sqlite only).
	BusyTimeout string `json:"busy_timeout,omitempty"`
	// Table/RouteIndex/Region apply to the dynamo driver. RouteIndex is the
	// secondary index whose partition key is the route id.
	Table      string `json:"table,omitempty"`
	RouteIndex string `json:"route_index,omitempty"`
	Region     string `json:"region,omitempty"`
	// Timeout is a Go duration string applied per query.
	Timeout string `json:"timeout,omitempty"`
}

// NotifierConfig controls the push fan-out.
//
// All durations are Go duration strings (e.g. "500ms", "10s").
type NotifierConfig struct {
	Workers    int    `json:"workers,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	RetryMax   int    `json:"retry_max,omitempty"`
	RetryDelay string `json:"retry_delay,omitempty"`
}

// ReconcileConfig controls the reconciliation run.
type ReconcileConfig struct {
	// Schedule is a cron spec (five fields) or "@every <duration>".
	// Empty disables the in-process trigger (use -once with an external
	// scheduler instead).
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"`

	// LookupWorkers bounds the per-user subscription refresh pool.
	LookupWorkers int `json:"lookup_workers,omitempty"`
	// LookupTimeout is a Go duration string applied to each per-user query.
	LookupTimeout string `json:"lookup_timeout,omitempty"`
	// RunTimeout bounds a whole reconciliation run.
	RunTimeout string `json:"run_timeout,omitempty"`

	// FilterKeywords gates which status texts count as disruptions.
	// Empty list means any text distinct from the stored one fires.
	FilterKeywords []string `json:"filter_keywords,omitempty"`
}
