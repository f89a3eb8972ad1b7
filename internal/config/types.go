package config

type Config struct {
	Telegram    TelegramConfig    `json:"telegram"`
	Logging     LoggingConfig     `json:"logging"`
	Monitor     MonitorConfig     `json:"monitor"`
	Storage     StorageConfig     `json:"storage"`
	Translation TranslationConfig `json:"translation,omitempty"`
	Sources     SourcesConfig     `json:"sources,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// ReviewChat is the chat ID notifications are posted to.
	ReviewChat int64 `json:"review_chat"`
	// ReviewThread is an optional forum topic thread inside ReviewChat.
	ReviewThread int `json:"review_thread,omitempty"`
	// GroupLog optionally mirrors warn+ logs into this chat ID.
	GroupLog string `json:"group_log,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// MonitorConfig controls the review polling loop.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "5m").
//
// Defaults (when fields are omitted/zero):
//   - interval: "5m"
//   - subscription_delay: "2s"
//   - delivery_delay: "1s"
//   - max_retries: 3
type MonitorConfig struct {
	Enabled bool `json:"enabled"`

	// Interval between ticks.
	Interval string `json:"interval,omitempty"`

	// SubscriptionDelay paces adapter fetches inside a sweep so third-party
	// sites don't see burst traffic.
	SubscriptionDelay string `json:"subscription_delay,omitempty"`

	// DeliveryDelay paces notification sends.
	DeliveryDelay string `json:"delivery_delay,omitempty"`

	// MaxRetries caps delivery re-attempts per review. Reviews at the cap
	// stay pending in storage but leave the retry scan.
	MaxRetries int `json:"max_retries,omitempty"`
}

// StorageConfig controls the sqlite review log.
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// TranslationConfig controls best-effort review translation.
// If APIKey is empty the translator runs in detect-only mode and never
// substitutes text.
type TranslationConfig struct {
	Enabled bool   `json:"enabled"`
	APIKey  string `json:"api_key,omitempty"`
}

// SourcesConfig carries per-source credentials. Clients are constructed once
// at startup and injected into every consumer.
type SourcesConfig struct {
	TMDBAPIKey string `json:"tmdb_api_key,omitempty"`
}
