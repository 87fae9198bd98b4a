package config

// Config is the on-disk configuration (JSON or YAML).
//
// Durations are Go duration strings ("30s", "24h"). Validate() checks both
// struct tags and the fields that need parsing (HH:MM, timezone, durations).
type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Logging    LoggingConfig    `json:"logging"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	TaskEngine TaskEngineConfig `json:"task_engine"`
	Storage    StorageConfig    `json:"storage"`
	Announce   AnnounceConfig   `json:"announce"`
	Updates    UpdatesConfig    `json:"updates"`
}

type TelegramConfig struct {
	Token string `json:"token" validate:"required"`
	// PollTimeout is the long-poll timeout (e.g. "10s").
	PollTimeout    string `json:"poll_timeout,omitempty"`
	APIURL         string `json:"api_url,omitempty" validate:"omitempty,url"`
	SendRatePerSec int    `json:"send_rate_per_sec,omitempty" validate:"gte=0,lte=30"`
}

type LoggingConfig struct {
	Level   string          `json:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Console bool            `json:"console"`
	File    LoggingFile     `json:"file"`
	Chat    LoggingChatSink `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChatSink forwards WARN+ lines to an operator chat.
type LoggingChatSink struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id" validate:"required_if=Enabled true"`
	ThreadID   int    `json:"thread_id" validate:"gte=0"`
	MinLevel   string `json:"min_level" validate:"omitempty,oneof=trace debug info warn error"`
	RatePerSec int    `json:"rate_per_sec" validate:"gte=0"`
}

// SchedulerConfig controls trigger timing.
type SchedulerConfig struct {
	// Timezone is an IANA name; empty means the host's local zone.
	Timezone string `json:"timezone,omitempty"`
}

// TaskEngineConfig controls the shared worker pool.
//
// Defaults: workers 2, queue_size 64, default_timeout "30s", history_size 200.
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty" validate:"gte=0,lte=64"`
	QueueSize      int    `json:"queue_size,omitempty" validate:"gte=0"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty" validate:"gte=0"`
}

// StorageConfig selects the group registry backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./quotebot.db" }
//
// An empty driver means sqlite at DefaultStoragePath.
type StorageConfig struct {
	Driver      string `json:"driver,omitempty" validate:"omitempty,oneof=memory sqlite"`
	Path        string `json:"path,omitempty" validate:"required_if=Driver sqlite"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

const DefaultStoragePath = "quotebot.db"

// AnnounceConfig controls the daily quote.
type AnnounceConfig struct {
	// At is the local time of day, "HH:MM". Default "12:00".
	At    string `json:"at,omitempty"`
	Title string `json:"title,omitempty"`
	// ThreadID is the default forum topic for groups without their own.
	ThreadID int `json:"thread_id,omitempty" validate:"gte=0"`
	// Reactions adds a random emote to each post. Unset means on.
	Reactions *bool    `json:"reactions,omitempty"`
	Emotes    []string `json:"emotes,omitempty" validate:"dive,required"`
	// QuotesPath overrides the embedded quotes CSV.
	QuotesPath string `json:"quotes_path,omitempty"`
	Period     string `json:"period,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
	// Seed fixes the random source (0 seeds from the clock).
	Seed int64 `json:"seed,omitempty"`
}

// ReactionsEnabled reports whether posts get a reaction.
func (a AnnounceConfig) ReactionsEnabled() bool {
	return a.Reactions == nil || *a.Reactions
}

// UpdatesConfig controls the release check.
type UpdatesConfig struct {
	Enabled        bool   `json:"enabled"`
	OperatorUserID int64  `json:"operator_user_id" validate:"required_if=Enabled true"`
	Repo           string `json:"repo,omitempty" validate:"required_if=Enabled true"`
	APIURL         string `json:"api_url,omitempty" validate:"omitempty,url"`
	ReleasesURL    string `json:"releases_url,omitempty" validate:"omitempty,url"`
	Period         string `json:"period,omitempty"`
	Timeout        string `json:"timeout,omitempty"`
}
