package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Engine controls the per-user scheduling loops (notifier + warden).
	Engine EngineConfig `json:"engine"`

	// Refresh controls the process-wide daily schedule recomputation.
	Refresh RefreshConfig `json:"refresh"`

	Provider ProviderConfig `json:"provider"`
	Storage  StorageConfig  `json:"storage"`

	// API is the optional qaza stats HTTP server.
	API *APIConfig `json:"api,omitempty"`
}

type TelegramConfig struct {
	// Token may be left empty in the config file; TELEGRAM_TOKEN from the
	// environment (or .env) is used as a fallback.
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
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

// EngineConfig tunes the scheduling engine. All durations are Go duration
// strings.
//
// Defaults (when fields are omitted/empty):
//   - poll_interval: "30s"
//   - notify_tolerance: "60s"
//   - warn_window: "10m"
//   - response_timeout: "2h"
type EngineConfig struct {
	PollInterval    string `json:"poll_interval,omitempty"`
	NotifyTolerance string `json:"notify_tolerance,omitempty"`
	WarnWindow      string `json:"warn_window,omitempty"`
	ResponseTimeout string `json:"response_timeout,omitempty"`
}

// RefreshConfig controls the daily schedule refresh job.
//
// Cron is a 5-field cron spec evaluated in Timezone (default "10 0 * * *"
// in UTC, i.e. shortly after midnight).
type RefreshConfig struct {
	Cron     string `json:"cron,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// ProviderConfig points at the prayer-times and geocoding services.
type ProviderConfig struct {
	BaseURL    string `json:"base_url,omitempty"`    // default https://api.aladhan.com
	GeocodeURL string `json:"geocode_url,omitempty"` // default https://nominatim.openstreetmap.org
	Method     int    `json:"method,omitempty"`      // calculation method (default 2, ISNA)
	School     int    `json:"school,omitempty"`      // asr school (default 1, Hanafi)
	Timeout    string `json:"timeout,omitempty"`     // Go duration string
}

// StorageConfig controls the sqlite persistence layer.
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// APIConfig controls the optional stats HTTP server.
type APIConfig struct {
	Enabled      bool     `json:"enabled"`
	Addr         string   `json:"addr,omitempty"` // default "127.0.0.1:8080"
	AllowOrigins []string `json:"allow_origins,omitempty"`
}
