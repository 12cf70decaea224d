package config

// Config is the on-disk daemon configuration. Durations are Go duration
// strings and are parsed by the app layer, so a bad value is reported with
// its field path.
type Config struct {
	Logging    LoggingConfig     `json:"logging"`
	Pipeline   PipelineConfig    `json:"pipeline"`
	Classifier *ClassifierConfig `json:"classifier,omitempty"`
	Support    SupportConfig     `json:"support"`
	Permission PermissionConfig  `json:"permission"`
	Sources    SourcesConfig     `json:"sources"`
	Presenter  PresenterConfig   `json:"presenter"`
	Worker     WorkerConfig      `json:"worker"`
	HTTP       HTTPConfig        `json:"http"`
	Storage    *StorageConfig    `json:"storage,omitempty"`
	Notifier   *NotifierConfig   `json:"notifier,omitempty"`
	Relay      RelayConfig       `json:"relay"`
	Telegram   TelegramConfig    `json:"telegram"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LogFileConfig `json:"file"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type PipelineConfig struct {
	// MinTier is the lowest tier that reaches the user. Empty means medium.
	MinTier string `json:"min_tier"`
	// RelayTier is the lowest tier forwarded to the relay. Empty means high.
	RelayTier    string   `json:"relay_tier"`
	QueueSize    int      `json:"queue_size"`
	PresentRate  float64  `json:"present_rate"`
	PresentBurst int      `json:"present_burst"`
	IgnoreApps   []string `json:"ignore_apps"`
}

// ClassifierConfig replaces the built-in keyword tables. A nil section or an
// empty list keeps the defaults for that tier.
type ClassifierConfig struct {
	High   []string `json:"high"`
	Medium []string `json:"medium"`
	Low    []string `json:"low"`
}

type SupportConfig struct {
	Endpoint string `json:"endpoint"`
	Timeout  string `json:"timeout"`
	UserID   string `json:"user_id"`
	// BaseURL is prefixed to the chat deep link.
	BaseURL string `json:"base_url"`
}

type PermissionConfig struct {
	MaxRetries *int   `json:"max_retries,omitempty"`
	RetryDelay string `json:"retry_delay"`
	// Prompter is "dbus" (ask through a desktop notification) or "auto".
	Prompter string `json:"prompter"`
}

type SourcesConfig struct {
	DBus   DBusSourceConfig   `json:"dbus"`
	Bridge BridgeSourceConfig `json:"bridge"`
	Push   PushSourceConfig   `json:"push"`
}

type DBusSourceConfig struct {
	Enabled bool `json:"enabled"`
	Buffer  int  `json:"buffer"`
}

type BridgeSourceConfig struct {
	Enabled bool     `json:"enabled"`
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

type PushSourceConfig struct {
	Enabled bool `json:"enabled"`
}

type PresenterConfig struct {
	// DirectCommand is the notify-send style binary used when the worker
	// path fails. Empty means notify-send; "none" disables it.
	DirectCommand string `json:"direct_command"`
	DirectTimeout string `json:"direct_timeout"`
	// DirectClicks routes clicks on direct notifications to the chat page.
	// It needs notify-send's --action and --wait; defaults to true.
	DirectClicks *bool  `json:"direct_clicks,omitempty"`
	ClickWait    string `json:"click_wait"`
}

type WorkerConfig struct {
	Enabled   bool   `json:"enabled"`
	QueueSize int    `json:"queue_size"`
	Heartbeat string `json:"heartbeat"`
	Watchdog  bool   `json:"watchdog"`
	// Opener launches a browser for a click when no client matches.
	Opener string `json:"opener"`
}

type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
	Token   string `json:"token"`
	// AllowInsecure permits a non-loopback addr without a token.
	AllowInsecure bool `json:"allow_insecure"`
	// ServeSupport mounts a local trigger-support endpoint answering with
	// the static replies.
	ServeSupport bool   `json:"serve_support"`
	Pprof        bool   `json:"pprof"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	IdleTimeout  string `json:"idle_timeout"`
}

type StorageConfig struct {
	Driver        string `json:"driver"` // none | memory | file | sqlite
	Path          string `json:"path"`
	BusyTimeout   string `json:"busy_timeout"`
	MaxIncidents  int    `json:"max_incidents"`
	PruneSchedule string `json:"prune_schedule"`
}

type NotifierConfig struct {
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	SendTimeout     string `json:"send_timeout"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	PersistDedup    bool   `json:"persist_dedup"`
}

type RelayConfig struct {
	Enabled bool `json:"enabled"`
}

type TelegramConfig struct {
	Token       string  `json:"token"`
	PollTimeout string  `json:"poll_timeout"`
	ChatIDs     []int64 `json:"chat_ids"`
	// Commands starts long polling so /status answers. Sending alerts
	// does not need it.
	Commands bool `json:"commands"`
}
