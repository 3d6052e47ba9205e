package config

import (
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for phonegoat.
type Config struct {
	Site        SiteConfig        `mapstructure:"site"        yaml:"site"`
	Fetcher     FetcherConfig     `mapstructure:"fetcher"     yaml:"fetcher"`
	Proxy       ProxyConfig       `mapstructure:"proxy"       yaml:"proxy"`
	Browser     BrowserConfig     `mapstructure:"browser"     yaml:"browser"`
	Resolver    ResolverConfig    `mapstructure:"resolver"    yaml:"resolver"`
	Session     SessionConfig     `mapstructure:"session"     yaml:"session"`
	Acquisition AcquisitionConfig `mapstructure:"acquisition" yaml:"acquisition"`
	Storage     StorageConfig     `mapstructure:"storage"     yaml:"storage"`
	Settings    SettingsConfig    `mapstructure:"settings"    yaml:"settings"`
	Logging     LoggingConfig     `mapstructure:"logging"     yaml:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics"     yaml:"metrics"`
	API         APIConfig         `mapstructure:"api"         yaml:"api"`
}

// SiteConfig holds the target site endpoints.
type SiteConfig struct {
	BaseURL   string `mapstructure:"base_url"   yaml:"base_url"`
	APIURL    string `mapstructure:"api_url"    yaml:"api_url"`
	SampleURL string `mapstructure:"sample_url" yaml:"sample_url"`
}

// FetcherConfig controls the HTTP client.
type FetcherConfig struct {
	RequestTimeout  time.Duration `mapstructure:"request_timeout"   yaml:"request_timeout"`
	FollowRedirects bool          `mapstructure:"follow_redirects"  yaml:"follow_redirects"`
	MaxRedirects    int           `mapstructure:"max_redirects"     yaml:"max_redirects"`
	MaxBodySize     int64         `mapstructure:"max_body_size"     yaml:"max_body_size"`
	TLSInsecure     bool          `mapstructure:"tls_insecure"      yaml:"tls_insecure"`
	IdleConnTimeout time.Duration `mapstructure:"idle_conn_timeout" yaml:"idle_conn_timeout"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"    yaml:"max_idle_conns"`
	UserAgents      []string      `mapstructure:"user_agents"       yaml:"user_agents"`
}

// ProxyConfig controls proxy rotation.
type ProxyConfig struct {
	Enabled  bool     `mapstructure:"enabled"  yaml:"enabled"`
	Rotation string   `mapstructure:"rotation" yaml:"rotation"`
	URLs     []string `mapstructure:"urls"     yaml:"urls"`
}

// BrowserConfig controls the headless browser used for harvesting and the
// last-resort phone scrape.
type BrowserConfig struct {
	Enabled           bool          `mapstructure:"enabled"            yaml:"enabled"`
	Headless          bool          `mapstructure:"headless"           yaml:"headless"`
	Stealth           bool          `mapstructure:"stealth"            yaml:"stealth"`
	BinPath           string        `mapstructure:"bin_path"           yaml:"bin_path"`
	UserDataDir       string        `mapstructure:"user_data_dir"      yaml:"user_data_dir"`
	WindowSize        string        `mapstructure:"window_size"        yaml:"window_size"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ButtonTimeout     time.Duration `mapstructure:"button_timeout"     yaml:"button_timeout"`
	PhoneTimeout      time.Duration `mapstructure:"phone_timeout"      yaml:"phone_timeout"`
	CaptureWindow     time.Duration `mapstructure:"capture_window"     yaml:"capture_window"`
}

// ResolverConfig controls phone resolution.
type ResolverConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"     yaml:"max_attempts"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"    yaml:"retry_backoff"`
	BlockIDPattern string        `mapstructure:"block_id_pattern" yaml:"block_id_pattern"`
	PhonePattern   string        `mapstructure:"phone_pattern"    yaml:"phone_pattern"`
	PhoneSelector  string        `mapstructure:"phone_selector"   yaml:"phone_selector"`
}

// SessionConfig controls a resolution session.
type SessionConfig struct {
	LedgerPath       string        `mapstructure:"ledger_path"        yaml:"ledger_path"`
	ReportDir        string        `mapstructure:"report_dir"         yaml:"report_dir"`
	CheckpointEvery  int           `mapstructure:"checkpoint_every"   yaml:"checkpoint_every"`
	ShortDelay       time.Duration `mapstructure:"short_delay"        yaml:"short_delay"`
	LongPause        time.Duration `mapstructure:"long_pause"         yaml:"long_pause"`
	LongPauseEvery   int           `mapstructure:"long_pause_every"   yaml:"long_pause_every"`
	MaxPhones        int           `mapstructure:"max_phones"         yaml:"max_phones"`
	LockPollInterval time.Duration `mapstructure:"lock_poll_interval" yaml:"lock_poll_interval"`
}

// AcquisitionConfig controls listing acquisition.
type AcquisitionConfig struct {
	DatasetPath string        `mapstructure:"dataset_path" yaml:"dataset_path"`
	LockPath    string        `mapstructure:"lock_path"    yaml:"lock_path"`
	LockTTL     time.Duration `mapstructure:"lock_ttl"     yaml:"lock_ttl"`
	MaxAge      time.Duration `mapstructure:"max_age"      yaml:"max_age"`
	PageDelay   time.Duration `mapstructure:"page_delay"   yaml:"page_delay"`
	StartPage   int           `mapstructure:"start_page"   yaml:"start_page"`
	EndPage     int           `mapstructure:"end_page"     yaml:"end_page"`
}

// StorageConfig controls record exports.
type StorageConfig struct {
	Exports         []string `mapstructure:"exports"          yaml:"exports"`
	OutputPath      string   `mapstructure:"output_path"      yaml:"output_path"`
	MongoURI        string   `mapstructure:"mongo_uri"        yaml:"mongo_uri"`
	MongoDatabase   string   `mapstructure:"mongo_database"   yaml:"mongo_database"`
	MongoCollection string   `mapstructure:"mongo_collection" yaml:"mongo_collection"`
}

// SettingsConfig selects the settings store backend.
type SettingsConfig struct {
	Backend         string `mapstructure:"backend"          yaml:"backend"`
	Path            string `mapstructure:"path"             yaml:"path"`
	MongoURI        string `mapstructure:"mongo_uri"        yaml:"mongo_uri"`
	MongoDatabase   string `mapstructure:"mongo_database"   yaml:"mongo_database"`
	MongoCollection string `mapstructure:"mongo_collection" yaml:"mongo_collection"`
	PostgresDSN     string `mapstructure:"postgres_dsn"     yaml:"postgres_dsn"`
	PostgresConns   int    `mapstructure:"postgres_conns"   yaml:"postgres_conns"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port"    yaml:"port"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// APIConfig controls the HTTP control surface.
type APIConfig struct {
	Port             int           `mapstructure:"port"              yaml:"port"`
	ScheduleInterval time.Duration `mapstructure:"schedule_interval" yaml:"schedule_interval"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			BaseURL:   "https://www.cian.ru",
			APIURL:    "https://api.cian.ru/newbuilding-dynamic-calltracking/v1/get-dynamic-phone",
			SampleURL: "https://tyumen.cian.ru/sale/flat/307997699/",
		},
		Fetcher: FetcherConfig{
			RequestTimeout:  30 * time.Second,
			FollowRedirects: true,
			MaxRedirects:    10,
			MaxBodySize:     10 * 1024 * 1024, // 10MB
			IdleConnTimeout: 90 * time.Second,
			MaxIdleConns:    20,
			UserAgents: []string{
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			},
		},
		Proxy: ProxyConfig{
			Enabled:  false,
			Rotation: "round_robin",
		},
		Browser: BrowserConfig{
			Enabled:           true,
			Headless:          true,
			Stealth:           true,
			WindowSize:        "1366,768",
			NavigationTimeout: 60 * time.Second,
			ButtonTimeout:     15 * time.Second,
			PhoneTimeout:      10 * time.Second,
			CaptureWindow:     5 * time.Second,
		},
		Resolver: ResolverConfig{
			MaxAttempts:  6,
			RetryBackoff: 2 * time.Second,
		},
		Session: SessionConfig{
			LedgerPath:       "output/data.json",
			ReportDir:        "output",
			CheckpointEvery:  5,
			ShortDelay:       1 * time.Second,
			LongPause:        15 * time.Second,
			LongPauseEvery:   50,
			LockPollInterval: 30 * time.Second,
		},
		Acquisition: AcquisitionConfig{
			DatasetPath: "output/region_data.json",
			LockPath:    "parsing.lock",
			LockTTL:     6 * time.Hour,
			MaxAge:      24 * time.Hour,
			PageDelay:   1500 * time.Millisecond,
			StartPage:   1,
			EndPage:     200,
		},
		Storage: StorageConfig{
			OutputPath:      "./output",
			MongoDatabase:   "phonegoat",
			MongoCollection: "phones",
		},
		Settings: SettingsConfig{
			Backend:         "file",
			Path:            "settings.json",
			MongoDatabase:   "phonegoat",
			MongoCollection: "settings",
			PostgresConns:   2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		},
		API: APIConfig{
			Port: 8080,
		},
	}
}
