package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configuration from file, environment, and CLI flags.
// Priority (highest to lowest): CLI flags > env vars > .env file > config file > defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// A .env file next to the binary feeds the environment; real env vars win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v, cfg)

	v.SetEnvPrefix("PHONEGOAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("phonegoat")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".phonegoat"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is okay if not explicitly specified
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// setDefaults registers default values in viper so every key is also
// reachable through the environment.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("site.base_url", cfg.Site.BaseURL)
	v.SetDefault("site.api_url", cfg.Site.APIURL)
	v.SetDefault("site.sample_url", cfg.Site.SampleURL)

	v.SetDefault("fetcher.request_timeout", cfg.Fetcher.RequestTimeout)
	v.SetDefault("fetcher.follow_redirects", cfg.Fetcher.FollowRedirects)
	v.SetDefault("fetcher.max_redirects", cfg.Fetcher.MaxRedirects)
	v.SetDefault("fetcher.max_body_size", cfg.Fetcher.MaxBodySize)
	v.SetDefault("fetcher.tls_insecure", cfg.Fetcher.TLSInsecure)
	v.SetDefault("fetcher.idle_conn_timeout", cfg.Fetcher.IdleConnTimeout)
	v.SetDefault("fetcher.max_idle_conns", cfg.Fetcher.MaxIdleConns)
	v.SetDefault("fetcher.user_agents", cfg.Fetcher.UserAgents)

	v.SetDefault("proxy.enabled", cfg.Proxy.Enabled)
	v.SetDefault("proxy.rotation", cfg.Proxy.Rotation)
	v.SetDefault("proxy.urls", cfg.Proxy.URLs)

	v.SetDefault("browser.enabled", cfg.Browser.Enabled)
	v.SetDefault("browser.headless", cfg.Browser.Headless)
	v.SetDefault("browser.stealth", cfg.Browser.Stealth)
	v.SetDefault("browser.bin_path", cfg.Browser.BinPath)
	v.SetDefault("browser.user_data_dir", cfg.Browser.UserDataDir)
	v.SetDefault("browser.window_size", cfg.Browser.WindowSize)
	v.SetDefault("browser.navigation_timeout", cfg.Browser.NavigationTimeout)
	v.SetDefault("browser.button_timeout", cfg.Browser.ButtonTimeout)
	v.SetDefault("browser.phone_timeout", cfg.Browser.PhoneTimeout)
	v.SetDefault("browser.capture_window", cfg.Browser.CaptureWindow)

	v.SetDefault("resolver.max_attempts", cfg.Resolver.MaxAttempts)
	v.SetDefault("resolver.retry_backoff", cfg.Resolver.RetryBackoff)
	v.SetDefault("resolver.block_id_pattern", cfg.Resolver.BlockIDPattern)
	v.SetDefault("resolver.phone_pattern", cfg.Resolver.PhonePattern)
	v.SetDefault("resolver.phone_selector", cfg.Resolver.PhoneSelector)

	v.SetDefault("session.ledger_path", cfg.Session.LedgerPath)
	v.SetDefault("session.report_dir", cfg.Session.ReportDir)
	v.SetDefault("session.checkpoint_every", cfg.Session.CheckpointEvery)
	v.SetDefault("session.short_delay", cfg.Session.ShortDelay)
	v.SetDefault("session.long_pause", cfg.Session.LongPause)
	v.SetDefault("session.long_pause_every", cfg.Session.LongPauseEvery)
	v.SetDefault("session.max_phones", cfg.Session.MaxPhones)
	v.SetDefault("session.lock_poll_interval", cfg.Session.LockPollInterval)

	v.SetDefault("acquisition.dataset_path", cfg.Acquisition.DatasetPath)
	v.SetDefault("acquisition.lock_path", cfg.Acquisition.LockPath)
	v.SetDefault("acquisition.lock_ttl", cfg.Acquisition.LockTTL)
	v.SetDefault("acquisition.max_age", cfg.Acquisition.MaxAge)
	v.SetDefault("acquisition.page_delay", cfg.Acquisition.PageDelay)
	v.SetDefault("acquisition.start_page", cfg.Acquisition.StartPage)
	v.SetDefault("acquisition.end_page", cfg.Acquisition.EndPage)

	v.SetDefault("storage.exports", cfg.Storage.Exports)
	v.SetDefault("storage.output_path", cfg.Storage.OutputPath)
	v.SetDefault("storage.mongo_uri", cfg.Storage.MongoURI)
	v.SetDefault("storage.mongo_database", cfg.Storage.MongoDatabase)
	v.SetDefault("storage.mongo_collection", cfg.Storage.MongoCollection)

	v.SetDefault("settings.backend", cfg.Settings.Backend)
	v.SetDefault("settings.path", cfg.Settings.Path)
	v.SetDefault("settings.mongo_uri", cfg.Settings.MongoURI)
	v.SetDefault("settings.mongo_database", cfg.Settings.MongoDatabase)
	v.SetDefault("settings.mongo_collection", cfg.Settings.MongoCollection)
	v.SetDefault("settings.postgres_dsn", cfg.Settings.PostgresDSN)
	v.SetDefault("settings.postgres_conns", cfg.Settings.PostgresConns)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.output", cfg.Logging.Output)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.port", cfg.Metrics.Port)
	v.SetDefault("metrics.path", cfg.Metrics.Path)

	v.SetDefault("api.port", cfg.API.Port)
	v.SetDefault("api.schedule_interval", cfg.API.ScheduleInterval)
}
