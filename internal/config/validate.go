package config

import (
	"fmt"
	"net/url"
	"regexp"
)

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	if err := ValidateURL(cfg.Site.BaseURL); err != nil {
		return fmt.Errorf("site.base_url: %w", err)
	}
	if err := ValidateURL(cfg.Site.APIURL); err != nil {
		return fmt.Errorf("site.api_url: %w", err)
	}
	if err := ValidateURL(cfg.Site.SampleURL); err != nil {
		return fmt.Errorf("site.sample_url: %w", err)
	}

	if cfg.Fetcher.RequestTimeout <= 0 {
		return fmt.Errorf("fetcher.request_timeout must be > 0")
	}
	if cfg.Fetcher.MaxBodySize <= 0 {
		return fmt.Errorf("fetcher.max_body_size must be > 0")
	}
	if cfg.Fetcher.MaxRedirects < 0 {
		return fmt.Errorf("fetcher.max_redirects must be >= 0")
	}

	if cfg.Proxy.Enabled {
		if cfg.Proxy.Rotation != "round_robin" && cfg.Proxy.Rotation != "random" {
			return fmt.Errorf("proxy.rotation must be 'round_robin' or 'random', got %q", cfg.Proxy.Rotation)
		}
		for _, proxyURL := range cfg.Proxy.URLs {
			if _, err := url.Parse(proxyURL); err != nil {
				return fmt.Errorf("invalid proxy URL %q: %w", proxyURL, err)
			}
		}
	}

	if cfg.Browser.Enabled {
		if cfg.Browser.NavigationTimeout <= 0 || cfg.Browser.CaptureWindow <= 0 {
			return fmt.Errorf("browser.navigation_timeout and browser.capture_window must be > 0")
		}
	}

	if cfg.Resolver.MaxAttempts < 1 {
		return fmt.Errorf("resolver.max_attempts must be >= 1, got %d", cfg.Resolver.MaxAttempts)
	}
	if cfg.Resolver.RetryBackoff < 0 {
		return fmt.Errorf("resolver.retry_backoff must be >= 0")
	}
	for key, pattern := range map[string]string{
		"resolver.block_id_pattern": cfg.Resolver.BlockIDPattern,
		"resolver.phone_pattern":    cfg.Resolver.PhonePattern,
	} {
		if pattern == "" {
			continue
		}
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}

	if cfg.Session.LedgerPath == "" {
		return fmt.Errorf("session.ledger_path must be set")
	}
	if cfg.Session.CheckpointEvery < 1 {
		return fmt.Errorf("session.checkpoint_every must be >= 1, got %d", cfg.Session.CheckpointEvery)
	}
	if cfg.Session.LongPauseEvery < 1 {
		return fmt.Errorf("session.long_pause_every must be >= 1, got %d", cfg.Session.LongPauseEvery)
	}
	if cfg.Session.ShortDelay < 0 || cfg.Session.LongPause < 0 {
		return fmt.Errorf("session delays must be >= 0")
	}
	if cfg.Session.MaxPhones < 0 {
		return fmt.Errorf("session.max_phones must be >= 0 (0 = unlimited), got %d", cfg.Session.MaxPhones)
	}

	if cfg.Acquisition.DatasetPath == "" || cfg.Acquisition.LockPath == "" {
		return fmt.Errorf("acquisition.dataset_path and acquisition.lock_path must be set")
	}
	if cfg.Acquisition.StartPage < 1 || cfg.Acquisition.EndPage < cfg.Acquisition.StartPage {
		return fmt.Errorf("acquisition pages must satisfy 1 <= start_page <= end_page, got %d..%d",
			cfg.Acquisition.StartPage, cfg.Acquisition.EndPage)
	}

	validExports := map[string]bool{"jsonl": true, "csv": true, "txt": true, "mongodb": true}
	for _, e := range cfg.Storage.Exports {
		if !validExports[e] {
			return fmt.Errorf("storage.exports entry %q is not supported (valid: jsonl, csv, txt, mongodb)", e)
		}
		if e == "mongodb" && cfg.Storage.MongoURI == "" {
			return fmt.Errorf("storage.mongo_uri is required for the mongodb export")
		}
	}

	switch cfg.Settings.Backend {
	case "memory", "file":
	case "mongodb":
		if cfg.Settings.MongoURI == "" {
			return fmt.Errorf("settings.mongo_uri is required for the mongodb backend")
		}
	case "postgres":
		if cfg.Settings.PostgresDSN == "" {
			return fmt.Errorf("settings.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("settings.backend %q is not supported (valid: memory, file, mongodb, postgres)", cfg.Settings.Backend)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port < 1 || cfg.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be 1-65535, got %d", cfg.Metrics.Port)
		}
	}
	if cfg.API.Port < 1 || cfg.API.Port > 65535 {
		return fmt.Errorf("api.port must be 1-65535, got %d", cfg.API.Port)
	}
	if cfg.API.ScheduleInterval < 0 {
		return fmt.Errorf("api.schedule_interval must be >= 0")
	}

	return nil
}

// ValidateURL checks if a URL string is an absolute http(s) URL.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
