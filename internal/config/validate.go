package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the parts of the config that would otherwise fail deep
// inside a run: required credentials, endpoint URLs, driver names, and all
// duration-string fields.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}

	if len(cfg.Feed.Endpoints) == 0 {
		return errors.New("feed.endpoints must not be empty")
	}
	for i, ep := range cfg.Feed.Endpoints {
		u, err := url.Parse(strings.TrimSpace(ep.URL))
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("feed.endpoints[%d].url: invalid url %q", i, ep.URL)
		}
		if strings.TrimSpace(ep.Token) == "" {
			return fmt.Errorf("feed.endpoints[%d].token is required", i)
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Object.Driver)) {
	case "file":
		if strings.TrimSpace(cfg.Storage.Object.Path) == "" {
			return errors.New("storage.object.path is required for file driver")
		}
	case "s3":
		if strings.TrimSpace(cfg.Storage.Object.Bucket) == "" {
			return errors.New("storage.object.bucket is required for s3 driver")
		}
	default:
		return fmt.Errorf("storage.object.driver: unknown driver %q", cfg.Storage.Object.Driver)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Subscriptions.Driver)) {
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Subscriptions.Path) == "" {
			return errors.New("storage.subscriptions.path is required for sqlite driver")
		}
	case "dynamo", "dynamodb":
		if strings.TrimSpace(cfg.Storage.Subscriptions.Table) == "" {
			return errors.New("storage.subscriptions.table is required for dynamo driver")
		}
		if strings.TrimSpace(cfg.Storage.Subscriptions.RouteIndex) == "" {
			return errors.New("storage.subscriptions.route_index is required for dynamo driver")
		}
	default:
		return fmt.Errorf("storage.subscriptions.driver: unknown driver %q", cfg.Storage.Subscriptions.Driver)
	}

	durs := []struct {
		path string
		raw  string
	}{
		{"telegram.send_timeout", cfg.Telegram.SendTimeout},
		{"feed.timeout", cfg.Feed.Timeout},
		{"storage.object.timeout", cfg.Storage.Object.Timeout},
		{"storage.subscriptions.busy_timeout", cfg.Storage.Subscriptions.BusyTimeout},
		{"storage.subscriptions.timeout", cfg.Storage.Subscriptions.Timeout},
		{"reconcile.lookup_timeout", cfg.Reconcile.LookupTimeout},
		{"reconcile.run_timeout", cfg.Reconcile.RunTimeout},
	}
	if cfg.Notifier != nil {
		durs = append(durs, struct {
			path string
			raw  string
		}{"notifier.retry_delay", cfg.Notifier.RetryDelay})
	}
	for _, d := range durs {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}

	for i, kw := range cfg.Reconcile.FilterKeywords {
		if strings.TrimSpace(kw) == "" {
			return fmt.Errorf("reconcile.filter_keywords[%d] is empty", i)
		}
	}

	return nil
}
