package config

import (
	"reflect"
	"strings"

	logx "ensenbot/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections and safe
// structured attrs for logging. Secrets (telegram token, feed tokens) are
// never included in the attrs.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}

	if strings.TrimSpace(oldCfg.Telegram.Token) != strings.TrimSpace(newCfg.Telegram.Token) ||
		strings.TrimSpace(oldCfg.Telegram.SendTimeout) != strings.TrimSpace(newCfg.Telegram.SendTimeout) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
			logx.String("telegram.send_timeout", strings.TrimSpace(newCfg.Telegram.SendTimeout)),
		)
	}

	if feedChanged(oldCfg.Feed, newCfg.Feed) {
		changed = append(changed, "feed")
		attrs = append(attrs,
			logx.Int("feed.endpoints", len(newCfg.Feed.Endpoints)),
			logx.String("feed.timeout", strings.TrimSpace(newCfg.Feed.Timeout)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.object.driver", newCfg.Storage.Object.Driver),
			logx.String("storage.subscriptions.driver", newCfg.Storage.Subscriptions.Driver),
		)
	}

	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		if newCfg.Notifier != nil {
			attrs = append(attrs,
				logx.Int("notifier.workers", newCfg.Notifier.Workers),
				logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec),
			)
		}
	}

	if !reflect.DeepEqual(oldCfg.Reconcile, newCfg.Reconcile) {
		changed = append(changed, "reconcile")
		attrs = append(attrs,
			logx.String("reconcile.schedule", strings.TrimSpace(newCfg.Reconcile.Schedule)),
			logx.Int("reconcile.filter_keywords", len(newCfg.Reconcile.FilterKeywords)),
		)
	}

	return changed, attrs
}

// feedChanged compares feed configs without looking at tokens, so a token
// rotation alone still reports as changed but is never logged.
func feedChanged(a, b FeedConfig) bool {
	if strings.TrimSpace(a.Timeout) != strings.TrimSpace(b.Timeout) {
		return true
	}
	if len(a.Endpoints) != len(b.Endpoints) {
		return true
	}
	for i := range a.Endpoints {
		if a.Endpoints[i] != b.Endpoints[i] {
			return true
		}
	}
	return false
}
