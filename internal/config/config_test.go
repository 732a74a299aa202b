package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validYAML = `
telegram:
  token: "123:abc"
logging:
  level: info
  console: true
  file:
    enabled: false
    path: ""
feed:
  timeout: 10s
  endpoints:
    - name: odpt
      url: https://api.example.org/v4/odpt:TrainInformation
      token: feed-token
storage:
  object:
    driver: file
    path: ./data/objects
  subscriptions:
    driver: sqlite
    path: ./data/subs.db
reconcile:
  schedule: "@every 5m"
  filter_keywords: ["遅延", "見合わせ"]
`

func TestLoadYAMLConfig(t *testing.T) {
	path := writeConfig(t, "config.yaml", validYAML)
	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if len(cfg.Feed.Endpoints) != 1 || cfg.Feed.Endpoints[0].Token != "feed-token" {
		t.Fatalf("endpoints = %+v", cfg.Feed.Endpoints)
	}
	if len(cfg.Reconcile.FilterKeywords) != 2 {
		t.Fatalf("filter_keywords = %v", cfg.Reconcile.FilterKeywords)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get should return the committed config")
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	path := writeConfig(t, "config.yaml", validYAML+"\nbogus_section:\n  x: 1\n")
	m := NewManager(path)
	if _, err := m.Load(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidate(t *testing.T) {
	path := writeConfig(t, "config.yaml", validYAML)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing token", func(c *Config) { c.Telegram.Token = "" }},
		{"no endpoints", func(c *Config) { c.Feed.Endpoints = nil }},
		{"bad endpoint url", func(c *Config) { c.Feed.Endpoints[0].URL = "::bad::" }},
		{"unknown object driver", func(c *Config) { c.Storage.Object.Driver = "gopher" }},
		{"sqlite without path", func(c *Config) { c.Storage.Subscriptions.Path = "" }},
		{"bad duration", func(c *Config) { c.Feed.Timeout = "ten seconds" }},
		{"blank keyword", func(c *Config) { c.Reconcile.FilterKeywords = []string{" "} }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cp := *cfg
			cpFeed := make([]FeedEndpoint, len(cfg.Feed.Endpoints))
			copy(cpFeed, cfg.Feed.Endpoints)
			cp.Feed.Endpoints = cpFeed
			tt.mutate(&cp)
			if err := Validate(&cp); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	d, err := ParseDurationField("x", " 90s ")
	if err != nil || d != 90*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("expected error for negative duration")
	}
	d, err = ParseDurationOrDefault("x", "", 5*time.Second)
	if err != nil || d != 5*time.Second {
		t.Fatalf("default: got %v, %v", d, err)
	}
}

func TestSummarizeChangeHidesSecrets(t *testing.T) {
	path := writeConfig(t, "config.yaml", validYAML)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	next := *cfg
	next.Telegram.Token = "456:def"
	next.Reconcile.Schedule = "@every 1m"

	changed, _ := SummarizeChange(cfg, &next)
	want := map[string]bool{"telegram": true, "reconcile": true}
	if len(changed) != len(want) {
		t.Fatalf("changed = %v", changed)
	}
	for _, c := range changed {
		if !want[c] {
			t.Fatalf("unexpected section %q in %v", c, changed)
		}
	}
}
