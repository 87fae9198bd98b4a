package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
telegram:
  token: "123:abc"
logging:
  level: info
  console: true
scheduler:
  timezone: Europe/Vilnius
storage:
  driver: sqlite
  path: ./quotebot.db
announce:
  at: "09:30"
  reactions: true
updates:
  enabled: true
  operator_user_id: 42
  repo: example/quotebot
`

func TestDecodeYAMLAndJSON(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("config.yaml", []byte(validYAML))
	if err != nil {
		t.Fatalf("decode yaml: %v", err)
	}
	if cfg.Announce.At != "09:30" || !cfg.Updates.Enabled || cfg.Updates.OperatorUserID != 42 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}

	js := `{"telegram":{"token":"t"},"announce":{"at":"12:00"}}`
	cfg, err = Decode("config.json", []byte(js))
	if err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if cfg.Telegram.Token != "t" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
}

func TestReactionsDefaultOn(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		doc  string
		want bool
	}{
		{name: "unset", doc: `{"announce":{"at":"12:00"}}`, want: true},
		{name: "explicit true", doc: `{"announce":{"reactions":true}}`, want: true},
		{name: "explicit false", doc: `{"announce":{"reactions":false}}`, want: false},
	}
	for _, tt := range tests {
		cfg, err := Decode("config.json", []byte(tt.doc))
		if err != nil {
			t.Fatalf("%s: decode: %v", tt.name, err)
		}
		if got := cfg.Announce.ReactionsEnabled(); got != tt.want {
			t.Fatalf("%s: ReactionsEnabled = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestDecodeStrict(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, file, body string
	}{
		{"unknown key", "c.json", `{"telegram":{"token":"t"},"pprof":{}}`},
		{"unknown nested yaml key", "c.yaml", "announce:\n  when: '12:00'\n"},
		{"trailing document", "c.json", `{"telegram":{"token":"t"}} {}`},
		{"bad yaml", "c.yml", "telegram: [\n"},
	}
	for _, tt := range tests {
		if _, err := Decode(tt.file, []byte(tt.body)); err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		cfg, err := Decode("config.yaml", []byte(validYAML))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		return cfg
	}
	if err := Validate(base()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing token", func(c *Config) { c.Telegram.Token = "" }, "telegram.token"},
		{"bad time", func(c *Config) { c.Announce.At = "25:00" }, "announce.at"},
		{"bad minute", func(c *Config) { c.Announce.At = "12:5" }, "announce.at"},
		{"bad timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, "scheduler.timezone"},
		{"operator required", func(c *Config) { c.Updates.OperatorUserID = 0 }, "updates.operator_user_id"},
		{"repo shape", func(c *Config) { c.Updates.Repo = "quotebot" }, "updates.repo"},
		{"sqlite needs path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "redis" }, "storage.driver"},
		{"bad duration", func(c *Config) { c.TaskEngine.DefaultTimeout = "soon" }, "task_engine.default_timeout"},
		{"period too short", func(c *Config) { c.Announce.Period = "5s" }, "announce.period"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
	}
	for _, tt := range tests {
		cfg := base()
		tt.mutate(cfg)
		err := Validate(cfg)
		if err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
		if !strings.Contains(err.Error(), tt.want) {
			t.Fatalf("%s: err = %v, want mention of %s", tt.name, err, tt.want)
		}
	}
}

func TestUpdatesDisabledNeedsNoOperator(t *testing.T) {
	t.Parallel()
	cfg := &Config{Telegram: TelegramConfig{Token: "t"}}
	if err := Validate(cfg); err != nil {
		t.Fatalf("minimal config rejected: %v", err)
	}
}

func TestTiming(t *testing.T) {
	t.Parallel()
	cfg := &Config{}
	got, err := cfg.Timing()
	if err != nil {
		t.Fatalf("Timing on empty config: %v", err)
	}
	want := Timing{
		PollTimeout:    DefaultPollTimeout,
		JobTimeout:     DefaultJobTimeout,
		BusyTimeout:    DefaultBusyTimeout,
		AnnouncePeriod: DefaultPeriod,
		UpdatePeriod:   DefaultPeriod,
	}
	if got != want {
		t.Fatalf("defaults = %+v, want %+v", got, want)
	}

	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 24 * time.Hour, false},
		{"0s", 24 * time.Hour, false},
		{" 90m ", 90 * time.Minute, false},
		{"1m", time.Minute, false},
		{"30s", 0, true},
		{"-1s", 0, true},
		{"tomorrow", 0, true},
	}
	for _, tt := range tests {
		cfg := &Config{Announce: AnnounceConfig{Period: tt.raw}}
		got, err := cfg.Timing()
		if (err != nil) != tt.wantErr {
			t.Fatalf("announce.period %q: err = %v", tt.raw, err)
		}
		if err == nil && got.AnnouncePeriod != tt.want {
			t.Fatalf("announce.period %q = %s, want %s", tt.raw, got.AnnouncePeriod, tt.want)
		}
		if err != nil && !strings.Contains(err.Error(), "announce.period") {
			t.Fatalf("announce.period %q: error does not name the field: %v", tt.raw, err)
		}
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	old := &Config{Telegram: TelegramConfig{Token: "secret"}, Announce: AnnounceConfig{At: "12:00"}}

	next := *old
	next.Announce.At = "13:00"
	ch, _ := SummarizeConfigChange(old, &next)
	if !ch.Has(SectionAnnounce) || !ch.Has(SectionAnnounceTiming) || ch.Has(SectionUpdates) {
		t.Fatalf("sections = %v", ch.Sections)
	}

	next = *old
	next.Announce.Title = "Quote of the day"
	ch, _ = SummarizeConfigChange(old, &next)
	if !ch.Has(SectionAnnounce) || ch.Has(SectionAnnounceTiming) {
		t.Fatalf("title change sections = %v", ch.Sections)
	}

	next = *old
	next.Telegram.Token = "other"
	next.Updates.Enabled = true
	ch, attrs := SummarizeConfigChange(old, &next)
	if !ch.Has(SectionTelegram) || !ch.Has(SectionUpdates) {
		t.Fatalf("sections = %v", ch.Sections)
	}
	if len(attrs) == 0 {
		t.Fatal("expected log attrs")
	}

	ch, _ = SummarizeConfigChange(old, old)
	if !ch.Empty() {
		t.Fatalf("identical configs reported %v", ch.Sections)
	}
}

func TestManagerLoadAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o600); err != nil {
		t.Fatal(err)
	}

	m := NewManager(path)
	cfg, err := m.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get did not return the committed config")
	}

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	// Same content: deduplicated.
	m.reload(context.Background())
	select {
	case <-sub:
		t.Fatal("unchanged file was published")
	default:
	}

	// Invalid content: rejected, previous config stays.
	bad := strings.Replace(validYAML, `"09:30"`, `"9:3"`, 1)
	if err := os.WriteFile(path, []byte(bad), 0o600); err != nil {
		t.Fatal(err)
	}
	m.reload(context.Background())
	if m.Get().Announce.At != "09:30" {
		t.Fatalf("invalid reload committed: at=%q", m.Get().Announce.At)
	}

	good := strings.Replace(validYAML, `"09:30"`, `"10:15"`, 1)
	if err := os.WriteFile(path, []byte(good), 0o600); err != nil {
		t.Fatal(err)
	}
	m.reload(context.Background())
	select {
	case got := <-sub:
		if got.Announce.At != "10:15" {
			t.Fatalf("published at=%q", got.Announce.At)
		}
	default:
		t.Fatal("valid change was not published")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"telegram":{"token":""}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewManager(path).Load(context.Background()); err == nil {
		t.Fatal("expected validation error")
	}
}
