package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "config.yaml", `
discord:
  token: abc123
  voice_channel_id: "111"
  text_channel_id: "222"
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
janitor:
  scan_interval: 5m
  retain_after: 30m
  lookback_horizon: 12h
presence:
  debounce_period: 15s
`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Discord.VoiceChannelID != "111" || cfg.Discord.TextChannelID != "222" {
		t.Fatalf("channel ids = %q/%q, want 111/222", cfg.Discord.VoiceChannelID, cfg.Discord.TextChannelID)
	}
	if cfg.Presence.DebouncePeriod != "15s" {
		t.Fatalf("debounce_period = %q, want 15s", cfg.Presence.DebouncePeriod)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "config.json", `{
  "discord": {"voice_channel_id": "1", "text_channel_id": "2"},
  "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}},
  "garbage": true
}`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidateRequiresChannels(t *testing.T) {
	t.Parallel()
	err := Validate(&Config{Discord: DiscordConfig{TextChannelID: "2"}})
	if err == nil || !strings.Contains(err.Error(), "voice_channel_id") {
		t.Fatalf("err = %v, want voice_channel_id error", err)
	}
	err = Validate(&Config{Discord: DiscordConfig{VoiceChannelID: "1"}})
	if err == nil || !strings.Contains(err.Error(), "text_channel_id") {
		t.Fatalf("err = %v, want text_channel_id error", err)
	}
}

func TestValidateRetentionInsideHorizon(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Discord: DiscordConfig{VoiceChannelID: "1", TextChannelID: "2"},
		Janitor: JanitorConfig{RetainAfter: "24h", LookbackHorizon: "24h"},
	}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error when retain_after >= lookback_horizon")
	}
	cfg.Janitor.RetainAfter = "1h"
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
}

func TestValidateBadDuration(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Discord:  DiscordConfig{VoiceChannelID: "1", TextChannelID: "2"},
		Presence: PresenceConfig{DebouncePeriod: "ten seconds"},
	}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for invalid debounce_period")
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
		def  time.Duration
		want time.Duration
		err  bool
	}{
		{name: "empty uses default", raw: "", def: time.Minute, want: time.Minute},
		{name: "explicit wins", raw: "90s", def: time.Minute, want: 90 * time.Second},
		{name: "negative rejected", raw: "-5s", def: time.Minute, err: true},
		{name: "garbage rejected", raw: "soon", def: time.Minute, err: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDurationOrDefault("x", tt.raw, tt.def)
			if tt.err {
				if err == nil {
					t.Fatalf("ParseDurationOrDefault(%q) expected error", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDurationOrDefault(%q) error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("ParseDurationOrDefault(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestLoadRejectsTrailingData(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "config.json", `{"discord": {"voice_channel_id": "1", "text_channel_id": "2"}, "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}}}{"again": true}`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}
