package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Policy defaults. These match the bot's historical behavior: notifications
// live for an hour, the sweep runs every ten minutes and never looks back more
// than a day, and a join must persist for ten seconds before it is announced.
const (
	DefaultScanInterval    = 10 * time.Minute
	DefaultLookbackHorizon = 24 * time.Hour
	DefaultRetainAfter     = time.Hour
	DefaultDebouncePeriod  = 10 * time.Second
)

type Config struct {
	Discord  DiscordConfig  `json:"discord"`
	Logging  LoggingConfig  `json:"logging"`
	Presence PresenceConfig `json:"presence,omitempty"`
	Janitor  JanitorConfig  `json:"janitor,omitempty"`
}

// DiscordConfig identifies the bot account and the two channels it works
// with: the voice channel being watched and the text channel notifications go
// to. Token may be left empty in the file and supplied via the
// DISCORD_BOT_TOKEN environment variable instead.
type DiscordConfig struct {
	Token          string `json:"token,omitempty"`
	VoiceChannelID string `json:"voice_channel_id"`
	TextChannelID  string `json:"text_channel_id"`
}

// PresenceConfig controls the join-announcement debounce.
// DebouncePeriod is a Go duration string (e.g. "10s").
type PresenceConfig struct {
	DebouncePeriod string `json:"debounce_period,omitempty"`
}

// JanitorConfig controls the notification sweep.
//
// All durations are Go duration strings. RetainAfter must be shorter than
// LookbackHorizon, otherwise the sweep can never observe a deletable message.
type JanitorConfig struct {
	ScanInterval    string `json:"scan_interval,omitempty"`
	LookbackHorizon string `json:"lookback_horizon,omitempty"`
	RetainAfter     string `json:"retain_after,omitempty"`
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

// Validate checks cross-field invariants. Token presence is checked at wiring
// time (it may come from the environment), not here.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(cfg.Discord.VoiceChannelID) == "" {
		return errors.New("discord.voice_channel_id is required")
	}
	if strings.TrimSpace(cfg.Discord.TextChannelID) == "" {
		return errors.New("discord.text_channel_id is required")
	}

	if _, err := ParseDurationField("presence.debounce_period", cfg.Presence.DebouncePeriod); err != nil {
		return err
	}

	scan, err := ParseDurationOrDefault("janitor.scan_interval", cfg.Janitor.ScanInterval, DefaultScanInterval)
	if err != nil {
		return err
	}
	if scan <= 0 {
		return errors.New("janitor.scan_interval must be > 0")
	}
	horizon, err := ParseDurationOrDefault("janitor.lookback_horizon", cfg.Janitor.LookbackHorizon, DefaultLookbackHorizon)
	if err != nil {
		return err
	}
	retain, err := ParseDurationOrDefault("janitor.retain_after", cfg.Janitor.RetainAfter, DefaultRetainAfter)
	if err != nil {
		return err
	}
	// Messages older than the horizon are never fetched, so retention must sit
	// strictly inside it for the sweep to ever delete anything.
	if retain >= horizon {
		return fmt.Errorf("janitor.retain_after (%s) must be shorter than janitor.lookback_horizon (%s)", retain, horizon)
	}
	return nil
}
