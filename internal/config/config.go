// Package config loads and validates the application configuration: a
// JSON file describing the devices to monitor and the skip behavior,
// with a few environment overrides on top.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"tvskip.app/tvskip/internal/domain"
)

// Environment override keys. A .env file in the working directory is
// loaded first, then the process environment wins.
const (
	EnvConfigPath  = "TVSKIP_CONFIG"
	EnvLogLevel    = "TVSKIP_LOG_LEVEL"
	EnvMetricsAddr = "TVSKIP_METRICS_ADDR"
	EnvSegmentAPI  = "TVSKIP_SEGMENT_API"
)

// DefaultJoinName is the client name announced when joining a session.
const DefaultJoinName = "tvskip"

// Config is the fully processed application configuration.
type Config struct {
	Devices           []domain.Device
	APIKey            string
	SkipCategories    []string
	ChannelWhitelist  []string
	SkipCountTracking bool
	MuteAds           bool
	SkipAds           bool
	AutoPlay          bool
	JoinName          string

	// SegmentAPIBase overrides the segment-metadata service endpoint.
	SegmentAPIBase string
	// MetricsAddr, when non-empty, serves prometheus metrics on that
	// address.
	MetricsAddr string
	LogLevel    string
}

// rawChannel mirrors one channel-whitelist entry in the JSON file. The
// name is display-only; matching uses the id.
type rawChannel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// rawConfig maps directly onto the JSON file. Devices stay raw so legacy
// string entries can be detected; booleans are pointers so absent fields
// fall back to their non-zero defaults.
type rawConfig struct {
	Devices           []json.RawMessage `json:"devices"`
	APIKey            string            `json:"apikey"`
	SkipCategories    []string          `json:"skip_categories"`
	ChannelWhitelist  []rawChannel      `json:"channel_whitelist"`
	SkipCountTracking *bool             `json:"skip_count_tracking"`
	MuteAds           bool              `json:"mute_ads"`
	SkipAds           bool              `json:"skip_ads"`
	AutoPlay          *bool             `json:"auto_play"`
	JoinName          string            `json:"join_name"`
	SegmentAPIBase    string            `json:"segment_api_base"`
	MetricsAddr       string            `json:"metrics_addr"`
	LogLevel          string            `json:"log_level"`

	// atvs is the pre-v2 device list; its presence means the file needs
	// migration, not silent acceptance.
	Atvs json.RawMessage `json:"atvs"`
}

type rawDevice struct {
	ScreenID string  `json:"screen_id"`
	Name     string  `json:"name"`
	Offset   float64 `json:"offset"` // milliseconds
}

// Load reads, parses and validates the configuration file at path, then
// applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

// Parse decodes and validates one JSON configuration document.
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal config JSON: %w", err)
	}

	if len(raw.Atvs) > 0 {
		return nil, fmt.Errorf("the 'atvs' config option is no longer supported; migrate each entry to a 'devices' object with a screen_id")
	}

	devices := make([]domain.Device, 0, len(raw.Devices))
	for i, entry := range raw.Devices {
		var rd rawDevice
		if err := json.Unmarshal(entry, &rd); err != nil {
			// A bare string here is the legacy device shape.
			var legacy string
			if json.Unmarshal(entry, &legacy) == nil {
				return nil, fmt.Errorf("device %d uses the legacy string format; replace it with an object holding a screen_id", i)
			}
			return nil, fmt.Errorf("device %d: %w", i, err)
		}
		rd.ScreenID = strings.TrimSpace(rd.ScreenID)
		if rd.ScreenID == "" {
			return nil, fmt.Errorf("device %d has no screen_id", i)
		}
		devices = append(devices, domain.Device{
			ScreenID: rd.ScreenID,
			Name:     rd.Name,
			Offset:   rd.Offset / 1000, // milliseconds on disk, seconds in memory
		})
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("no devices configured; add at least one device with a screen_id")
	}

	cfg := &Config{
		Devices:           devices,
		APIKey:            raw.APIKey,
		SkipCategories:    raw.SkipCategories,
		SkipCountTracking: true,
		MuteAds:           raw.MuteAds,
		SkipAds:           raw.SkipAds,
		AutoPlay:          true,
		JoinName:          raw.JoinName,
		SegmentAPIBase:    raw.SegmentAPIBase,
		MetricsAddr:       raw.MetricsAddr,
		LogLevel:          raw.LogLevel,
	}
	if raw.SkipCountTracking != nil {
		cfg.SkipCountTracking = *raw.SkipCountTracking
	}
	if raw.AutoPlay != nil {
		cfg.AutoPlay = *raw.AutoPlay
	}
	if len(cfg.SkipCategories) == 0 {
		cfg.SkipCategories = []string{"sponsor"}
	}
	if cfg.JoinName == "" {
		cfg.JoinName = DefaultJoinName
	}
	for _, ch := range raw.ChannelWhitelist {
		if ch.ID != "" {
			cfg.ChannelWhitelist = append(cfg.ChannelWhitelist, ch.ID)
		}
	}
	return cfg, nil
}

// applyEnv layers a .env file and the process environment over the file
// values. Missing .env is fine.
func (c *Config) applyEnv() {
	_ = godotenv.Load()

	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvMetricsAddr); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv(EnvSegmentAPI); v != "" {
		c.SegmentAPIBase = v
	}
}

// PathFromEnv resolves the config file path: flag value if set, else the
// environment override, else the given default.
func PathFromEnv(flagValue, fallback string) string {
	if flagValue != "" {
		return flagValue
	}
	_ = godotenv.Load()
	if v := os.Getenv(EnvConfigPath); v != "" {
		return v
	}
	return fallback
}
