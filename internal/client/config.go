package client

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds client settings loaded from the toml config file.
type Config struct {
	// ActiveServer is the URL of the server shown on startup.
	ActiveServer string `toml:"active_server"`
	// DataDir holds the state database. Defaults to ~/.chitchat.
	DataDir string `toml:"data_dir"`
	// Username is the local identity used for mention matching until
	// the server's auth response supplies the authoritative user.
	Username string `toml:"username"`
	Alerts   Alerts `toml:"alerts"`
}

// Alerts configures the rolling minimum gaps between alerts.
type Alerts struct {
	SoundGapMS   int `toml:"sound_gap_ms"`
	DesktopGapMS int `toml:"desktop_gap_ms"`
}

// SoundGap returns the sound alert gap as a duration.
func (a Alerts) SoundGap() time.Duration {
	return time.Duration(a.SoundGapMS) * time.Millisecond
}

// DesktopGap returns the desktop alert gap as a duration.
func (a Alerts) DesktopGap() time.Duration {
	return time.Duration(a.DesktopGapMS) * time.Millisecond
}

// DefaultConfig returns the default client configuration
func DefaultConfig() *Config {
	return &Config{
		Alerts: Alerts{
			SoundGapMS:   3000,
			DesktopGapMS: 10000,
		},
	}
}

// LoadConfig loads the config file at path, or probes the default
// locations when path is empty. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		defaultPaths := []string{
			"./chitchat.toml",
			os.ExpandEnv("$HOME/.config/chitchat/config.toml"),
		}
		for _, p := range defaultPaths {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// StatePath returns the sqlite database path, creating the data dir.
func (c *Config) StatePath() (string, error) {
	dir := c.DataDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home directory: %w", err)
		}
		dir = filepath.Join(home, ".chitchat")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return filepath.Join(dir, "state.db"), nil
}
