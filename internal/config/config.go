package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.vksync/config.toml.
type Config struct {
	DefaultSession string  `toml:"default_session"`
	Account        Account `toml:"account"`
	Sync           Sync    `toml:"sync"`
}

// Account holds the credentials and endpoint of the vk.com account.
type Account struct {
	UserID      int64  `toml:"user_id"`
	AccessToken string `toml:"access_token"`
	APIURL      string `toml:"api_url"`
	APIVersion  string `toml:"api_version"`
}

// Sync tunes the roster, receive and send pipelines.
type Sync struct {
	// FriendsOnly keeps only friends and users with an open conversation on
	// the buddy list.
	FriendsOnly        bool     `toml:"only_friends_in_blist"`
	DefaultGroup       string   `toml:"blist_default_group"`
	PollInterval       Duration `toml:"poll_interval"`
	RosterInterval     Duration `toml:"roster_interval"`
	MessagePageSize    int      `toml:"message_page_size"`
	DialogPageSize     int      `toml:"dialog_page_size"`
	MaxChunkBytes      int      `toml:"max_chunk_bytes"`
	MaxCaptchaAttempts int      `toml:"max_captcha_attempts"`
	CaptchaTimeout     Duration `toml:"captcha_timeout"`
	RequestsPerSecond  float64  `toml:"requests_per_second"`
	RequestTimeout     Duration `toml:"request_timeout"`
}

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used for keys missing from the file.
func Default() *Config {
	return &Config{
		DefaultSession: "main",
		Account: Account{
			APIURL:     "https://api.vk.com/method/",
			APIVersion: "5.92",
		},
		Sync: Sync{
			PollInterval:       Duration{30 * time.Second},
			RosterInterval:     Duration{10 * time.Minute},
			MessagePageSize:    200,
			DialogPageSize:     200,
			MaxChunkBytes:      4096,
			MaxCaptchaAttempts: 3,
			CaptchaTimeout:     Duration{5 * time.Minute},
			RequestsPerSecond:  3,
			RequestTimeout:     Duration{30 * time.Second},
		},
	}
}

// Load reads config from the given path on top of Default. Returns an error
// if the file is missing or invalid.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Default.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate rejects values the pipelines cannot work with.
func (c *Config) Validate() error {
	s := c.Sync
	switch {
	case s.MessagePageSize <= 0 || s.MessagePageSize > 200:
		return fmt.Errorf("sync.message_page_size must be in 1..200, got %d", s.MessagePageSize)
	case s.DialogPageSize <= 0 || s.DialogPageSize > 200:
		return fmt.Errorf("sync.dialog_page_size must be in 1..200, got %d", s.DialogPageSize)
	case s.MaxChunkBytes < 16:
		return fmt.Errorf("sync.max_chunk_bytes must be at least 16, got %d", s.MaxChunkBytes)
	case s.MaxCaptchaAttempts < 1:
		return fmt.Errorf("sync.max_captcha_attempts must be positive, got %d", s.MaxCaptchaAttempts)
	case s.PollInterval.Duration < time.Second:
		return fmt.Errorf("sync.poll_interval must be at least 1s, got %s", s.PollInterval)
	case s.RosterInterval.Duration < time.Second:
		return fmt.Errorf("sync.roster_interval must be at least 1s, got %s", s.RosterInterval)
	case s.RequestsPerSecond < 0:
		return fmt.Errorf("sync.requests_per_second must not be negative, got %g", s.RequestsPerSecond)
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
