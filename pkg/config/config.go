package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Workspace string          `json:"workspace" env:"AFFIBOT_WORKSPACE"`
	Channels  ChannelsConfig  `json:"channels"`
	Affiliate AffiliateConfig `json:"affiliate"`
	Pipeline  PipelineConfig  `json:"pipeline"`
	Heartbeat HeartbeatConfig `json:"heartbeat"`
	Logging   LoggingConfig   `json:"logging"`
}

type ChannelsConfig struct {
	Discord  DiscordConfig  `json:"discord"`
	Telegram TelegramConfig `json:"telegram"`
}

type DiscordConfig struct {
	Enabled   bool     `json:"enabled" env:"AFFIBOT_CHANNELS_DISCORD_ENABLED"`
	Token     string   `json:"token" env:"AFFIBOT_CHANNELS_DISCORD_TOKEN"`
	AllowFrom []string `json:"allow_from" env:"AFFIBOT_CHANNELS_DISCORD_ALLOW_FROM"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled" env:"AFFIBOT_CHANNELS_TELEGRAM_ENABLED"`
	Token     string   `json:"token" env:"AFFIBOT_CHANNELS_TELEGRAM_TOKEN"`
	AllowFrom []string `json:"allow_from" env:"AFFIBOT_CHANNELS_TELEGRAM_ALLOW_FROM"`
}

type AffiliateConfig struct {
	BaseURL        string `json:"base_url" env:"AFFIBOT_AFFILIATE_BASE_URL"`
	AccessToken    string `json:"access_token" env:"AFFIBOT_AFFILIATE_ACCESS_TOKEN"`
	Merchant       string `json:"merchant" env:"AFFIBOT_AFFILIATE_MERCHANT"`
	TimeoutSeconds int    `json:"timeout_seconds" env:"AFFIBOT_AFFILIATE_TIMEOUT_SECONDS"`
}

type PipelineConfig struct {
	CommandPrefix        string `json:"command_prefix" env:"AFFIBOT_PIPELINE_COMMAND_PREFIX"`
	CooldownSeconds      int    `json:"cooldown_seconds" env:"AFFIBOT_PIPELINE_COOLDOWN_SECONDS"`
	SeenHighWater        int    `json:"seen_high_water" env:"AFFIBOT_PIPELINE_SEEN_HIGH_WATER"`
	SeenKeep             int    `json:"seen_keep" env:"AFFIBOT_PIPELINE_SEEN_KEEP"`
	Workers              int    `json:"workers" env:"AFFIBOT_PIPELINE_WORKERS"`
	QueueSize            int    `json:"queue_size" env:"AFFIBOT_PIPELINE_QUEUE_SIZE"`
	ExpandTimeoutSeconds int    `json:"expand_timeout_seconds" env:"AFFIBOT_PIPELINE_EXPAND_TIMEOUT_SECONDS"`
}

type HeartbeatConfig struct {
	Enabled bool   `json:"enabled" env:"AFFIBOT_HEARTBEAT_ENABLED"`
	Cron    string `json:"cron" env:"AFFIBOT_HEARTBEAT_CRON"`
}

type LoggingConfig struct {
	Level       string `json:"level" env:"AFFIBOT_LOGGING_LEVEL"`
	FileEnabled bool   `json:"file_enabled" env:"AFFIBOT_LOGGING_FILE_ENABLED"`
	FilePath    string `json:"file_path" env:"AFFIBOT_LOGGING_FILE_PATH"`
	MaxSizeMB   int    `json:"max_size_mb" env:"AFFIBOT_LOGGING_MAX_SIZE_MB"`
}

func DefaultConfig() *Config {
	return &Config{
		Workspace: "~/.affibot/workspace",
		Channels: ChannelsConfig{
			Discord: DiscordConfig{
				Enabled:   true,
				Token:     "",
				AllowFrom: []string{},
			},
			Telegram: TelegramConfig{
				Enabled:   false,
				Token:     "",
				AllowFrom: []string{},
			},
		},
		Affiliate: AffiliateConfig{
			BaseURL:        "https://api.accesstrade.vn",
			AccessToken:    "",
			Merchant:       "shopee",
			TimeoutSeconds: 10,
		},
		Pipeline: PipelineConfig{
			CommandPrefix:        "!",
			CooldownSeconds:      30,
			SeenHighWater:        1000,
			SeenKeep:             500,
			Workers:              4,
			QueueSize:            64,
			ExpandTimeoutSeconds: 5,
		},
		Heartbeat: HeartbeatConfig{
			Enabled: true,
			Cron:    "*/30 * * * *",
		},
		Logging: LoggingConfig{
			Level:       "info",
			FileEnabled: true,
			FilePath:    "~/.affibot/workspace/affibot.log",
			MaxSizeMB:   50,
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	applyLegacyEnvOverrides(cfg)

	return cfg, nil
}

// applyLegacyEnvOverrides honors the short token variables the bot has always
// shipped with, so deployments do not have to switch to the prefixed names.
func applyLegacyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("DISCORD_TOKEN")); v != "" {
		cfg.Channels.Discord.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN")); v != "" {
		cfg.Channels.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("ACCESS_TOKEN")); v != "" {
		cfg.Affiliate.AccessToken = v
	}
}

// Validate rejects configurations the process cannot run with: no affiliate
// token, no enabled channel, or an enabled channel missing its token.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Affiliate.AccessToken) == "" {
		return fmt.Errorf("affiliate access token not configured (set ACCESS_TOKEN)")
	}
	if !c.Channels.Discord.Enabled && !c.Channels.Telegram.Enabled {
		return fmt.Errorf("no channel enabled")
	}
	if c.Channels.Discord.Enabled && strings.TrimSpace(c.Channels.Discord.Token) == "" {
		return fmt.Errorf("discord enabled but token not configured (set DISCORD_TOKEN)")
	}
	if c.Channels.Telegram.Enabled && strings.TrimSpace(c.Channels.Telegram.Token) == "" {
		return fmt.Errorf("telegram enabled but token not configured (set TELEGRAM_TOKEN)")
	}
	return nil
}

// EnsureConfigFile writes a starter config when none exists and reports
// whether it did. The file always holds pristine defaults; tokens picked up
// from the environment are never persisted to disk.
func EnsureConfigFile(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}
	return true, SaveConfig(path, DefaultConfig())
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) WorkspacePath() string {
	return expandHome(c.Workspace)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
