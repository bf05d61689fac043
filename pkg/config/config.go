package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	envVoceChatServerURL = "VOCECHAT_SERVER_URL"
	envVoceChatAPIKey    = "VOCECHAT_API_KEY"
	envVoceChatBotUID    = "VOCECHAT_BOT_UID"
)

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Channels ChannelsConfig `json:"channels"`
	Gateway  GatewayConfig  `json:"gateway"`
	Logging  LoggingConfig  `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// ChannelsConfig stores transport adapter settings.
type ChannelsConfig struct {
	VoceChat VoceChatConfig `json:"vocechat"`
}

// VoceChatConfig configures the VoceChat webhook bridge.
type VoceChatConfig struct {
	Enabled bool `json:"enabled"`

	// ServerURL is the VoceChat server base URL, e.g. http://localhost:3009.
	ServerURL string `json:"server_url"`
	APIKey    string `json:"api_key"`

	WebhookPath string `json:"webhook_path"`
	WebhookHost string `json:"webhook_host"`
	WebhookPort int    `json:"webhook_port"`

	// NicknameFromAPI enables display-name lookup via the bot user-info API.
	NicknameFromAPI bool `json:"nickname_from_api"`

	// SendPlainAsMarkdown switches outbound text to the text/markdown
	// content type.
	SendPlainAsMarkdown bool `json:"send_plain_as_markdown"`

	// BotUID is the bot's own user id in VoceChat, attached to every
	// normalized message for downstream routing.
	BotUID string `json:"bot_uid"`
}

// GatewayConfig configures HTTP status server bind settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// LoadConfig resolves config.json, unmarshals it, and applies environment
// overrides.
func LoadConfig() (*Config, error) {
	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides injects selected env-driven settings on top of file
// config. Secrets usually arrive this way in deployments.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if serverURL := strings.TrimSpace(os.Getenv(envVoceChatServerURL)); serverURL != "" {
		cfg.Channels.VoceChat.ServerURL = serverURL
	}

	if apiKey := strings.TrimSpace(os.Getenv(envVoceChatAPIKey)); apiKey != "" {
		cfg.Channels.VoceChat.APIKey = apiKey
	}

	if botUID := strings.TrimSpace(os.Getenv(envVoceChatBotUID)); botUID != "" {
		cfg.Channels.VoceChat.BotUID = botUID
	}
}

// findConfigPath resolves the active config file location.
//
// Precedence is VOCEBRIDGE_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv("VOCEBRIDGE_CONFIG")); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("VOCEBRIDGE_CONFIG does not point to a file: %s", value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("config.json not found (checked %s and %s)", candidates[0], candidates[1])
}
