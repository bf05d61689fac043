package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigFromEnvPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
	  "channels": {
	    "vocechat": {
	      "enabled": true,
	      "server_url": "http://localhost:3009",
	      "api_key": "key-1",
	      "webhook_path": "/vocechat_webhook",
	      "webhook_port": 8080,
	      "nickname_from_api": true,
	      "bot_uid": "9"
	    }
	  },
	  "gateway": {"host": "0.0.0.0", "port": 18790},
	  "logging": {"format": "json", "level": "debug", "add_source": true}
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("VOCEBRIDGE_CONFIG", path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	vc := cfg.Channels.VoceChat
	if !vc.Enabled {
		t.Fatal("channels.vocechat.enabled = false, want true")
	}
	if vc.ServerURL != "http://localhost:3009" {
		t.Fatalf("server_url = %q, want %q", vc.ServerURL, "http://localhost:3009")
	}
	if vc.BotUID != "9" {
		t.Fatalf("bot_uid = %q, want %q", vc.BotUID, "9")
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("logging.format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{"channels": {"vocechat": {"server_url": "http://old:3009", "api_key": "stale"}}}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("VOCEBRIDGE_CONFIG", path)
	t.Setenv("VOCECHAT_SERVER_URL", "http://fresh:3009")
	t.Setenv("VOCECHAT_API_KEY", "fresh-key")
	t.Setenv("VOCECHAT_BOT_UID", "42")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	vc := cfg.Channels.VoceChat
	if vc.ServerURL != "http://fresh:3009" {
		t.Fatalf("server_url = %q, want env override", vc.ServerURL)
	}
	if vc.APIKey != "fresh-key" {
		t.Fatalf("api_key = %q, want env override", vc.APIKey)
	}
	if vc.BotUID != "42" {
		t.Fatalf("bot_uid = %q, want env override", vc.BotUID)
	}
}

func TestLoadConfigInvalidEnvPath(t *testing.T) {
	t.Setenv("VOCEBRIDGE_CONFIG", filepath.Join(t.TempDir(), "missing.json"))

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for missing config path")
	}
}
