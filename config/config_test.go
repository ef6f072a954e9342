package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"TWITCH_SCOPES", "BOT_ROLE", "DIALOGUE_WINDOW", "DIGEST_PERIOD", "WATCH_PERIOD", "GEMINI_MODEL", "DB_DSN"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.TwitchScopes != "chat:read chat:edit" {
		t.Errorf("TwitchScopes = %q", cfg.TwitchScopes)
	}
	if cfg.RoleName != "assistant" {
		t.Errorf("RoleName = %q, want assistant", cfg.RoleName)
	}
	if cfg.DialogueWindow != 15*time.Second {
		t.Errorf("DialogueWindow = %v, want 15s", cfg.DialogueWindow)
	}
	if cfg.DigestPeriod != time.Minute {
		t.Errorf("DigestPeriod = %v, want 1m", cfg.DigestPeriod)
	}
	if cfg.WatchPeriod != 25*time.Second {
		t.Errorf("WatchPeriod = %v, want 25s", cfg.WatchPeriod)
	}
	if cfg.GeminiModel == "" {
		t.Error("expected default gemini model")
	}
	if cfg.DBDsn == "" {
		t.Error("expected default db dsn")
	}
}

func TestLoadWatchPeriodFloor(t *testing.T) {
	t.Setenv("WATCH_PERIOD", "3s")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.WatchPeriod != MinWatchPeriod {
		t.Errorf("WatchPeriod = %v, want clamped to %v", cfg.WatchPeriod, MinWatchPeriod)
	}

	// 0 disables watching and is not clamped.
	t.Setenv("WATCH_PERIOD", "0s")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.WatchPeriod != 0 {
		t.Errorf("WatchPeriod = %v, want 0", cfg.WatchPeriod)
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	t.Setenv("DIGEST_PERIOD", "not-a-duration")
	if _, err := Load(); err == nil {
		t.Error("expected error for invalid DIGEST_PERIOD")
	}
}

func TestLoadLists(t *testing.T) {
	t.Setenv("GEMINI_API_KEYS", "key-a, key-b,,key-c")
	t.Setenv("BOT_ADMINS", "mod1,mod2")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(cfg.GeminiAPIKeys) != 3 || cfg.GeminiAPIKeys[1] != "key-b" {
		t.Errorf("GeminiAPIKeys = %v", cfg.GeminiAPIKeys)
	}
	if len(cfg.Admins) != 2 {
		t.Errorf("Admins = %v", cfg.Admins)
	}
}

func TestValidateChatReady(t *testing.T) {
	t.Setenv("TWITCH_CHANNEL", "chan")
	t.Setenv("TWITCH_BOT_USERNAME", "bot")
	t.Setenv("TWITCH_OAUTH_TOKEN", "oauth:token")
	cfg, _ := Load()
	if err := cfg.ValidateChatReady(); err != nil {
		t.Errorf("expected valid chat config, got %v", err)
	}
	if err := os.Unsetenv("TWITCH_CHANNEL"); err != nil {
		t.Fatalf("failed to unset TWITCH_CHANNEL: %v", err)
	}
	cfg, _ = Load()
	if err := cfg.ValidateChatReady(); err == nil {
		t.Errorf("expected error when missing twitch envs")
	}
}

func TestIsAdmin(t *testing.T) {
	t.Setenv("TWITCH_CHANNEL", "Streamer")
	t.Setenv("BOT_ADMINS", "Mod1,mod2")
	cfg, _ := Load()
	for _, login := range []string{"streamer", "mod1", "MOD2"} {
		if !cfg.IsAdmin(login) {
			t.Errorf("IsAdmin(%q) = false, want true", login)
		}
	}
	if cfg.IsAdmin("viewer") {
		t.Error("IsAdmin(viewer) = true, want false")
	}
	if cfg.IsAdmin("") {
		t.Error("IsAdmin(empty) = true, want false")
	}
}
