package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setupBotEnv(t *testing.T) {
	t.Helper()
	t.Setenv("TELEGRAM_BOT_TOKEN", "test-token")
	t.Setenv("BOT_COMMANDER", "telegram")
	for _, k := range []string{"MEMORY_WINDOW", "IMAGE_TTL_SECONDS", "FETCH_TIMEOUT_SECONDS", "PREFERRED_PROVIDER", "OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY"} {
		t.Setenv(k, "")
	}
}

func TestLoadBotConfig_RequiresTelegramToken(t *testing.T) {
	setupBotEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	_, err := LoadBotConfig()
	if err == nil {
		t.Fatal("expected missing token error")
	}
	if !strings.Contains(err.Error(), "TELEGRAM_BOT_TOKEN") {
		t.Fatalf("unexpected err: %v", err)
	}
}

func TestLoadBotConfig_DummyCommanderNeedsNoToken(t *testing.T) {
	setupBotEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("BOT_COMMANDER", "dummy")
	if _, err := LoadBotConfig(); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
}

func TestLoadBotConfig_Defaults(t *testing.T) {
	setupBotEnv(t)
	cfg, err := LoadBotConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MemoryWindow != 12 {
		t.Fatalf("expected window 12, got %d", cfg.MemoryWindow)
	}
	if cfg.ImageTTL != 5*time.Minute {
		t.Fatalf("expected 5m image ttl, got %s", cfg.ImageTTL)
	}
	if cfg.FetchTimeout != 10*time.Second {
		t.Fatalf("expected 10s fetch timeout, got %s", cfg.FetchTimeout)
	}
	if cfg.LLM.OpenAIModel != "gpt-4o-mini" || cfg.LLM.AnthropicModel != "claude-3-haiku-20240307" {
		t.Fatalf("unexpected model defaults: %+v", cfg.LLM)
	}
	if cfg.TelegramFileBase != "https://api.telegram.org/file/bottest-token" {
		t.Fatalf("unexpected file base: %s", cfg.TelegramFileBase)
	}
}

func TestLoadBotConfig_NoLLMCredentialsIsNotAnError(t *testing.T) {
	setupBotEnv(t)
	cfg, err := LoadBotConfig()
	if err != nil {
		t.Fatalf("missing llm credentials must not fail startup: %v", err)
	}
	if cfg.LLM.OpenAIAPIKey != "" || cfg.LLM.AnthropicAPIKey != "" {
		t.Fatalf("expected empty credentials: %+v", cfg.LLM)
	}
}

func TestLoadBotConfig_ValidatesWindow(t *testing.T) {
	setupBotEnv(t)
	t.Setenv("MEMORY_WINDOW", "0")
	_, err := LoadBotConfig()
	if err == nil {
		t.Fatal("expected invalid window error")
	}
	if !strings.Contains(err.Error(), "MEMORY_WINDOW") {
		t.Fatalf("unexpected err: %v", err)
	}
}

func TestLoadBotConfig_NormalizesPreferredProvider(t *testing.T) {
	setupBotEnv(t)
	t.Setenv("PREFERRED_PROVIDER", " Anthropic ")
	cfg, err := LoadBotConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.PreferredProvider != "anthropic" {
		t.Fatalf("unexpected preferred provider: %q", cfg.LLM.PreferredProvider)
	}
}

func TestLoadDigestConfig_RequiresChatID(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "test-token")
	t.Setenv("TELEGRAM_CHAT_ID", "")
	_, err := LoadDigestConfig()
	if err == nil {
		t.Fatal("expected missing chat id error")
	}
	if !strings.Contains(err.Error(), "TELEGRAM_CHAT_ID") {
		t.Fatalf("unexpected err: %v", err)
	}

	t.Setenv("TELEGRAM_CHAT_ID", "-100123")
	cfg, err := LoadDigestConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ChatID != -100123 {
		t.Fatalf("unexpected chat id: %d", cfg.ChatID)
	}
}

func TestLoadFeeds(t *testing.T) {
	feeds, err := LoadFeeds("")
	if err != nil {
		t.Fatal(err)
	}
	if len(feeds) != 4 {
		t.Fatalf("expected 4 default feeds, got %d", len(feeds))
	}

	path := filepath.Join(t.TempDir(), "feeds.yaml")
	body := "feeds:\n  - name: HN\n    url: https://hnrss.org/frontpage\n  - url: https://techcrunch.com/feed/\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	feeds, err = LoadFeeds(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(feeds) != 2 || feeds[0].Name != "HN" || feeds[1].Name != "https://techcrunch.com/feed/" {
		t.Fatalf("unexpected feeds: %+v", feeds)
	}

	if err := os.WriteFile(path, []byte("feeds:\n  - name: broken\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFeeds(path); err == nil {
		t.Fatal("expected missing url error")
	}
}
