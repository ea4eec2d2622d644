package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// BotConfig holds configuration for the bot process.
type BotConfig struct {
	TelegramAPIBase  string
	TelegramFileBase string
	Timeout          int
	SleepSeconds     int
	DropPending      bool
	Commander        string
	DummyPollScript  string
	DummySendScript  string
	DBPath           string
	LogLevel         string

	LLM LLMConfig

	StorePath     string
	PersonaPath   string
	MemoryWindow  int
	ImageDir      string
	ImageTTL      time.Duration
	ImageModel    string
	FetchTimeout  time.Duration
	NewsFeedsFile string

	TavilyAPIKey       string
	AlphaVantageAPIKey string
}

// LLMConfig carries backend credentials and model identifiers. Every field is
// optional; a gateway with no credentials reports a configuration error at
// call time instead of failing startup.
type LLMConfig struct {
	PreferredProvider string
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OpenAIModel       string
	AnthropicAPIKey   string
	AnthropicBaseURL  string
	AnthropicModel    string
	GeminiAPIKey      string
	GeminiModel       string
	DummyScript       string
}

// LoadBotConfig reads bot configuration from environment variables.
func LoadBotConfig() (BotConfig, error) {
	commander := envOrDefault("BOT_COMMANDER", "telegram")
	telegramToken := os.Getenv("TELEGRAM_BOT_TOKEN")
	if commander == "telegram" && telegramToken == "" {
		return BotConfig{}, fmt.Errorf("TELEGRAM_BOT_TOKEN is required in environment when BOT_COMMANDER=telegram")
	}

	window := envIntOrDefault("MEMORY_WINDOW", 12)
	if window <= 0 {
		return BotConfig{}, fmt.Errorf("MEMORY_WINDOW must be positive, got %d", window)
	}
	ttl := envIntOrDefault("IMAGE_TTL_SECONDS", 300)
	if ttl <= 0 {
		return BotConfig{}, fmt.Errorf("IMAGE_TTL_SECONDS must be positive, got %d", ttl)
	}
	fetchTimeout := envIntOrDefault("FETCH_TIMEOUT_SECONDS", 10)
	if fetchTimeout <= 0 {
		return BotConfig{}, fmt.Errorf("FETCH_TIMEOUT_SECONDS must be positive, got %d", fetchTimeout)
	}

	return BotConfig{
		TelegramAPIBase:    fmt.Sprintf("https://api.telegram.org/bot%s", telegramToken),
		TelegramFileBase:   fmt.Sprintf("https://api.telegram.org/file/bot%s", telegramToken),
		Timeout:            envIntOrDefault("TG_TIMEOUT", 30),
		SleepSeconds:       envIntOrDefault("TG_SLEEP_SECONDS", 1),
		DropPending:        envBoolOrDefault("TG_DROP_PENDING", false),
		Commander:          commander,
		DummyPollScript:    envOrDefault("BOT_DUMMY_COMMANDER_SCRIPT", "ok"),
		DummySendScript:    envOrDefault("BOT_DUMMY_COMMANDER_SEND_SCRIPT", "ok"),
		DBPath:             envOrDefault("BOT_DB_PATH", "state/bot.db"),
		LogLevel:           envOrDefault("LOG_LEVEL", "info"),
		LLM:                loadLLMConfig(),
		StorePath:          envOrDefault("STORE_PATH", "memory.json"),
		PersonaPath:        envOrDefault("PERSONA_PATH", "persona.txt"),
		MemoryWindow:       window,
		ImageDir:           envOrDefault("IMAGE_DIR", "tmp"),
		ImageTTL:           time.Duration(ttl) * time.Second,
		ImageModel:         envOrDefault("OPENAI_IMAGE_MODEL", "gpt-image-1"),
		FetchTimeout:       time.Duration(fetchTimeout) * time.Second,
		NewsFeedsFile:      os.Getenv("NEWS_FEEDS_FILE"),
		TavilyAPIKey:       os.Getenv("TAVILY_API_KEY"),
		AlphaVantageAPIKey: os.Getenv("ALPHAVANTAGE_API_KEY"),
	}, nil
}

// DigestConfig holds configuration for one-shot digest runs.
type DigestConfig struct {
	TelegramAPIBase    string
	ChatID             int64
	RequestTimeout     time.Duration
	LogLevel           string
	LLM                LLMConfig
	TavilyAPIKey       string
	AlphaVantageAPIKey string
	NewsFeedsFile      string
}

// LoadDigestConfig reads digest configuration from environment variables.
func LoadDigestConfig() (DigestConfig, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return DigestConfig{}, fmt.Errorf("missing required env var: TELEGRAM_BOT_TOKEN")
	}
	rawChatID := os.Getenv("TELEGRAM_CHAT_ID")
	if rawChatID == "" {
		return DigestConfig{}, fmt.Errorf("missing required env var: TELEGRAM_CHAT_ID")
	}
	chatID, err := strconv.ParseInt(rawChatID, 10, 64)
	if err != nil {
		return DigestConfig{}, fmt.Errorf("invalid TELEGRAM_CHAT_ID %q: %w", rawChatID, err)
	}
	return DigestConfig{
		TelegramAPIBase:    fmt.Sprintf("https://api.telegram.org/bot%s", token),
		ChatID:             chatID,
		RequestTimeout:     time.Duration(envIntOrDefault("DIGEST_REQUEST_TIMEOUT_SECONDS", 60)) * time.Second,
		LogLevel:           envOrDefault("LOG_LEVEL", "info"),
		LLM:                loadLLMConfig(),
		TavilyAPIKey:       os.Getenv("TAVILY_API_KEY"),
		AlphaVantageAPIKey: os.Getenv("ALPHAVANTAGE_API_KEY"),
		NewsFeedsFile:      os.Getenv("NEWS_FEEDS_FILE"),
	}, nil
}

func loadLLMConfig() LLMConfig {
	return LLMConfig{
		PreferredProvider: strings.ToLower(strings.TrimSpace(os.Getenv("PREFERRED_PROVIDER"))),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:     os.Getenv("OPENAI_BASE_URL"),
		OpenAIModel:       envOrDefault("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
		AnthropicAPIKey:   os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicBaseURL:  os.Getenv("ANTHROPIC_BASE_URL"),
		AnthropicModel:    envOrDefault("ANTHROPIC_MODEL", "claude-3-haiku-20240307"),
		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		GeminiModel:       envOrDefault("GEMINI_MODEL", "gemini-2.0-flash"),
		DummyScript:       os.Getenv("BOT_DUMMY_PROVIDER_SCRIPT"),
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolOrDefault(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v == "1" || strings.EqualFold(v, "true")
}
