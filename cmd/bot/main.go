// Command bot runs the Telegram assistant: it long-polls for updates, records
// them in the inbox and hands each chat's messages to the router in order.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gilbert2046/telegram-digest-bot/internal/anthropic"
	"github.com/gilbert2046/telegram-digest-bot/internal/bot"
	"github.com/gilbert2046/telegram-digest-bot/internal/chat"
	cmdpkg "github.com/gilbert2046/telegram-digest-bot/internal/commander"
	"github.com/gilbert2046/telegram-digest-bot/internal/config"
	"github.com/gilbert2046/telegram-digest-bot/internal/control"
	"github.com/gilbert2046/telegram-digest-bot/internal/db"
	"github.com/gilbert2046/telegram-digest-bot/internal/digest"
	"github.com/gilbert2046/telegram-digest-bot/internal/dummy"
	"github.com/gilbert2046/telegram-digest-bot/internal/gemini"
	"github.com/gilbert2046/telegram-digest-bot/internal/imagecache"
	"github.com/gilbert2046/telegram-digest-bot/internal/logging"
	"github.com/gilbert2046/telegram-digest-bot/internal/model"
	"github.com/gilbert2046/telegram-digest-bot/internal/news"
	"github.com/gilbert2046/telegram-digest-bot/internal/openai"
	"github.com/gilbert2046/telegram-digest-bot/internal/persona"
	"github.com/gilbert2046/telegram-digest-bot/internal/store"
	"github.com/gilbert2046/telegram-digest-bot/internal/telegram"
	"github.com/gilbert2046/telegram-digest-bot/internal/webpage"
)

func main() {
	cfg, err := config.LoadBotConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "bot: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bot: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("bot stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.BotConfig, logger *zap.Logger) error {
	database, err := db.OpenDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := db.InitSchema(database); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}

	events := eventLog{db: database, logger: logger}
	instanceID := uuid.NewString()
	rootID := events.log(0, db.EventProcessStarted, map[string]any{
		"role":        "bot",
		"instance_id": instanceID,
		"pid":         os.Getpid(),
		"commander":   cfg.Commander,
	})
	logger = logger.With(zap.String("instance_id", instanceID))

	commander, err := newCommander(cfg)
	if err != nil {
		return fmt.Errorf("init commander: %w", err)
	}
	providers, imager, err := newProviders(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init providers: %w", err)
	}
	preferred := cfg.LLM.PreferredProvider
	if cfg.LLM.DummyScript != "" {
		preferred = "dummy"
	}
	gateway := model.NewGateway(providers,
		model.WithPreferred(preferred),
		model.WithLogger(logger),
		model.WithOnRetry(func(ev model.RetryEvent) {
			events.log(rootID, db.EventRetryScheduled, map[string]any{
				"provider":     ev.Provider,
				"attempt":      ev.Attempt,
				"wait_seconds": ev.Wait.Seconds(),
				"error":        ev.Err.Error(),
			})
		}),
	)
	if !gateway.Configured() {
		logger.Warn("no LLM provider configured; chat replies will explain how to set one up")
	}

	personas, err := persona.New(cfg.PersonaPath, logger)
	if err != nil {
		return fmt.Errorf("load persona: %w", err)
	}
	conversations := chat.NewService(store.Open(cfg.StorePath, logger), personas, gateway,
		chat.Config{Window: cfg.MemoryWindow}, logger)

	feeds, err := loadFeeds(cfg.NewsFeedsFile)
	if err != nil {
		return err
	}
	httpClient := &http.Client{Timeout: cfg.FetchTimeout}
	market := digest.NewAlphaVantage(cfg.AlphaVantageAPIKey, digest.WithHTTPClient(httpClient), digest.WithLogger(logger))
	weather := digest.NewOpenMeteo(digest.WithHTTPClient(httpClient), digest.WithLogger(logger))
	search := digest.NewTavily(cfg.TavilyAPIKey, digest.WithHTTPClient(httpClient), digest.WithLogger(logger))
	composer := digest.NewComposer(digest.Sources{
		News: news.NewFetcher(feeds, news.WithHTTPClient(httpClient), news.WithLogger(logger)),
	}, gateway, logger)
	pages := webpage.NewFetcher(webpage.WithTimeout(cfg.FetchTimeout), webpage.WithLogger(logger))

	handler := bot.NewHandler(bot.Deps{
		Commander:  commander,
		Chat:       conversations,
		Images:     imagecache.New(cfg.ImageTTL, imagecache.WithLogger(logger)),
		Imager:     imager,
		Search:     search,
		Market:     market,
		Weather:    weather,
		Summarizer: webpage.NewSummarizer(pages, gateway),
		News:       composer,
		ImageDir:   cfg.ImageDir,
		Logger:     logger,
	})

	p := &poller{
		commander: commander,
		handler:   handler,
		// Jobs outlive the poll context so Close can drain them on shutdown.
		dispatcher:  bot.NewDispatcher(context.WithoutCancel(ctx), bot.WithDispatcherLogger(logger)),
		db:          database,
		events:      events,
		circuit:     control.NewCircuitBreaker(5, 30*time.Second),
		rootID:      rootID,
		timeout:     cfg.Timeout,
		sleep:       time.Duration(cfg.SleepSeconds) * time.Second,
		dropPending: cfg.DropPending,
		logger:      logger.Named("poller"),
		now:         time.Now,
	}

	logger.Info("bot running",
		zap.String("commander", cfg.Commander),
		zap.String("store", cfg.StorePath),
		zap.Int("memory_window", cfg.MemoryWindow),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := personas.Watch(gctx); err != nil {
			logger.Warn("persona watch stopped", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error { return p.run(gctx) })
	err = g.Wait()

	events.log(rootID, db.EventProcessStopped, map[string]any{"instance_id": instanceID})
	logger.Info("bot stopped")
	return err
}

func newCommander(cfg config.BotConfig) (cmdpkg.Commander, error) {
	switch cfg.Commander {
	case "telegram":
		return telegram.NewClient(cfg.TelegramAPIBase, cfg.TelegramFileBase, time.Duration(cfg.Timeout+20)*time.Second), nil
	case "dummy":
		return dummy.NewCommander(cfg.DummyPollScript, cfg.DummySendScript)
	default:
		return nil, fmt.Errorf("unsupported commander: %s", cfg.Commander)
	}
}

// newProviders returns the chat backends in fallback order plus the OpenAI
// client, which also serves images. A dummy script replaces every backend.
func newProviders(ctx context.Context, cfg config.BotConfig) ([]model.Provider, *openai.Client, error) {
	llm := cfg.LLM
	var opts []openai.Option
	if llm.OpenAIBaseURL != "" {
		opts = append(opts, openai.WithBaseURL(llm.OpenAIBaseURL))
	}
	opts = append(opts, openai.WithImageModel(cfg.ImageModel))
	oa := openai.NewClient(llm.OpenAIAPIKey, llm.OpenAIModel, opts...)

	if llm.DummyScript != "" {
		d, err := dummy.NewProvider(llm.DummyScript)
		if err != nil {
			return nil, nil, err
		}
		return []model.Provider{d}, oa, nil
	}

	gm, err := gemini.New(ctx, llm.GeminiAPIKey, llm.GeminiModel)
	if err != nil {
		return nil, nil, err
	}
	return []model.Provider{
		oa,
		anthropic.NewClient(llm.AnthropicAPIKey, llm.AnthropicModel, llm.AnthropicBaseURL, 60*time.Second),
		gm,
	}, oa, nil
}

func loadFeeds(path string) ([]config.Feed, error) {
	if path == "" {
		return config.DefaultFeeds(), nil
	}
	feeds, err := config.LoadFeeds(path)
	if err != nil {
		return nil, fmt.Errorf("load feeds: %w", err)
	}
	return feeds, nil
}

// eventLog writes to the events table. Failures are logged and otherwise
// ignored.
type eventLog struct {
	db     *sql.DB
	logger *zap.Logger
}

func (e eventLog) log(parentID int64, eventType string, payload map[string]any) int64 {
	var parent *int64
	if parentID > 0 {
		parent = &parentID
	}
	id, err := db.LogEvent(e.db, parent, eventType, payload)
	if err != nil {
		e.logger.Warn("log event failed", zap.String("event", eventType), zap.Error(err))
	}
	return id
}
