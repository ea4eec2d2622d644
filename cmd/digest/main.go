// Command digest composes one scheduled digest, posts it to TELEGRAM_CHAT_ID
// and exits. A failed digest posts a short failure notice and exits 1.
//
// Scheduling is left to cron. The production crontab (TZ=Europe/Paris):
//
//	0 10 * * *  digest daily
//	0 14 * * *  digest ai-finance
//	0 19 * * *  digest paris-events
//	0 19 * * *  digest news
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gilbert2046/telegram-digest-bot/internal/anthropic"
	"github.com/gilbert2046/telegram-digest-bot/internal/config"
	"github.com/gilbert2046/telegram-digest-bot/internal/digest"
	"github.com/gilbert2046/telegram-digest-bot/internal/gemini"
	"github.com/gilbert2046/telegram-digest-bot/internal/logging"
	"github.com/gilbert2046/telegram-digest-bot/internal/model"
	"github.com/gilbert2046/telegram-digest-bot/internal/news"
	"github.com/gilbert2046/telegram-digest-bot/internal/openai"
	"github.com/gilbert2046/telegram-digest-bot/internal/telegram"
)

const noticeTimeout = 15 * time.Second

type composer interface {
	Run(ctx context.Context, name string) (string, error)
}

type poster interface {
	SendMarkdown(ctx context.Context, chatID int64, text string) error
}

// app is everything one digest run needs.
type app struct {
	composer composer
	out      poster
	chatID   int64
	timeout  time.Duration
	logger   *zap.Logger
}

type builder func(ctx context.Context) (*app, error)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd(buildApp).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(build builder) *cobra.Command {
	var dryRun bool
	root := &cobra.Command{
		Use:           "digest",
		Short:         "Compose a digest and post it to Telegram",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "print the digest instead of posting it")

	for _, kind := range []struct{ name, short string }{
		{digest.KindDaily, "Quotes, gold, headlines, Paris weather and events"},
		{digest.KindAIFinance, "AI and finance briefing"},
		{digest.KindParisEvents, "What is on in Paris today or this weekend"},
		{digest.KindNews, "Top stories from the last 24 hours of RSS feeds"},
	} {
		name := kind.name
		root.AddCommand(&cobra.Command{
			Use:   name,
			Short: kind.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				a, err := build(cmd.Context())
				if err != nil {
					return err
				}
				if dryRun {
					a.out = printer{w: cmd.OutOrStdout()}
				}
				return a.run(cmd.Context(), name)
			},
		})
	}
	return root
}

func (a *app) run(ctx context.Context, name string) error {
	runCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	started := time.Now()
	text, err := a.composer.Run(runCtx, name)
	if err != nil {
		a.logger.Error("digest failed", zap.String("digest", name), zap.Error(err))
		noticeCtx, cancelNotice := context.WithTimeout(context.WithoutCancel(ctx), noticeTimeout)
		defer cancelNotice()
		if sendErr := a.out.SendMarkdown(noticeCtx, a.chatID, digest.FailureMessage(name, err)); sendErr != nil {
			a.logger.Error("failure notice not sent", zap.Error(sendErr))
		}
		return fmt.Errorf("%s digest: %w", name, err)
	}
	if err := a.out.SendMarkdown(runCtx, a.chatID, text); err != nil {
		return fmt.Errorf("post %s digest: %w", name, err)
	}
	a.logger.Info("digest posted",
		zap.String("digest", name),
		zap.Int("chars", len([]rune(text))),
		zap.Duration("elapsed", time.Since(started)),
	)
	return nil
}

type printer struct{ w io.Writer }

func (p printer) SendMarkdown(_ context.Context, _ int64, text string) error {
	_, err := fmt.Fprintln(p.w, text)
	return err
}

func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadDigestConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	gateway, err := newGateway(ctx, cfg.LLM, logger)
	if err != nil {
		return nil, err
	}
	feeds := config.DefaultFeeds()
	if cfg.NewsFeedsFile != "" {
		if feeds, err = config.LoadFeeds(cfg.NewsFeedsFile); err != nil {
			return nil, fmt.Errorf("load feeds: %w", err)
		}
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	src := digest.Sources{
		Search:  digest.NewTavily(cfg.TavilyAPIKey, digest.WithHTTPClient(httpClient), digest.WithLogger(logger)),
		Market:  digest.NewAlphaVantage(cfg.AlphaVantageAPIKey, digest.WithHTTPClient(httpClient), digest.WithLogger(logger)),
		Weather: digest.NewOpenMeteo(digest.WithHTTPClient(httpClient), digest.WithLogger(logger)),
		News:    news.NewFetcher(feeds, news.WithHTTPClient(httpClient), news.WithLogger(logger)),
	}
	return &app{
		composer: digest.NewComposer(src, gateway, logger),
		out:      telegram.NewClient(cfg.TelegramAPIBase, "", 30*time.Second),
		chatID:   cfg.ChatID,
		timeout:  cfg.RequestTimeout,
		logger:   logger.Named("digest"),
	}, nil
}

func newGateway(ctx context.Context, llm config.LLMConfig, logger *zap.Logger) (*model.Gateway, error) {
	var opts []openai.Option
	if llm.OpenAIBaseURL != "" {
		opts = append(opts, openai.WithBaseURL(llm.OpenAIBaseURL))
	}
	gm, err := gemini.New(ctx, llm.GeminiAPIKey, llm.GeminiModel)
	if err != nil {
		return nil, err
	}
	providers := []model.Provider{
		openai.NewClient(llm.OpenAIAPIKey, llm.OpenAIModel, opts...),
		anthropic.NewClient(llm.AnthropicAPIKey, llm.AnthropicModel, llm.AnthropicBaseURL, 60*time.Second),
		gm,
	}
	return model.NewGateway(providers, model.WithPreferred(llm.PreferredProvider), model.WithLogger(logger)), nil
}
