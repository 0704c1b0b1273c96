// Command server runs the Salla verification bot: the Telegram conversation
// loop, the Salla webhook and OAuth HTTP surface, and the background runner.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/salahWD/salla-verify-bot/internal/api"
	"github.com/salahWD/salla-verify-bot/internal/bot"
	"github.com/salahWD/salla-verify-bot/internal/cache"
	"github.com/salahWD/salla-verify-bot/internal/config"
	"github.com/salahWD/salla-verify-bot/internal/credstore"
	"github.com/salahWD/salla-verify-bot/internal/directory"
	"github.com/salahWD/salla-verify-bot/internal/mailbox"
	"github.com/salahWD/salla-verify-bot/internal/metrics"
	"github.com/salahWD/salla-verify-bot/internal/replies"
	"github.com/salahWD/salla-verify-bot/internal/runner"
	"github.com/salahWD/salla-verify-bot/internal/runner/tasks"
	"github.com/salahWD/salla-verify-bot/internal/salla"
	"github.com/salahWD/salla-verify-bot/internal/verify"
)

var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "sallabot",
	Short: "Order verification assistant for Salla stores",
	RunE:  runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot, HTTP server and background tasks",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sallabot %s\n", version)
	},
}

var checkDirectoryCmd = &cobra.Command{
	Use:   "check-directory",
	Short: "Validate the username directory spreadsheet and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := config.Load(configPath, nil)
		if err != nil {
			return err
		}
		dir, err := directory.Load(manager.Config().Directory.Path)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d aliases\n", manager.Config().Directory.Path, dir.Len())
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(checkDirectoryCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := log.New(os.Stdout, "[sallabot] ", log.LstdFlags)

	manager, err := config.Load(configPath, logger)
	if err != nil {
		return err
	}
	manager.Watch()
	cfg := manager.Config()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := credstore.NewFileStore(cfg.Store.Dir)
	if err != nil {
		return err
	}

	var statusCache cache.Store
	if cfg.Cache.Backend == "redis" {
		redisCache, err := cache.NewRedis(ctx, cache.RedisConfig{
			Addr:       cfg.Cache.Redis.Addr,
			Password:   cfg.Cache.Redis.Password,
			DB:         cfg.Cache.Redis.DB,
			KeyPrefix:  "sallabot:",
			DefaultTTL: cfg.Cache.TTL,
		})
		if err != nil {
			return err
		}
		defer redisCache.Close()
		statusCache = redisCache
	} else {
		local := cache.NewLocal(cfg.Cache.TTL)
		defer local.Close()
		statusCache = local
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	instruments := metrics.New(registry)

	sallaClient := salla.NewClient(store,
		salla.WithBaseURL(cfg.Salla.BaseURL),
		salla.WithTokenURL(cfg.Salla.TokenURL),
		salla.WithAppCredentials(cfg.Salla.ClientID, cfg.Salla.ClientSecret),
		salla.WithAccountID(cfg.Salla.AccountID),
		salla.WithCompletedLabel(cfg.Salla.CompletedLabel),
		salla.WithCache(statusCache, cfg.Cache.TTL),
		salla.WithLogger(logger),
	)

	reloader, err := directory.NewReloader(cfg.Directory.Path, directory.WithReloaderLogger(logger))
	if err != nil {
		return fmt.Errorf("load username directory: %w", err)
	}

	catalog := replies.Default()
	if cfg.Replies.Path != "" {
		catalog, err = replies.LoadFile(cfg.Replies.Path, logger)
		if err != nil {
			return err
		}
	}

	factory := buildMailboxFactory(cfg, logger)
	poller := verify.NewPoller(store, factory,
		verify.WithExtractor(verify.NewExtractor(cfg.Verify.MinCodeLen, cfg.Verify.MaxCodeLen)),
		verify.WithSearchTerm(cfg.Mailbox.SearchTerm),
		verify.WithLogger(logger),
		verify.WithMetrics(instruments),
	)

	server, err := api.NewServer(store,
		api.WithDirectory(reloader),
		api.WithMetrics(instruments, registry),
		api.WithLogger(logger),
		api.WithPlatformAccountID(cfg.Salla.AccountID),
		api.WithGoogleOAuth(api.GoogleOAuthConfig{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.Google.RedirectURL,
			StateSecret:  cfg.Google.StateSecret,
			StateTTL:     cfg.Google.StateTTL,
		}),
	)
	if err != nil {
		return err
	}

	taskRegistry := runner.NewRegistry()
	taskRegistry.Register(tasks.NewTokenRefresh(sallaClient, cfg.Salla.RefreshSchedule, cfg.Salla.RefreshLead, logger))
	taskRegistry.Register(tasks.NewDirectoryReload(reloader, cfg.Directory.ReloadSchedule, logger))

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: server.Handler(),
	}

	errCh := make(chan error, 3)

	go func() {
		logger.Printf("http: listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	go func() {
		if err := runner.New(taskRegistry, logger).Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("runner: %w", err)
		}
	}()

	if cfg.Telegram.Token != "" {
		tg, err := bot.New(cfg.Telegram.Token, logger)
		if err != nil {
			return err
		}
		sessions := bot.NewManager(tg.Sender(), catalog, sallaClient, reloader, poller,
			bot.WithManagerLogger(logger),
			bot.WithManagerMetrics(instruments),
			bot.WithAccountType(cfg.Mailbox.AccountType),
			bot.WithPollWindow(cfg.Verify.Deadline, cfg.Verify.Interval),
		)
		go func() {
			if err := tg.Run(ctx, sessions); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("telegram: %w", err)
			}
		}()
	} else {
		logger.Printf("telegram: no token configured, chat bot disabled")
	}

	select {
	case <-ctx.Done():
		logger.Printf("shutting down")
	case err := <-errCh:
		stop()
		logger.Printf("fatal: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("http shutdown: %v", err)
	}
	return nil
}

// buildMailboxFactory registers a connector per configured protocol. Gmail is
// always available; IMAP and POP3 join when their hosts are set.
func buildMailboxFactory(cfg *config.Config, logger *log.Logger) mailbox.Factory {
	opts := []mailbox.FactoryOption{
		mailbox.WithFetcher(mailbox.NewGmailFetcher(mailbox.WithGmailLogger(logger)), "gmail"),
	}
	if cfg.Mailbox.IMAP.Host != "" {
		opts = append(opts, mailbox.WithFetcher(
			mailbox.NewIMAPFetcher(cfg.Mailbox.IMAP.Host, cfg.Mailbox.IMAP.Port,
				mailbox.WithIMAPFolder(cfg.Mailbox.IMAP.Folder),
				mailbox.WithIMAPLogger(logger),
			), "imap", "imaps"))
	}
	if cfg.Mailbox.POP3.Host != "" {
		opts = append(opts, mailbox.WithFetcher(
			mailbox.NewPOP3Fetcher(cfg.Mailbox.POP3.Host, cfg.Mailbox.POP3.Port,
				mailbox.WithPOP3TLS(cfg.Mailbox.POP3.TLS),
				mailbox.WithPOP3Logger(logger),
			), "pop3", "pop3s"))
	}
	return mailbox.NewFactory(opts...)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
