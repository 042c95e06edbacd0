package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"mega-relay-bot/internal/bot"
	"mega-relay-bot/internal/config"
	"mega-relay-bot/internal/helpers"
	"mega-relay-bot/internal/history"
	"mega-relay-bot/internal/mega"
	"mega-relay-bot/internal/relay"
)

const setupInstructions = `Bot token is not configured.

1. Open Telegram and talk to @BotFather
2. Send /newbot and follow the prompts to create your bot
3. Copy the token BotFather gives you and put it in config.toml:

     BotToken = "123456789:AAF..."

   or export it as MEGARELAY_BOTTOKEN.
4. Add your numeric Telegram user ID to AuthorizedUsers in config.toml
   so the bot will accept your messages.`

// runBot is the root command's action: connect, poll and relay until
// interrupted.
func runBot(_ *cobra.Command, _ []string) error {
	cfg := globalConfig

	if !config.TokenConfigured(cfg) {
		fmt.Fprintln(os.Stderr, setupInstructions)
		return errors.New("bot token is not configured")
	}
	if !helpers.CheckAndMakeDir(cfg.DownloadDir) {
		return fmt.Errorf("could not create download directory %s", cfg.DownloadDir)
	}
	if len(cfg.AuthorizedUsers) == 0 {
		log.Warn("AuthorizedUsers is empty, every incoming message will be rejected")
	}

	apiClient := &http.Client{Timeout: time.Duration(cfg.APIClientTimeoutSec) * time.Second}
	if cfg.LogApiRequests {
		logPath := filepath.Join(cfg.DownloadDir, "api.log")
		transport, err := mega.NewLoggingTransport(http.DefaultTransport, logPath)
		if err != nil {
			log.WithError(err).Error("Failed to initialize API logging transport, continuing without it")
		} else {
			log.Infof("Mega API traffic logged to %s", logPath)
			apiClient.Transport = transport
			defer transport.Close()
		}
	}
	megaClient := mega.NewClient(apiClient, nil)

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return fmt.Errorf("connecting to Telegram: %w", err)
	}
	log.Infof("Authorized on account @%s", api.Self.UserName)

	var hist *history.Store
	if cfg.HistoryPath != "" {
		hist, err = history.Open(cfg.HistoryPath)
		if err != nil {
			log.WithError(err).Warn("Transfer history disabled")
			hist = nil
		} else {
			defer hist.Close()
		}
	}

	messenger := bot.NewMessenger(api)
	svc := relay.New(megaClient, messenger, cfg.DownloadDir, time.Duration(cfg.BatchDelaySec)*time.Second, hist)
	b := bot.New(api, messenger, svc, hist, cfg.AuthorizedUsers, cfg.PollTimeoutSec)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("Shutting down")
	return nil
}
