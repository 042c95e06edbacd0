package cmd

import (
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"mega-relay-bot/internal/config"
	"mega-relay-bot/internal/models"
)

// Flag storage. Whether a flag was actually set is checked via Changed()
// so config file values are only overridden when the user asked for it.
var (
	cfgFile         string
	logLevelFlag    string
	logFormatFlag   string
	logApiFlag      bool
	tokenFlag       string
	downloadDirFlag string
	batchDelayFlag  int
)

// globalConfig holds the loaded configuration for all commands.
var globalConfig models.Config

var rootCmd = &cobra.Command{
	Use:   "mega-relay-bot",
	Short: "A Telegram bot that relays Mega.nz files into chats",
	Long: `Mega Relay Bot watches a Telegram chat for Mega.nz public links,
downloads the referenced files and sends them back into the chat as
documents. Local copies are removed once relayed.`,
	PersistentPreRunE: loadGlobalConfig,
	RunE:              runBot,
	SilenceUsage:      true,
}

// Execute runs the root command. Called once from main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Configuration file path (default is ./config.toml)")
	pf.StringVar(&logLevelFlag, "log-level", config.DefaultLogLevel, "Logging level (trace, debug, info, warn, error, fatal, panic)")
	pf.StringVar(&logFormatFlag, "log-format", config.DefaultLogFormat, "Logging format (text, json)")
	pf.BoolVar(&logApiFlag, "log-api", false, "Log Mega API requests/responses to api.log (overrides config)")
	pf.StringVar(&tokenFlag, "token", "", "Telegram bot token (overrides config)")
	pf.StringVar(&downloadDirFlag, "download-dir", "", "Directory for downloaded files before relay (overrides config)")
	pf.IntVar(&batchDelayFlag, "batch-delay", -1, "Delay between batch items in seconds (overrides config, -1 uses config default)")

	rootCmd.AddCommand(historyCmd)
}

// loadGlobalConfig loads the configuration and initializes logging before
// any command runs.
func loadGlobalConfig(cmd *cobra.Command, _ []string) error {
	flags := config.CliFlags{}
	pf := cmd.Root().PersistentFlags()
	if cfgFile != "" {
		flags.ConfigFilePath = &cfgFile
	}
	if pf.Changed("log-level") {
		flags.LogLevel = &logLevelFlag
	}
	if pf.Changed("log-format") {
		flags.LogFormat = &logFormatFlag
	}
	if pf.Changed("log-api") {
		flags.LogApiRequests = &logApiFlag
	}
	if pf.Changed("token") {
		flags.BotToken = &tokenFlag
	}
	if pf.Changed("download-dir") {
		flags.DownloadDir = &downloadDirFlag
	}
	if pf.Changed("batch-delay") {
		flags.BatchDelaySec = &batchDelayFlag
	}

	cfg, err := config.Initialize(flags)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	globalConfig = cfg

	initLogging(cfg.LogLevel, cfg.LogFormat)
	return nil
}

func initLogging(level, format string) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.Warnf("Invalid log level '%s', falling back to info", level)
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)

	if strings.EqualFold(format, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}
