package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"mega-relay-bot/internal/models"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Default values for configuration
const (
	DefaultDownloadDir         = "downloads"
	DefaultBatchDelaySec       = 2
	DefaultPollTimeoutSec      = 30
	DefaultAPIClientTimeoutSec = 60
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
	DefaultConfigFilePath      = "config.toml"

	// PlaceholderToken is the value shipped in the example config. The bot
	// refuses to start while the token still has this value.
	PlaceholderToken = "YOUR_BOT_TOKEN_HERE"
)

// CliFlags holds pointers to values received from command-line flags.
// Nil fields indicate the flag was not provided by the user.
type CliFlags struct {
	ConfigFilePath *string
	LogLevel       *string // --log-level
	LogFormat      *string // --log-format
	LogApiRequests *bool   // --log-api
	BotToken       *string // --token
	DownloadDir    *string // --download-dir
	BatchDelaySec  *int    // --batch-delay
}

// setViperDefaults configures Viper with the application's default values.
func setViperDefaults(v *viper.Viper) {
	v.SetDefault("bottoken", PlaceholderToken)
	v.SetDefault("authorizedusers", []int64{})
	v.SetDefault("downloaddir", DefaultDownloadDir)
	v.SetDefault("historypath", "")
	v.SetDefault("batchdelaysec", DefaultBatchDelaySec)
	v.SetDefault("polltimeoutsec", DefaultPollTimeoutSec)
	v.SetDefault("apiclienttimeoutsec", DefaultAPIClientTimeoutSec)
	v.SetDefault("logapirequests", false)
	v.SetDefault("loglevel", DefaultLogLevel)
	v.SetDefault("logformat", DefaultLogFormat)
}

// Initialize loads configuration based on defaults, config file, environment
// and flags. Precedence: Flags > Environment > Config File > Defaults.
func Initialize(flags CliFlags) (models.Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MEGARELAY")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	setViperDefaults(v)

	actualConfigFilePath := DefaultConfigFilePath
	if flags.ConfigFilePath != nil && *flags.ConfigFilePath != "" {
		actualConfigFilePath = *flags.ConfigFilePath
	}
	v.SetConfigFile(actualConfigFilePath)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Warnf("Config file '%s' not found. Using defaults, environment and flags only.", actualConfigFilePath)
		} else {
			log.Warnf("Error reading config file '%s': %v. Using defaults, environment and flags only.", actualConfigFilePath, err)
		}
	} else {
		log.Infof("Using config file: %s", v.ConfigFileUsed())
	}

	var cfg models.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return models.Config{}, fmt.Errorf("failed to unmarshal config from viper: %w", err)
	}

	// --- CLI flag overrides ---
	if flags.BotToken != nil && *flags.BotToken != "" {
		cfg.BotToken = *flags.BotToken
	}
	if flags.DownloadDir != nil && *flags.DownloadDir != "" {
		cfg.DownloadDir = *flags.DownloadDir
	}
	if flags.BatchDelaySec != nil && *flags.BatchDelaySec >= 0 {
		cfg.BatchDelaySec = *flags.BatchDelaySec
	}
	if flags.LogApiRequests != nil {
		cfg.LogApiRequests = *flags.LogApiRequests
	}
	if flags.LogLevel != nil {
		cfg.LogLevel = *flags.LogLevel
	}
	if flags.LogFormat != nil {
		cfg.LogFormat = *flags.LogFormat
	}

	// --- Derive default paths ---
	if cfg.HistoryPath == "" {
		cfg.HistoryPath = filepath.Join(cfg.DownloadDir, "history")
	}

	// --- Validation ---
	if cfg.DownloadDir == "" {
		return models.Config{}, fmt.Errorf("DownloadDir cannot be empty (set via --download-dir flag or DownloadDir in config)")
	}
	if cfg.BatchDelaySec < 0 {
		return models.Config{}, fmt.Errorf("BatchDelaySec cannot be negative")
	}
	if cfg.PollTimeoutSec <= 0 {
		cfg.PollTimeoutSec = DefaultPollTimeoutSec
	}
	if cfg.APIClientTimeoutSec <= 0 {
		cfg.APIClientTimeoutSec = DefaultAPIClientTimeoutSec
	}

	log.Debug("Configuration initialized successfully.")
	return cfg, nil
}

// TokenConfigured reports whether a usable bot token is present, i.e. the
// token is non-empty and no longer the placeholder from the example config.
func TokenConfigured(cfg models.Config) bool {
	token := strings.TrimSpace(cfg.BotToken)
	return token != "" && token != PlaceholderToken
}
